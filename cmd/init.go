package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/surveylens/internal/study"
	"github.com/KaramelBytes/surveylens/internal/utils"
	"github.com/spf13/cobra"
)

var (
	initDescription string
	initDataset     string
	initDir         string
	initDependent   string
	initNFactors    int
)

var initCmd = &cobra.Command{
	Use:   "init <study-name>",
	Short: "Initialize a new study file",
	Long: `Create a study.yaml declaring the dataset and the conjoint and factor settings.
The study is created under the studies directory (see 'config show') unless --dir is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if initDataset == "" {
			return errors.New("--dataset is required")
		}
		dir := initDir
		if dir == "" {
			root, err := defaultStudiesDir()
			if err != nil {
				return err
			}
			dir = filepath.Join(root, name)
		}
		// Refuse to overwrite an existing study.
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if _, err := os.Stat(filepath.Join(dir, study.FileName)); err == nil {
				return fmt.Errorf("study already exists at %s", dir)
			}
		} else if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat study directory: %w", err)
		}
		dataset := initDataset
		if !filepath.IsAbs(dataset) {
			abs, err := filepath.Abs(dataset)
			if err != nil {
				return fmt.Errorf("resolve dataset: %w", err)
			}
			dataset = abs
		}
		s := study.New(name, dataset, dir)
		s.Description = initDescription
		s.Conjoint = &study.Conjoint{Dependent: initDependent}
		rotation := "varimax"
		if cfg != nil && cfg.Rotation != "" {
			rotation = cfg.Rotation
		}
		s.Factor = &study.Factor{NFactors: initNFactors, Rotation: rotation}
		if err := s.Validate(); err != nil {
			return err
		}
		if err := s.Save(); err != nil {
			return err
		}
		successf(cmd.OutOrStdout(), "Study initialized: %s", s.Path())
		return nil
	},
}

func defaultStudiesDir() (string, error) {
	var dir string
	if cfg != nil && cfg.StudiesDir != "" {
		dir = cfg.StudiesDir
		if strings.HasPrefix(dir, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home dir: %w", err)
			}
			dir = strings.TrimPrefix(dir, "~")
			dir = strings.TrimPrefix(dir, string(os.PathSeparator))
			dir = strings.TrimPrefix(dir, "/")
			dir = filepath.Join(home, dir)
		}
		dir = filepath.Clean(dir)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".surveylens", "studies")
	}
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// resolveStudy accepts a study file, a directory holding one, or a study name
// under the studies directory. An empty ref searches upward from the working
// directory.
func resolveStudy(ref string) (*study.Study, error) {
	if ref == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
		path, err := study.Find(wd)
		if err != nil {
			return nil, err
		}
		return study.Load(path)
	}
	if _, err := os.Stat(ref); err == nil {
		return study.Load(ref)
	}
	root, err := defaultStudiesDir()
	if err != nil {
		return nil, err
	}
	return study.Load(filepath.Join(root, ref))
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initDescription, "desc", "d", "", "study description")
	initCmd.Flags().StringVar(&initDataset, "dataset", "", "path to the survey table")
	initCmd.Flags().StringVar(&initDir, "dir", "", "directory for study.yaml (default: <studies_dir>/<name>)")
	initCmd.Flags().StringVar(&initDependent, "dependent", "", "conjoint preference column (default: last column)")
	initCmd.Flags().IntVar(&initNFactors, "n-factors", 0, "number of factors (0 = Kaiser criterion)")
}
