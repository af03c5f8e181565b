package study

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/conjoint"
	"github.com/KaramelBytes/surveylens/internal/utils"
	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the study file looked up inside a study directory.
	FileName = "study.yaml"
	// Version is written into new study files.
	Version = "1.0.0"
	// supportedVersions is the semver range this build reads.
	supportedVersions = "^1"
)

// Study is the user-declared configuration of one survey analysis.
type Study struct {
	Version     string    `yaml:"version" json:"version" jsonschema:"required,description=Study file format version (semver)"`
	ID          string    `yaml:"id" json:"id" jsonschema:"format=uuid"`
	Name        string    `yaml:"name" json:"name" jsonschema:"required"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Dataset     string    `yaml:"dataset" json:"dataset" jsonschema:"required,description=Path to the survey table; relative paths resolve against the study file"`
	Conjoint    *Conjoint `yaml:"conjoint,omitempty" json:"conjoint,omitempty"`
	Factor      *Factor   `yaml:"factor,omitempty" json:"factor,omitempty"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`

	// Not serialized: on-disk location of the study file
	path string
}

// Conjoint configures the conjoint pipeline.
type Conjoint struct {
	Exclude     []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Dependent   string   `yaml:"dependent,omitempty" json:"dependent,omitempty" jsonschema:"description=Preference column; defaults to the last column"`
	Independent []string `yaml:"independent,omitempty" json:"independent,omitempty" jsonschema:"description=Level columns; default to every other column"`

	Attributes     []conjoint.Attribute `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	PriceAttribute string               `yaml:"price_attribute,omitempty" json:"price_attribute,omitempty"`
	PriceRange     float64              `yaml:"price_range,omitempty" json:"price_range,omitempty" jsonschema:"minimum=0,description=Max minus min observed price"`

	// Selection is one level per attribute to score.
	Selection []string `yaml:"selection,omitempty" json:"selection,omitempty"`
	Product   string   `yaml:"product,omitempty" json:"product,omitempty" jsonschema:"description=Simulated product id to detail, e.g. Product_3"`
	Match     []string `yaml:"match,omitempty" json:"match,omitempty" jsonschema:"description=One level per non-price attribute to locate a product"`
}

// Factor configures the factor pipeline.
type Factor struct {
	Exclude   []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	NFactors  int      `yaml:"n_factors,omitempty" json:"n_factors,omitempty" jsonschema:"minimum=0,description=0 uses the Kaiser criterion"`
	Rotation  string   `yaml:"rotation,omitempty" json:"rotation,omitempty" jsonschema:"enum=varimax,enum=none"`
	// Threshold is the high-loading cutoff; unset falls back to the global setting.
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty" jsonschema:"minimum=0,maximum=1"`
	Force     bool     `yaml:"force,omitempty" json:"force,omitempty" jsonschema:"description=Proceed when the adequacy tests fail"`
	Pair      []string `yaml:"pair,omitempty" json:"pair,omitempty" jsonschema:"minItems=2,maxItems=2"`
}

// New constructs an in-memory study. Call Save() to persist.
func New(name, dataset, dir string) *Study {
	now := time.Now()
	return &Study{
		Version:   Version,
		ID:        uuid.NewString(),
		Name:      name,
		Dataset:   dataset,
		CreatedAt: now,
		UpdatedAt: now,
		path:      filepath.Join(dir, FileName),
	}
}

// Load reads a study from a study file or a directory containing one.
func Load(path string) (*Study, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("study not found at %s: %w", path, err)
		}
		return nil, fmt.Errorf("read study: %w", err)
	}
	var s Study
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse study: %w", err)
	}
	s.path = path
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Path returns the on-disk location of the study file.
func (s *Study) Path() string { return s.path }

// Save writes the study file using atomic write.
func (s *Study) Save() error {
	if s.path == "" {
		return errors.New("study path not set")
	}
	if err := utils.EnsureDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	s.UpdatedAt = time.Now()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal study: %w", err)
	}
	return utils.SafeWriteFile(s.path, data)
}

// DatasetPath resolves Dataset against the study file's directory.
func (s *Study) DatasetPath() string {
	if s.Dataset == "" || filepath.IsAbs(s.Dataset) || s.path == "" {
		return s.Dataset
	}
	return filepath.Join(filepath.Dir(s.path), s.Dataset)
}

// Validate checks the declared configuration before any data is read.
func (s *Study) Validate() error {
	const op = "validate study"
	if s.Version == "" {
		return analysis.Preconditionf(op, "version is required")
	}
	v, err := semver.NewVersion(s.Version)
	if err != nil {
		return analysis.Preconditionf(op, "invalid version %q: %v", s.Version, err)
	}
	c, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return fmt.Errorf("version constraint: %w", err)
	}
	if !c.Check(v) {
		return analysis.Preconditionf(op, "study version %s is not supported (need %s)", v, supportedVersions)
	}
	if s.ID != "" {
		if _, err := uuid.Parse(s.ID); err != nil {
			return analysis.Preconditionf(op, "id %q is not a uuid", s.ID)
		}
	}
	if strings.TrimSpace(s.Name) == "" {
		return analysis.Preconditionf(op, "name is required")
	}
	if strings.TrimSpace(s.Dataset) == "" {
		return analysis.Preconditionf(op, "dataset is required")
	}
	if s.Conjoint != nil {
		if err := s.Conjoint.validate(); err != nil {
			return err
		}
	}
	if s.Factor != nil {
		if err := s.Factor.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conjoint) validate() error {
	const op = "validate study"
	for _, x := range c.Independent {
		if x == c.Dependent && x != "" {
			return analysis.Preconditionf(op, "dependent variable %q is also selected as independent", x)
		}
	}
	if c.PriceRange < 0 {
		return analysis.Preconditionf(op, "price_range must be positive, got %v", c.PriceRange)
	}
	if c.PriceAttribute != "" {
		found := false
		for _, a := range c.Attributes {
			found = found || a.Name == c.PriceAttribute
		}
		if !found {
			return analysis.Preconditionf(op, "price_attribute %q is not among the attributes", c.PriceAttribute)
		}
	}
	return nil
}

func (f *Factor) validate() error {
	const op = "validate study"
	if f.NFactors < 0 {
		return analysis.Preconditionf(op, "n_factors must be >= 0, got %d", f.NFactors)
	}
	switch strings.ToLower(f.Rotation) {
	case "", "none", "varimax":
	default:
		return analysis.Preconditionf(op, "rotation must be varimax or none, got %q", f.Rotation)
	}
	if f.Threshold != nil && (*f.Threshold < 0 || *f.Threshold > 1) {
		return analysis.Preconditionf(op, "threshold must be in [0,1], got %v", *f.Threshold)
	}
	if len(f.Pair) != 0 && len(f.Pair) != 2 {
		return analysis.Preconditionf(op, "pair needs exactly two factors, got %d", len(f.Pair))
	}
	return nil
}

// Find walks up from start looking for a study file.
func Find(start string) (string, error) {
	return utils.FindUp(start, FileName)
}
