package cmd

import (
	"github.com/KaramelBytes/surveylens/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
	serveCORS bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve analysis sessions over HTTP",
	Long: `Start the HTTP API. Each uploaded table opens an independent session holding
its own conjoint and factor models. Prometheus metrics are exposed at /metrics
unless server_metrics is false.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := server.ConfigFrom(cfg)
		if cmd.Flags().Changed("host") {
			c.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			c.Port = servePort
		}
		c.EnableCORS = serveCORS
		return server.New(c).StartWithGracefulShutdown()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", false, "enable CORS for browser clients")
}
