package cmd

import (
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "composr",
	Short: "composr - runtime-defined HTTP endpoints",
	Long: `composr serves HTTP endpoints whose handlers are scripts registered at
runtime. Definitions are loaded from the origin store on start and kept in
sync across nodes through the event bus.

With no configuration a node starts with an empty registry and no bus. To
join a fleet set origin.base_url (ORIGIN_BASE_URL), bus.driver (BUS_DRIVER=amqp
or kafka) and bootstrap.enabled (BOOTSTRAP_ENABLED=true).`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $COMPOSR_CONFIG or ./composr.toml)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}
