package cmd

import (
	"github.com/joeydtaylor/composr/pkg/serverfx"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a composr node",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, _ []string) error {
		app := fx.New(serverfx.Module(serverfx.Options{ConfigPath: cfgFile, Version: Version}))
		if err := app.Err(); err != nil {
			return err
		}
		// blocks until SIGINT/SIGTERM, then runs the stop hooks
		app.Run()
		return nil
	},
}
