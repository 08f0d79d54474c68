package cli

import (
	"github.com/romashorodok/room-coordinator/pkg/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and the websocket gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(service.Options(cfg))
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}
