package cli

import (
	"github.com/romashorodok/room-coordinator/pkg/variables"
	"github.com/spf13/cobra"
)

var cfg variables.Config

var rootCmd = &cobra.Command{
	Use:           "room-coordinator",
	Short:         "Room coordination layer for real-time sessions",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := variables.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, roomTypesCmd, tokenCmd, storeCmd)
}
