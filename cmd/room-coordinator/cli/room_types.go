package cli

import (
	"encoding/json"

	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/spf13/cobra"
)

var roomTypesCmd = &cobra.Command{
	Use:   "room-types [type]",
	Short: "Print the built-in room configurations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := roomconfig.DefaultRegistry()

		types := registry.Types()
		if len(args) == 1 {
			types = args
		}

		configs := make(map[string]roomconfig.RoomConfig, len(types))
		for _, roomType := range types {
			config, err := registry.Get(roomType)
			if err != nil {
				return err
			}
			configs[roomType] = config
		}

		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(configs)
	},
}
