package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/romashorodok/room-coordinator/internal/entitystore"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/spf13/cobra"
)

// withStore opens ENTITY_STORE_DSN for the duration of fn.
func withStore(fn func(cmd *cobra.Command, store *entitystore.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, err := entitystore.Open(cfg.EntityStoreDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, store, args)
	}
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the entity store used by standalone deployments",
}

var storeRoomFlags struct {
	roomType string
	host     string
	override string
}

var storeRoomCmd = &cobra.Command{
	Use:   "room <id>",
	Short: "Record a room so it can be joined without being created first",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store *entitystore.Store, args []string) error {
		if _, err := roomconfig.DefaultRegistry().Get(storeRoomFlags.roomType); err != nil {
			return err
		}

		var override *roomconfig.Override
		if storeRoomFlags.override != "" {
			override = &roomconfig.Override{}
			if err := json.Unmarshal([]byte(storeRoomFlags.override), override); err != nil {
				return fmt.Errorf("parse override: %w", err)
			}
		}

		err := store.CreateRoom(cmd.Context(), entitystore.Room{
			ID:        args[0],
			RoomType:  storeRoomFlags.roomType,
			HostID:    storeRoomFlags.host,
			Override:  override,
			CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "room %s recorded\n", args[0])
		return err
	}),
}

var storeEnrollCmd = &cobra.Command{
	Use:   "enroll <user> <resource>",
	Short: "Enroll a user in a resource",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, store *entitystore.Store, args []string) error {
		if err := store.Enroll(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s enrolled in %s\n", args[0], args[1])
		return err
	}),
}

var storeCreditCmd = &cobra.Command{
	Use:   "credit <user> <delta>",
	Short: "Add credits to a user balance; negative deltas deduct",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, store *entitystore.Store, args []string) error {
		var delta int64
		if _, err := fmt.Sscan(args[1], &delta); err != nil {
			return fmt.Errorf("parse delta %q: %w", args[1], err)
		}
		balance, err := store.AddCredits(cmd.Context(), args[0], delta)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s balance %d\n", args[0], balance)
		return err
	}),
}

var storeGrantCmd = &cobra.Command{
	Use:   "grant <user> <role>",
	Short: "Grant a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, store *entitystore.Store, args []string) error {
		if err := store.GrantRole(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s granted %s\n", args[0], args[1])
		return err
	}),
}

func init() {
	storeRoomCmd.Flags().StringVar(&storeRoomFlags.roomType, "type", "meeting", "room type")
	storeRoomCmd.Flags().StringVar(&storeRoomFlags.host, "host", "", "host user id")
	storeRoomCmd.Flags().StringVar(&storeRoomFlags.override, "override", "", "JSON room config override")

	storeCmd.AddCommand(storeRoomCmd, storeEnrollCmd, storeCreditCmd, storeGrantCmd)
}
