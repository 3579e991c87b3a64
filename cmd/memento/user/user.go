// Package usercmder provides the user command for switching the active user
// namespace on this machine.
package usercmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mementolabs/memento/pkg/config"
	"github.com/mementolabs/memento/pkg/dotdir"
)

const userLongDesc string = `Show or switch the active user namespace.

Without arguments, prints the namespace the local server and MCP surface
act as. With a user id, persists it to .memento/session.json where it
overrides the configured memory.default_user until cleared.

Examples:
  memento user            Show the active namespace
  memento user alice      Act as "alice" from now on
  memento user --clear    Fall back to the configured default`

const userShortDesc string = "Show or switch the active user namespace"

func NewUserCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "user [user-id]",
		Short: userShortDesc,
		Long:  userLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			ddm := dotdir.NewManager()

			if clear {
				if len(args) > 0 {
					return fmt.Errorf("cannot combine --clear with a user id")
				}
				if err := ddm.ClearSession(configDir); err != nil {
					return err
				}
				fmt.Println("Session cleared")
				return nil
			}

			if len(args) == 1 {
				state := &dotdir.SessionState{UserID: args[0]}
				if err := ddm.SaveSession(state, configDir); err != nil {
					return err
				}
				fmt.Printf("Active user namespace: %s\n", state.UserID)
				return nil
			}

			state, err := ddm.LoadSessionState(configDir)
			if err != nil {
				return err
			}
			if state != nil && state.UserID != "" {
				fmt.Printf("Active user namespace: %s (session)\n", state.UserID)
				return nil
			}

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			fmt.Printf("Active user namespace: %s (configured default)\n", v.GetString("memory.default_user"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the session and fall back to the configured default")

	return cmd
}
