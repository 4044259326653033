package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	bunkerAlias    string
	bunkerRelays   []string
	bunkerSecret   string
	bunkerAuto     bool
	bunkerTemplate string
)

var bunkerCmd = &cobra.Command{
	Use:   "bunker <key-id>",
	Short: "Start a new bunker pairing session and print its bunker:// URI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{
			Type:        "start-bunker",
			KeyID:       args[0],
			Alias:       bunkerAlias,
			Relays:      bunkerRelays,
			Secret:      bunkerSecret,
			AutoApprove: bunkerAuto,
			Template:    bunkerTemplate,
		})
		if err != nil {
			return err
		}
		fmt.Println("session:", resp.SessionID)
		fmt.Println("uri:", resp.BunkerURI)
		return nil
	},
}

var (
	connectAlias    string
	connectRelays   []string
	connectAuto     bool
	connectTemplate string
)

var connectCmd = &cobra.Command{
	Use:   "connect <key-id> <nostrconnect-uri>",
	Short: "Pair with a client-initiated nostrconnect:// URI",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{
			Type:        "start-nostr-connect",
			KeyID:       args[0],
			URI:         args[1],
			Alias:       connectAlias,
			Relays:      connectRelays,
			AutoApprove: connectAuto,
			Template:    connectTemplate,
		})
		if err != nil {
			return err
		}
		fmt.Println("session:", resp.SessionID)
		return nil
	},
}

func init() {
	bunkerCmd.Flags().StringVar(&bunkerAlias, "alias", "", "human-readable session label")
	bunkerCmd.Flags().StringSliceVar(&bunkerRelays, "relay", nil, "relay URL (repeatable)")
	bunkerCmd.Flags().StringVar(&bunkerSecret, "secret", "", "pairing secret (generated if omitted)")
	bunkerCmd.Flags().BoolVar(&bunkerAuto, "auto-approve", false, "auto-approve every request regardless of policy")
	bunkerCmd.Flags().StringVar(&bunkerTemplate, "template", "", "policy template id (default: login-and-publish)")

	connectCmd.Flags().StringVar(&connectAlias, "alias", "", "human-readable session label")
	connectCmd.Flags().StringSliceVar(&connectRelays, "relay", nil, "relay URL (repeatable)")
	connectCmd.Flags().BoolVar(&connectAuto, "auto-approve", false, "auto-approve every request regardless of policy")
	connectCmd.Flags().StringVar(&connectTemplate, "template", "", "policy template id (default: login-and-publish)")
}
