package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that intercessiod is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{Type: "ping"})
		if err != nil {
			return err
		}
		fmt.Printf("intercessiod is reachable (version %s)\n", resp.Version)
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask intercessiod to shut down gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "shutdown"}); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	},
}
