package commands

import (
	"fmt"
	"text/tabwriter"

	"os"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List pairing sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{Type: "list-sessions"})
		if err != nil {
			return err
		}
		if len(resp.Sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tALIAS\tTYPE\tSTATUS\tACTIVE\tTEMPLATE")
		for _, s := range resp.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", s.ID, s.Alias, s.Type, s.Status, s.Active, s.Template)
		}
		return w.Flush()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session without deleting its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "stop-session", SessionID: args[0]}); err != nil {
			return err
		}
		fmt.Println("session stopped")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Stop a session and delete its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "delete-session", SessionID: args[0]}); err != nil {
			return err
		}
		fmt.Println("session deleted")
		return nil
	},
}

var renameAlias string

var renameCmd = &cobra.Command{
	Use:   "rename <session-id>",
	Short: "Rename a session's alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "rename-session", SessionID: args[0], Alias: renameAlias}); err != nil {
			return err
		}
		fmt.Println("session renamed")
		return nil
	},
}

var templateCmd = &cobra.Command{
	Use:   "set-template <session-id> <policy-id>",
	Short: "Swap a session's policy template",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(request{Type: "update-session-template", SessionID: args[0], Template: args[1]}); err != nil {
			return err
		}
		fmt.Println("template updated")
		return nil
	},
}

func init() {
	renameCmd.Flags().StringVar(&renameAlias, "alias", "", "new alias")
	renameCmd.MarkFlagRequired("alias")
}
