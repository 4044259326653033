package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{Type: "list-activity"})
		if err != nil {
			return err
		}
		if len(resp.Activity) == 0 {
			fmt.Println("No activity yet.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tSESSION\tCLIENT\tSUMMARY")
		for _, e := range resp.Activity {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Type, e.SessionLabel, e.Client, e.Summary)
		}
		return w.Flush()
	},
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List pending approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(request{Type: "list-approvals"})
		if err != nil {
			return err
		}
		if len(resp.Approvals) == 0 {
			fmt.Println("No pending approvals.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSESSION\tCLIENT\tKIND\tPOLICY\tEXPIRES_AT")
		for _, a := range resp.Approvals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n", a.ID, a.SessionAlias, a.Client, a.EventKind, a.PolicyLabel, a.ExpiresAt)
		}
		return w.Flush()
	},
}

var resolveApprove bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <approval-id>",
	Short: "Approve or reject a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approved := resolveApprove
		if _, err := send(request{Type: "resolve-approval", ID: args[0], Approved: &approved}); err != nil {
			return err
		}
		if approved {
			fmt.Println("approved")
		} else {
			fmt.Println("rejected")
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveApprove, "approve", false, "approve the request (default: reject)")
}
