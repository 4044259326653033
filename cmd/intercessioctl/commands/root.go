// Package commands implements the CLI commands for intercessioctl.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var socketPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "intercessioctl",
	Short: "Control client for the intercessio remote-signing daemon",
	Long: `intercessioctl talks to a running intercessiod over its local control
socket to list and manage pairing sessions and pending approvals.

Use "intercessioctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultSocket := os.Getenv("INTERCESSIO_SOCKET_PATH")
	if defaultSocket == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		defaultSocket = filepath.Join(home, ".config", "intercessio", "intercessio.sock")
	}
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocket, "path to the intercessiod control socket")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(bunkerCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(shutdownCmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
