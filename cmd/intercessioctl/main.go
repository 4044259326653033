// intercessioctl is the command-line client for intercessiod: it dials the
// daemon's local control socket and issues one request per invocation.
package main

import (
	"os"

	"github.com/humansinstitute/intercessio/cmd/intercessioctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("%v", err)
		os.Exit(1)
	}
}
