// Command lounge runs the lounge SSH chat server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lounge",
		Short: "A single-room chat server reached over SSH",
		Long: `lounge is a single-room chat server. Users connect with any SSH client
and are admitted by public key. The authorized keys live in an authfile in
authorized_keys format whose comment field carries the display name, with a
":admin" suffix for administrators.`,
		Version:       fmt.Sprintf("%s (built %s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lounge:", err)
		os.Exit(1)
	}
}
