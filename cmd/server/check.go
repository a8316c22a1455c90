package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/lounge/internal/authstore"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <authfile>",
		Short: "Validate an authfile and list its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := authstore.Load(args[0])
			if err != nil {
				var perr *authstore.ParseError
				var derr *authstore.DuplicateKeyError
				switch {
				case errors.As(err, &perr):
					return fmt.Errorf("%s:%d: %w", args[0], perr.Line, perr.Err)
				case errors.As(err, &derr):
					return fmt.Errorf("%s: %w", args[0], derr)
				}
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tROLE\tTYPE\tFINGERPRINT")
			for _, e := range store.Entries() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Identity.Username, e.Identity.Role, e.Key.Type(), e.Identity.Fingerprint)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d keys ok\n", store.Len())
			return nil
		},
	}
}
