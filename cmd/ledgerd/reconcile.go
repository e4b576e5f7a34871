package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/supplier-ledger/ledger"
)

func reconcileCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reconcile [supplier-id]",
		Short: "Recalculate supplier balances from the ledger",
		Long: `Rebuild running balances from the supplier ledger and overwrite the stored
outstanding balance with the result. Safe to run repeatedly.`,
		Example: `  # One supplier
  ledgerd reconcile 5f0c2b1e-8d7a-4e8b-9a51-0f3c1d2e4a6b

  # Every supplier
  ledgerd reconcile --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("pass a supplier id or --all, not both")
			}
			if !all && len(args) != 1 {
				return errors.New("pass exactly one supplier id, or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if !all {
				res, err := a.svc.RecalculateSupplierBalance(cmd.Context(), ledger.SupplierID(args[0]))
				if err != nil {
					return err
				}
				printRecalculation(out, res)
				return nil
			}

			res, err := a.svc.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range res.Results {
				printRecalculation(out, r)
			}
			fmt.Fprintf(out, "checked=%d repaired=%d consistent=%d failed=%d\n",
				res.Checked, res.Repaired, res.Consistent, res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d supplier(s) failed to reconcile", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Reconcile every supplier")
	return cmd
}

func printRecalculation(w io.Writer, r ledger.RecalculateResult) {
	status := "ok"
	if r.Repaired() {
		status = "repaired"
	}
	fmt.Fprintf(w, "%s\t%s\tprevious=%s\tfinal=%s\tentries_updated=%d\n",
		r.SupplierID, status, r.PreviousBalance.StringFixed(2), r.FinalBalance.StringFixed(2), r.EntriesUpdated)
}
