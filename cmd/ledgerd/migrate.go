package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/supplier-ledger/api"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			opts.log.Info().Str("store", opts.cfg.StoreDriver).Msg("schema up to date")
			return nil
		},
	}
}

func seedCmd(opts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "seed [scenario]",
		Short: "Load a demo scenario",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				for _, sc := range api.Scenarios() {
					fmt.Fprintf(out, "%-18s %s\n", sc.ID, sc.Description)
				}
				return nil
			}

			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := api.LoadScenario(cmd.Context(), a.svc, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "loaded %s: %d supplier(s), %d procurement(s)\n",
				args[0], len(res.Suppliers), len(res.Procurements))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "List available scenarios")
	return cmd
}
