package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show your current point balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.client.Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Merits: %d  Demerits: %d  Total: %d\n", b.Merits, b.Demerits, b.Total)
			return nil
		},
	}
}

func newEntriesCmd(a *app) *cobra.Command {
	var page int

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List audited point entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.client.ListPointEntries(cmd.Context(), page)
			if err != nil {
				return err
			}
			for _, e := range p.Results {
				fmt.Printf("#%d  %+d  %-8s  %-10s  %s\n", e.ID, e.Points, e.Kind, e.Status, e.Reason)
			}
			fmt.Printf("(%d of %d entries)\n", len(p.Results), p.Count)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}
