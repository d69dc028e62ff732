package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cardsense/pkg/cards"
)

func newCardsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List the card database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			table, err := cards.Load(cfg.Cards.Database)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table.Cards())
			}
			fmt.Fprintln(out, renderCards(table))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderCards(table *cards.Table) string {
	rows := make([][]string, 0, table.Len())
	for _, c := range table.Cards() {
		rows = append(rows, []string{c.ID, c.Name, strings.Join(c.Keywords, ", "), c.Text})
	}
	return renderTable(
		[]string{"ID", "Name", "Keywords", "Text"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
	)
}
