package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cgem-lab/strainboard/internal/dashboard"
)

var (
	countsSelect  []string
	countsRefresh bool
	tableSelect   []string
)

// loadView starts an engine, applies the selection and returns its view.
// refresh bypasses the cached snapshot.
func loadView(ctx context.Context, selection []string, refresh bool) (dashboard.View, error) {
	pairs, err := parseSelection(selection)
	if err != nil {
		return dashboard.View{}, err
	}
	a, err := newInventory(ctx, nil)
	if err != nil {
		return dashboard.View{}, err
	}
	load := a.engine.Start
	if refresh {
		load = a.engine.Refresh
	}
	if err := load(ctx); err != nil {
		return dashboard.View{}, err
	}
	if len(pairs) > 0 {
		if err := a.engine.ApplySelection(pairs); err != nil {
			return dashboard.View{}, err
		}
	}
	return a.engine.View(), nil
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Print category counts for the inventory or a selection",
	Example: `  strainboard counts
  strainboard counts --select lab=Cate --select organism="E. coli"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadView(cmd.Context(), countsSelect, countsRefresh)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), v.Markdown())
		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Print the strain rows matching a selection as a markdown table",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadView(cmd.Context(), tableSelect, false)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), v.TableMarkdown())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(tableCmd)
	countsCmd.Flags().StringArrayVar(&countsSelect, "select", nil, "category=value to select (repeatable)")
	countsCmd.Flags().BoolVar(&countsRefresh, "refresh", false, "reload the workbook instead of the cached snapshot")
	tableCmd.Flags().StringArrayVar(&tableSelect, "select", nil, "category=value to select (repeatable)")
}
