package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cgem-lab/strainboard/internal/blob"
	"github.com/cgem-lab/strainboard/internal/loader"
	"github.com/cgem-lab/strainboard/internal/parser"
)

var importNoRefresh bool

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload the workbook and rewrite the cached snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newInventory(cmd.Context(), nil)
		if err != nil {
			return err
		}
		if err := a.engine.Refresh(cmd.Context()); err != nil {
			return err
		}
		v := a.engine.View()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Loaded %d strains from %s\n", v.Full.Len(), v.Source)
		fmt.Fprintln(out, loader.StatusLine(v.LoadedAt))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a strain workbook (.xlsx or .csv) to the configured blob store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		src := args[0]
		if filepath.Ext(src) != path.Ext(cfg.WorkbookKey) {
			return fmt.Errorf("%s does not match workbook_key %s; set workbook_key to a key with the same extension", filepath.Base(src), cfg.WorkbookKey)
		}
		wb, err := parser.ParseFile(src)
		if err != nil {
			return err
		}
		if _, err := loader.Assemble(wb, cfg.Labs); err != nil {
			return err
		}
		store, err := openBlobs(ctx)
		if err != nil {
			return err
		}
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := store.Put(ctx, cfg.WorkbookKey, f, blob.PutOptions{
			Metadata: map[string]string{"source": filepath.Base(src)},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Stored %s (%d bytes)\n", info.Key, info.Size)
		if importNoRefresh {
			return nil
		}
		return refreshCmd.RunE(cmd, nil)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolVar(&importNoRefresh, "no-refresh", false, "only upload; leave the cached snapshot as is")
}
