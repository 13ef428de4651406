package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"grounded-rag/internal/chromemdb"
	"grounded-rag/internal/models"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every chunk from the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		hard, _ := cmd.Flags().GetBool("hard")

		index, closeIndex, err := openIndex(cmd.Context(), appConfig)
		if err != nil {
			printError(err)
			return err
		}
		defer closeIndex()

		if err := index.Clear(cmd.Context(), hard); err != nil {
			printError(err)
			return err
		}
		printResult(map[string]any{"status": "cleared", "hard": hard}, func() {
			color.Green("✓ Cleared %s index (hard=%t)", appConfig.VectorDB.Provider, hard)
		})
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write an encrypted snapshot of the chromem collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChromem(cmd.Context(), func(m *chromemdb.VectorDBManager) error {
			path, err := m.Export(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			printResult(map[string]any{"status": "exported", "file": path, "chunks": m.Count()}, func() {
				color.Green("✓ Exported %d chunks to %s", m.Count(), path)
			})
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load a snapshot written by export into the chromem collection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChromem(cmd.Context(), func(m *chromemdb.VectorDBManager) error {
			if err := m.Import(cmd.Context(), firstArg(args)); err != nil {
				return err
			}
			printResult(map[string]any{"status": "imported", "chunks": m.Count()}, func() {
				color.Green("✓ Imported %d chunks", m.Count())
			})
			return nil
		})
	},
}

// withChromem opens the chromem index for export and import, which only that
// backend supports.
func withChromem(ctx context.Context, fn func(*chromemdb.VectorDBManager) error) error {
	if appConfig.VectorDB.Provider != "chromem" {
		err := models.ConfigurationError("export and import need vector_db.provider chromem, got %q", appConfig.VectorDB.Provider)
		printError(err)
		return err
	}
	index, closeIndex, err := openIndex(ctx, appConfig)
	if err != nil {
		printError(err)
		return err
	}
	defer closeIndex()

	if err := fn(index.(*chromemdb.VectorDBManager)); err != nil {
		printError(err)
		return err
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func init() {
	clearCmd.Flags().Bool("hard", false, "drop and recreate the collection instead of deleting its chunks")
}
