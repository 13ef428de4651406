package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"grounded-rag/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index raw text or a PDF/DOCX document",
	Example: `  grounded-rag ingest --text "Paris is the capital of France."
  grounded-rag ingest --file ./handbook.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		if (text == "") == (file == "") {
			err := models.ValidationError("Provide exactly one of --text or --file")
			printError(err)
			return err
		}

		var data []byte
		if file != "" {
			var err error
			if data, err = os.ReadFile(file); err != nil {
				printError(err)
				return err
			}
		}

		a, err := newApp(cmd.Context(), appConfig)
		if err != nil {
			printError(err)
			return err
		}
		defer a.Close()

		spinner := getSpinner(" Indexing...")
		var res models.IngestResult
		if file != "" {
			res, err = a.pipeline.IngestDocument(cmd.Context(), data, filepath.Base(file))
		} else {
			res, err = a.pipeline.IngestText(cmd.Context(), text)
		}
		_ = spinner.Finish()
		if err != nil {
			printError(err)
			return err
		}

		printResult(res, func() { printIngest(res) })
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text to index")
	ingestCmd.Flags().String("file", "", "path of a .pdf, .docx or .doc file to index")
}
