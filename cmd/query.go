package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appConfig)
		if err != nil {
			printError(err)
			return err
		}
		defer a.Close()

		spinner := getSpinner(" Thinking...")
		resp, err := a.pipeline.Query(cmd.Context(), strings.Join(args, " "))
		_ = spinner.Finish()
		if err != nil {
			printError(err)
			return err
		}

		printResult(resp, func() { printAnswer(resp) })
		return nil
	},
}
