package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"grounded-rag/internal/models"
)

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func printError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
}

func printIngest(res models.IngestResult) {
	color.Green("✓ Indexed %d chunks", res.Chunks)
	fmt.Printf("  stored at %s\n", res.FilePath)
}

func printAnswer(resp *models.QueryResponse) {
	if resp.Verification.Verified {
		color.New(color.FgGreen, color.Bold).Println(resp.Answer)
	} else {
		color.New(color.FgYellow, color.Bold).Println(resp.Answer)
		for _, issue := range resp.Verification.Issues {
			color.Yellow("  unsupported: %s", issue)
		}
	}

	if len(resp.Citations) > 0 {
		fmt.Println()
		color.Cyan("Sources")
		for _, c := range resp.Citations {
			fmt.Printf("  [%d] %s (pos %d)\n", c.ID, c.Source, c.Position)
			fmt.Printf("      %s\n", oneLine(c.TextExcerpt, 120))
		}
	}

	fmt.Println()
	color.New(color.Faint).Printf("reranker=%s retrieve=%dms generate=%dms total=%dms\n",
		resp.RerankerUsed, resp.Timing.RetrieveMs, resp.Timing.GenerateMs, resp.Timing.TotalMs)
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
