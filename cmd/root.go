package main

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grounded-rag/internal/config"
	"grounded-rag/internal/helper"
)

var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:           "grounded-rag",
	Short:         "Grounded question answering over your own documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(viper.GetString("config"))
		if err != nil {
			printError(err)
			return err
		}
		if f := viper.GetString("log-format"); f != "" {
			cfg.Log.Format = f
		}
		setupLogging(cfg.Log, viper.GetBool("debug"))
		log.Debug().
			Str("config", viper.GetString("config")).
			Str("vector_db", cfg.VectorDB.Provider).
			Str("embed_llm", cfg.EmbedLLM.Provider+"/"+cfg.EmbedLLM.Model).
			Str("inference_llm", cfg.InferenceLLM.Provider+"/"+cfg.InferenceLLM.Model).
			Str("reranker", cfg.Reranker.Provider).
			Msg("Loaded config")
		appConfig = cfg
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultPath, "config file")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("json", false, "print raw JSON output")
	flags.String("log-format", "", "log format: console or json")

	// Flags can also be set as RAG_CONFIG, RAG_DEBUG, RAG_JSON and RAG_LOG_FORMAT.
	viper.SetEnvPrefix("RAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"config", "debug", "json", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, clearCmd, exportCmd, importCmd, configCmd)
}

func jsonMode() bool {
	return viper.GetBool("json")
}

// printResult prints v as indented JSON in --json mode and calls human otherwise.
func printResult(v any, human func()) {
	if jsonMode() {
		helper.PrettyPrint(v)
		return
	}
	human()
}
