package main

import (
	"fmt"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grounded-rag/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration with secrets masked",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := redacted(*appConfig)
		if jsonMode() {
			printResult(cfg, nil)
			return
		}
		fmt.Printf("Config file: %s\n\n", viper.GetString("config"))
		pp.Println(cfg)
	},
}

func redacted(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.EmbedLLM.Key,
		&cfg.InferenceLLM.Key,
		&cfg.Reranker.Key,
		&cfg.VectorDB.QdrantKey,
		&cfg.VectorDB.EncryptionKey,
		&cfg.Database.URL,
	} {
		if *s != "" {
			*s = "********"
		}
	}
	return cfg
}
