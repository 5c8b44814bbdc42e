package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "ragqa",
	Short: "Answer questions from a growing knowledge base",
	Long: `ragqa answers natural-language questions by retrieving passages from its
knowledge base and extracting an answer span. When local knowledge falls
short it fetches new documents from open data sources once per question.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragqa/config.yaml if not provided)")

	rootCmd.AddCommand(serveCmd, askCmd, addPairCmd, deletePairCmd, pairsCmd, statsCmd, unansweredCmd, rebuildCmd, fetchCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
