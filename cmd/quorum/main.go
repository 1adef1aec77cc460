package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "quorum",
		Short: "Multi-model debate orchestrator",
		Long:  "Runs structured multi-round debates between LLM guest models, steered by a judge model that delivers a confidence-scored verdict. Models are reached via OpenRouter.",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newDebateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
