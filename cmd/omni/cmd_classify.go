package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/intents"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [message]",
	Short: "Print the intents detected in a message for the configured domain",
	Long: `Runs the intent classifier once and prints the detections as JSON.
Useful for tuning keywords, examples and thresholds in a domains file.

Example:
  omni classify --domain igaming --embeddings none "I want to withdraw my winnings"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

type classifyResult struct {
	Domain     config.Domain       `json:"domain"`
	Detections []intents.Detection `json:"detections"`
	Trace      string              `json:"trace,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	catalog, err := config.LoadCatalog(cfg.DomainsFile, cfg.RetellAgentID)
	if err != nil {
		return err
	}
	emb, err := newEmbedder(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	detections, trace := intents.NewClassifier(catalog, emb).Classify(cmd.Context(), message, cfg.Domain)
	if detections == nil {
		detections = []intents.Detection{}
	}

	res := classifyResult{Domain: cfg.Domain, Detections: detections}
	if verbose || trace.Failed() {
		res.Trace = trace.String()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
