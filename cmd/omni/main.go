// Command omni runs the omnichannel customer-service agent: the Retell voice
// relay, the web chat endpoint and the analytics dashboard API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/logger"
)

var (
	// Global flags
	verbose     bool
	addr        string
	domainFlag  string
	databaseURL string
	domainsFile string
	llmProvider string
	embedder    string
	timeout     time.Duration

	cfg config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "omni",
	Short: "Omnichannel AI customer-service agent",
	Long: `omni answers customers over two channels that share one memory:

  - voice calls relayed from Retell over the custom-LLM websocket
  - web chat through POST /chat

Configuration comes from the environment (and .env files). Flags override
the environment for a single run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		if verbose {
			os.Setenv("LOG_LEVEL", "DEBUG")
		}
		logger.Init()
		log = logger.WithPrefix("omni")

		loaded, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := applyFlags(cmd, &loaded); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.GetDefault().Sync()
	},
}

// applyFlags copies explicitly set flags over the environment config.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		c.Addr = addr
	}
	if flags.Changed("database-url") {
		c.DatabaseURL = databaseURL
	}
	if flags.Changed("domains-file") {
		c.DomainsFile = domainsFile
	}
	if flags.Changed("llm") {
		c.LLMProvider = llmProvider
	}
	if flags.Changed("embeddings") {
		c.EmbeddingProvider = embedder
	}
	if flags.Changed("timeout") {
		c.GenerationTimeout = timeout
	}
	if flags.Changed("domain") {
		d, err := config.ParseDomain(domainFlag)
		if err != nil {
			return err
		}
		c.Domain = d
	}
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&databaseURL, "database-url", "", "Store DSN: memory://, sqlite://path or postgres://... (env DATABASE_URL)")
	pf.StringVar(&domainFlag, "domain", "", "Business domain: igaming, ecommerce, healthcare, fintech, realestate or generic (env DOMAIN)")
	pf.StringVar(&domainsFile, "domains-file", "", "YAML file overriding the built-in domain catalog (env OMNI_DOMAINS_FILE)")
	pf.StringVar(&llmProvider, "llm", "", "Generation backend: openai or gemini (env OMNI_LLM_PROVIDER)")
	pf.StringVar(&embedder, "embeddings", "", "Embedding backend: openai, gemini or none (env OMNI_EMBEDDING_PROVIDER)")
	pf.DurationVar(&timeout, "timeout", 0, "Per-turn generation timeout (env OMNI_GENERATION_TIMEOUT)")

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (env OMNI_ADDR)")

	rootCmd.AddCommand(serveCmd, migrateCmd, classifyCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
