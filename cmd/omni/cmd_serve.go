package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/server"
	"github.com/square-key-labs/omni-ai/src/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (voice websocket, chat and dashboard API)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	catalog, err := config.LoadCatalog(cfg.DomainsFile, cfg.RetellAgentID)
	if err != nil {
		return err
	}
	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	rc := newRetell(cfg)
	if !rc.Configured() {
		log.Warn("RETELL_API_KEY is not set; /create-call will fail")
	}

	c := cfg
	c.SummaryModel = summaryModel(cfg)
	srv := server.New(c, server.Deps{
		Store:    st,
		LLM:      llm,
		Embedder: emb,
		Retell:   rc,
		Catalog:  catalog,
	})

	log.Info("Starting omni %s (domain %s, llm %s, embeddings %s)",
		cfg.Version, cfg.Domain, cfg.LLMProvider, cfg.EmbeddingProvider)

	return srv.Run(ctx)
}
