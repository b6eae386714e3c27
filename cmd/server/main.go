package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/receptionist/internal/cache"
	"github.com/chadiek/receptionist/internal/config"
	"github.com/chadiek/receptionist/internal/embedding"
	"github.com/chadiek/receptionist/internal/httpserver"
	"github.com/chadiek/receptionist/internal/llm"
	"github.com/chadiek/receptionist/internal/model"
	"github.com/chadiek/receptionist/internal/retrieval"
	"github.com/chadiek/receptionist/internal/store"
	"github.com/chadiek/receptionist/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	deps := httpserver.Deps{
		TTS: buildTTSProvider(cfg),
	}

	var engine *retrieval.Engine
	if gw, err := store.Connect(context.Background(), cfg.MongoURI, cfg.MongoDB); err != nil {
		log.Printf("store unavailable, persistence and retrieval disabled: %v", err)
	} else {
		deps.Store = gw
		if cfg.EmbeddingKey != "" {
			embedder := embedding.New(cfg.EmbeddingKey, cfg.EmbeddingBaseURL)
			engine = retrieval.New(gw, embedder)
			engine.KContacts = cfg.KContacts
			engine.KEmails = cfg.KEmails
			deps.Retrieval = engine
		}
	}

	deps.Driver = buildDriver(cfg, engine)
	deps.Cache = cache.New(cfg.CacheMax, deps.TTS)

	srv := httpserver.New(cfg, deps)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// buildDriver wires the reasoning driver (C6) to the retrieval engine
// when one was built, or to a no-op Retriever when the store/embedder
// weren't available, so search_contacts/search_emails tool calls
// degrade to empty results rather than ever seeing a nil receiver. A
// per-process Driver is safe to share across concurrent calls since
// RunTurn holds no state beyond its own call stack.
func buildDriver(cfg config.Config, engine *retrieval.Engine) *llm.Driver {
	client := llm.NewClient(cfg.ReasoningKey, cfg.ReasoningBaseURL, cfg.ReasoningModelID)
	var retriever llm.Retriever = noopRetriever{}
	if engine != nil {
		retriever = engine
	}
	return llm.NewDriver(client, retriever, cfg.MaxToolIters, cfg.ToolCallTimeout)
}

// noopRetriever stands in for the retrieval engine when the store or
// embedding credential isn't configured, so the reasoning loop's
// search tools are always safe to call.
type noopRetriever struct{}

func (noopRetriever) SearchContacts(ctx context.Context, name string) []model.SearchResult {
	return nil
}

func (noopRetriever) SearchEmails(ctx context.Context, query string) []model.SearchResult {
	return nil
}

// buildTTSProvider selects ElevenLabs when its credential is present,
// falling back to Deepgram, per spec.md §6's environment contract.
func buildTTSProvider(cfg config.Config) tts.BatchProvider {
	if cfg.UsesPremiumTTS() {
		return tts.NewElevenLabsProvider(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
	return tts.NewDeepgramProvider(cfg.DeepgramKey, "")
}
