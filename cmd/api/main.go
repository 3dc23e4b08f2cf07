package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"

	"lexrag/internal/api"
	"lexrag/internal/auth"
	"lexrag/internal/config"
	"lexrag/internal/gateway"
	"lexrag/internal/ingest"
	"lexrag/internal/ragctx"
	"lexrag/internal/retrieval"
	"lexrag/internal/storage"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatal(err)
	}

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, gateway.DefaultRegistry(cfg.GatewayTimeoutSecs, cfg.TranscriptionTimeoutSecs),
		gateway.WithMaxRetries(cfg.GatewayMaxRetries),
		gateway.WithAuditSink(storage.NewAuditRepo(db)))

	docRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	engine := retrieval.NewEngine(storage.NewSearchRepo(db), gw)
	orchestrator := ragctx.NewOrchestrator(engine, storage.NewTokenUsageRepo(db),
		cfg.DocumentBudgetChars, cfg.AnalysisBudgetChars)
	runner := ingest.NewRunner(docRepo, chunkRepo, cfg.BackfillConcurrency)
	jobRepo := storage.NewJobRepo(db, cfg.JobRetryBudget)

	srv := api.NewServer(cfg, engine, orchestrator, runner, jobRepo, auth.NewClient(cfg.AuthBaseURL))

	// Temporal is optional for the API binary. Without it the synchronous
	// backfill endpoint still works; only /admin/backfill/async is disabled.
	if tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress}); err != nil {
		log.Printf("temporal unavailable at %s: %v", cfg.TemporalAddress, err)
	} else {
		defer tc.Close()
		srv.WithTemporal(tc)
	}

	log.Printf("lexrag api listening on %s gateway=%s", cfg.APIAddr, cfg.GatewayBaseURL)
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		log.Fatal(err)
	}
}
