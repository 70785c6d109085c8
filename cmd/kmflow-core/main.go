/*
Copyright 2026 KMFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command kmflow-core is the engine's composition root: it wires the
// relational store, graph projection, task runtime, and consensus
// pipeline together and serves /healthz and /metrics while the task
// pool drains the durable stream.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/audit"
	"github.com/proth1/kmflow-sub002/pkg/authz"
	"github.com/proth1/kmflow-sub002/pkg/consensus"
	"github.com/proth1/kmflow-sub002/pkg/consistency"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/engagement"
	"github.com/proth1/kmflow-sub002/pkg/evidence"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/notify"
	"github.com/proth1/kmflow-sub002/pkg/pov"
	"github.com/proth1/kmflow-sub002/pkg/reliability"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
	"github.com/proth1/kmflow-sub002/pkg/storage/vector"
	"github.com/proth1/kmflow-sub002/pkg/task"
	"github.com/proth1/kmflow-sub002/pkg/task/stream"
	"github.com/proth1/kmflow-sub002/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML config")
	httpAddr := flag.String("http-addr", ":8080", "address to serve /healthz and /metrics on")
	workers := flag.Int("workers", 4, "task pool worker goroutines")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := sql.Open("pgx", cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(cfg.Store.MaxOpenConn)

	if err := relational.Migrate(sqlDB); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "pgx")
	store := relational.NewPostgresStore(db, logger)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	authzEvaluator, err := authz.NewEvaluator(ctx, authz.Config{}, logger)
	if err != nil {
		return fmt.Errorf("build authz evaluator: %w", err)
	}
	_ = authzEvaluator // wired into API handlers, which are out of this engine's scope

	// graphstore has no dedicated graph database driver wired — see
	// DESIGN.md; the adjacency projection runs in-process and is
	// rebuildable from the relational store via graph.Reconciler.
	gstore := graphstore.NewMemoryStore()
	embeddings := vector.NewMemoryStore(logger)

	auditLog := audit.NewLog(store, logger)

	retryPolicy := reliability.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        cfg.Retry.Base,
		Cap:         cfg.Retry.Cap,
		JitterRatio: cfg.Retry.JitterRatio,
	}
	breaker := reliability.NewCircuitBreaker("graph-drain", 0.5, cfg.Retry.Cap)

	resolver := seed.NewResolver(store)
	writer := graph.NewWriter(store, store, gstore, logger)
	drain := graph.NewDrain(store, gstore, breaker, retryPolicy, logger)
	reconciler := graph.NewReconciler(gstore)
	erasureExecutor := graph.NewExecutor(store, writer, drain, embeddings, logger)

	var notifier *notify.Notifier
	if token := os.Getenv("KMFLOW_SLACK_TOKEN"); token != "" {
		notifier = notify.New(token, os.Getenv("KMFLOW_SLACK_CHANNEL"), logger)
	}

	lcd := consensus.NewLCD(store, store, store, store, resolver, cfg.Consensus, cfg.AuthorityScopes, logger)
	assembler := pov.NewAssembler(store, store, lcd, logger)
	validator := pov.NewValidator(store, store, store, writer, resolver, cfg.Consensus, logger).WithAudit(auditLog)
	_ = validator // consumed by API handlers, which are out of this engine's scope

	var escalator consistency.Escalator = noopEscalator{}
	if notifier != nil {
		escalator = notifier
	}
	scanner := consistency.NewScanner(store, store, gstore, resolver, writer, cfg.AuthorityScopes, escalator, logger)

	engagements := engagement.NewService(store, logger)
	evidenceSvc := evidence.NewService(store, engagements, stubParser{}, stubClassifier{}, stubEmbedder{}, cfg, logger)

	taskRegistry := task.NewRegistry()
	registerTaskHandlers(taskRegistry, evidenceSvc, scanner, assembler, reconciler, erasureExecutor, drain)

	runtime := task.NewRuntime(store, taskRegistry, retryPolicy, cfg.Task, metrics, logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Stream.Addr})
	defer redisClient.Close()
	taskStream, err := stream.New(ctx, redisClient, cfg.Stream, logger)
	if err != nil {
		return fmt.Errorf("build task stream: %w", err)
	}
	runtime = runtime.WithPublisher(taskStream)

	pool := task.NewPool(stream.Source{Stream: taskStream}, runtime, *workers, logger)
	go pool.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := sqlDB.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: *httpAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving http", logging.NewFields().Component("main").Resource("addr", *httpAddr).Slice()...)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// registerTaskHandlers binds every domain.TaskKind to the service
// method that performs it (spec §4.5); the task runtime's retry loop
// wraps each of these closures, so they need not retry internally.
func registerTaskHandlers(
	registry *task.Registry,
	evidenceSvc *evidence.Service,
	scanner *consistency.Scanner,
	assembler *pov.Assembler,
	reconciler *graph.Reconciler,
	erasure *graph.Executor,
	drain *graph.Drain,
) {
	registry.Register(domain.TaskIngestEvidence, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		category, _ := t.Payload["category"].(string)
		format, _ := t.Payload["format"].(string)
		blobRef, _ := t.Payload["blob_ref"].(string)
		canonical, _ := t.Payload["canonical"].(string)
		metadata, _ := t.Payload["metadata"].(map[string]any)

		id, err := evidenceSvc.Ingest(ctx, t.EngagementID, domain.EvidenceCategory(category), format, blobRef, []byte(canonical), metadata)
		if err != nil && kerrors.TypeOf(err) != kerrors.ErrorTypeDuplicateIgnored {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, "ingested"); rerr != nil {
			return nil, rerr
		}
		return map[string]any{"evidence_id": id}, nil
	})

	registry.Register(domain.TaskConsistencyScan, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		conflicts, err := scanner.Scan(ctx, t.EngagementID)
		if err != nil {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, "scanned"); rerr != nil {
			return nil, rerr
		}
		return map[string]any{"conflict_count": len(conflicts)}, nil
	})

	registry.Register(domain.TaskPOVGenerate, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		model, elements, err := assembler.Assemble(ctx, t.EngagementID)
		if err != nil {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, "assembled"); rerr != nil {
			return nil, rerr
		}
		result := map[string]any{"model_id": model.ID, "element_count": len(elements)}
		if model.Partial {
			return result, task.ErrPartial
		}
		return result, nil
	})

	registry.Register(domain.TaskReconciliation, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		relationalIDsByKind, _ := t.Payload["relational_ids_by_kind"].(map[string][]string)
		rep, err := reconciler.Reconcile(ctx, t.EngagementID, relationalIDsByKind)
		if err != nil {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, "reconciled"); rerr != nil {
			return nil, rerr
		}
		result := map[string]any{"orphan_count": len(rep.OrphanIDs)}
		if len(rep.OrphanIDs) > 0 {
			return result, task.ErrPartial
		}
		return result, nil
	})

	registry.Register(domain.TaskErasure, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		principalID, _ := t.Payload["principal_id"].(string)
		e := &graph.Erasure{EngagementID: t.EngagementID, PrincipalID: principalID}
		if err := erasure.Run(ctx, e); err != nil {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, string(e.State)); rerr != nil {
			return nil, rerr
		}
		return map[string]any{"fragments_erased": len(e.FragmentIDs)}, nil
	})

	registry.Register(domain.TaskGraphProject, func(ctx context.Context, t *domain.Task, report task.Reporter) (map[string]any, error) {
		applied, err := drain.Run(ctx, t.EngagementID, 0)
		if err != nil {
			return nil, err
		}
		if rerr := report.Report(ctx, 1.0, "drained"); rerr != nil {
			return nil, rerr
		}
		return map[string]any{"entries_applied": applied}, nil
	})
}

type noopEscalator struct{}

func (noopEscalator) NotifyEscalation(context.Context, *domain.ConflictObject) error { return nil }

// stubParser, stubClassifier and stubEmbedder stand in for the NLP and
// embedding collaborators the spec scopes out as external (spec §4.1
// "external collaborator"; §3.2). A real deployment supplies its own.
type stubParser struct{}

func (stubParser) Parse(context.Context, string, domain.EvidenceCategory) ([]string, error) {
	return nil, kerrors.New(kerrors.ErrorTypeParse, "no evidence parser configured")
}

type stubClassifier struct{}

func (stubClassifier) Confidence(context.Context, []string) (float64, error) { return 0, nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float64, error) { return nil, nil }
