// handlers.go implements the command handlers: wiring of storage, the
// engine channel, the orchestrator, and the supporting managers.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexandertaboriskiy/navixmind/internal/agent"
	"github.com/alexandertaboriskiy/navixmind/internal/auth"
	"github.com/alexandertaboriskiy/navixmind/internal/config"
	"github.com/alexandertaboriskiy/navixmind/internal/conversations"
	"github.com/alexandertaboriskiy/navixmind/internal/deltasync"
	"github.com/alexandertaboriskiy/navixmind/internal/observability"
	"github.com/alexandertaboriskiy/navixmind/internal/queue"
	"github.com/alexandertaboriskiy/navixmind/internal/ratelimit"
	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
	"github.com/alexandertaboriskiy/navixmind/internal/storage"
	"github.com/alexandertaboriskiy/navixmind/internal/tools"
	"github.com/alexandertaboriskiy/navixmind/internal/usage"
)

// replayInterval is how often the offline queue is re-triggered while
// the engine channel is up.
const replayInterval = 15 * time.Second

// loadConfig reads the config file, falling back to built-in defaults
// when the default config file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigName {
		return config.Default(), nil
	}
	return config.Load(path)
}

// engineSummarizer asks the reasoning engine for a conversation summary
// through an internal query that bypasses cost-limit checks.
type engineSummarizer struct {
	channel *rpc.Channel
}

func (s engineSummarizer) Summarize(ctx context.Context, digest string) (string, error) {
	result, err := s.channel.ProcessQuery(ctx, rpc.ProcessQueryParams{
		Query:    "Summarize the following conversation concisely:\n\n" + digest,
		Internal: true,
	})
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

// channelConnectivity derives the queue's online signal from the channel.
type channelConnectivity struct {
	channel *rpc.Channel
}

func (c channelConnectivity) Online() bool { return c.channel.Ready() }

// envTokenSource reads the access token from the environment. The real
// identity provider lives in the platform layer; the environment is the
// hand-off point.
type envTokenSource struct{}

func (envTokenSource) Refresh(ctx context.Context) (string, error) {
	token := os.Getenv("NAVIXMIND_ACCESS_TOKEN")
	if token == "" {
		return "", errors.New("NAVIXMIND_ACCESS_TOKEN not set")
	}
	return token, nil
}

func newTransport(cfg config.EngineConfig) rpc.Transport {
	if cfg.Transport == "websocket" {
		return rpc.NewWebSocketTransport(cfg.WebSocket)
	}
	return rpc.NewStdioTransport(cfg.Stdio)
}

func runServe(ctx context.Context, configPath string, debug bool, metricsAddr string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	tracer, shutdownTracer := observability.NewTracer(cfg.Tracing)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()
	metrics := observability.NewMetrics(nil)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	convStore := conversations.NewSQLiteStore(db)
	usageStore := usage.NewSQLiteStore(db)
	queueStore := queue.NewSQLiteStore(db)

	limiter := ratelimit.NewLimiter(cfg.RateLimits)
	costs := usage.NewManager(usageStore, cfg.Pricing, cfg.CostLimits)
	credentials := auth.NewCredentials(envTokenSource{}, logger)

	channel := rpc.NewChannel(newTransport(cfg.Engine),
		rpc.WithTimeout(cfg.Engine.CallTimeout), rpc.WithLogger(logger))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := channel.Start(ctx); err != nil {
		return fmt.Errorf("start engine channel: %w", err)
	}
	defer channel.Close()

	pushCredentials(ctx, channel, credentials, logger)

	synchronizer := deltasync.NewSynchronizer(convStore, channel, logger)
	summarizer := conversations.NewSummarizer(convStore, engineSummarizer{channel}, cfg.Summarization, logger)
	summarizer.SetNotifier(synchronizer)
	defer summarizer.Wait()

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.Builtins{MaxFileSize: cfg.Tools.MaxFileSize}); err != nil {
		return err
	}
	dispatcher := tools.NewDispatcher(registry, channel, logger)

	orchestrator := agent.NewOrchestrator(agent.Options{
		Engine:      channel,
		Limiter:     limiter,
		Costs:       costs,
		Store:       convStore,
		Sync:        synchronizer,
		Summarizer:  summarizer,
		Dispatcher:  dispatcher,
		Credentials: credentials,
		Logger:      logger,
	})
	queueManager := queue.NewManager(queueStore, orchestrator, channelConnectivity{channel}, nil, logger)
	orchestrator.SetQueue(queueManager)

	go orchestrator.Run(ctx)
	go forwardQueueMetrics(ctx, queueManager, queueStore, metrics)
	go replayLoop(ctx, channel, queueManager, logger)

	return chatLoop(ctx, orchestrator, synchronizer, convStore, tracer, metrics, logger)
}

// pushCredentials forwards the access token and service keys to the
// engine. Missing credentials are fine for on-device engines.
func pushCredentials(ctx context.Context, channel *rpc.Channel, credentials *auth.Credentials, logger *slog.Logger) {
	if token, err := credentials.Token(ctx); err == nil {
		if err := channel.SetAccessToken(ctx, token); err != nil {
			logger.Warn("failed to push access token", "error", err)
		}
	}
	if key := os.Getenv("NAVIXMIND_API_KEY"); key != "" {
		if err := channel.SetAPIKey(ctx, key); err != nil {
			logger.Warn("failed to push api key", "error", err)
		}
	}
	if key := os.Getenv("NAVIXMIND_MENTIORA_KEY"); key != "" {
		if err := channel.SetMentioraKey(ctx, key); err != nil {
			logger.Warn("failed to push mentiora key", "error", err)
		}
	}
}

// forwardQueueMetrics mirrors queue progress events into Prometheus.
func forwardQueueMetrics(ctx context.Context, manager *queue.Manager, store queue.Store, metrics *observability.Metrics) {
	events, cancel := manager.Events().Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueEvent(string(event.Kind))
			if depth, err := store.CountActive(ctx); err == nil {
				metrics.SetQueueDepth(depth)
			}
		}
	}
}

// replayLoop re-triggers offline queue processing while the channel is up.
func replayLoop(ctx context.Context, channel *rpc.Channel, manager *queue.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !channel.Ready() {
				continue
			}
			if err := manager.ProcessQueue(ctx); err != nil {
				logger.Warn("queue replay failed", "error", err)
			}
		}
	}
}

// chatLoop reads queries from stdin until EOF or shutdown.
func chatLoop(ctx context.Context, orchestrator *agent.Orchestrator, synchronizer *deltasync.Synchronizer, store conversations.Store, tracer *observability.Tracer, metrics *observability.Metrics, logger *slog.Logger) error {
	conv, err := store.CreateConversation(ctx, "cli session")
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if err := synchronizer.NewConversation(ctx, conv); err != nil {
		logger.Warn("failed to announce conversation", "error", err)
	}
	fmt.Printf("conversation %s ready, type a query:\n", conv.UUID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}

			queryCtx, span := tracer.Start(ctx, "submit_query")
			result, err := orchestrator.SubmitQuery(queryCtx, conv.ID, line, nil)
			if err != nil {
				tracer.RecordError(span, err)
				span.End()
				metrics.RecordQuery(string(agent.StateError))
				fmt.Printf("error: %v\n", err)
				continue
			}
			span.End()
			metrics.RecordQuery(string(result.State))

			switch result.State {
			case agent.StateCompleted:
				fmt.Println(result.Answer.Content)
			case agent.StateBlocked:
				fmt.Printf("blocked: %s\n", result.Reason)
			case agent.StateQueued:
				fmt.Printf("offline: query #%d queued for replay\n", result.Pending.ID)
			default:
				fmt.Printf("%s: %s\n", result.State, result.Reason)
			}
		}
	}
}

func runUsageExport(ctx context.Context, configPath, output string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	out := os.Stdout
	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	manager := usage.NewManager(usage.NewSQLiteStore(db), cfg.Pricing, cfg.CostLimits)
	return manager.ExportCSV(ctx, out)
}

func runQueueList(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	queries, err := queue.NewSQLiteStore(db).List(ctx)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, q := range queries {
		line := fmt.Sprintf("#%d  %s  %s  %q", q.ID, q.CreatedAt.Format(time.RFC3339), q.Status, q.Query)
		if q.Error != "" {
			line += "  error: " + q.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runQueueRetry(ctx context.Context, configPath string, id int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	store := queue.NewSQLiteStore(db)
	manager := queue.NewManager(store, nil, nil, nil, nil)
	if err := manager.Retry(ctx, id); err != nil {
		return err
	}
	fmt.Printf("query #%d returned to pending\n", id)
	return nil
}
