// Command server runs the workflow engine behind an HTTP API (spec
// §4.G). Configuration is entirely environment-driven, in the teacher
// pack's loadConfig style (nevindra-oasis's cmd/sandbox/main.go), since
// this is meant to run as a single container with no flags to wire up.
package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stepflow/stepflow/api"
	"github.com/stepflow/stepflow/engine"
	"github.com/stepflow/stepflow/engine/emit"
	"github.com/stepflow/stepflow/engine/functions"
	"github.com/stepflow/stepflow/engine/registry"
	"github.com/stepflow/stepflow/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type config struct {
	storeDriver  string
	storeDSN     string
	httpAddr     string
	logLevel     string
	iterationMax int

	anthropicKey string
	openaiKey    string
	googleKey    string
	mysqlDSN     string
}

func loadConfig() config {
	cfg := config{
		storeDriver:  "memory",
		storeDSN:     "",
		httpAddr:     ":8080",
		logLevel:     "info",
		iterationMax: engine.DefaultIterationMax,
	}
	if v := os.Getenv("STEPFLOW_STORE_DRIVER"); v != "" {
		cfg.storeDriver = v
	}
	if v := os.Getenv("STEPFLOW_STORE_DSN"); v != "" {
		cfg.storeDSN = v
	}
	if v := os.Getenv("STEPFLOW_HTTP_ADDR"); v != "" {
		cfg.httpAddr = v
	}
	if v := os.Getenv("STEPFLOW_LOG_LEVEL"); v != "" {
		cfg.logLevel = v
	}
	if v := os.Getenv("STEPFLOW_ITERATION_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.iterationMax = n
		}
	}
	cfg.anthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.openaiKey = os.Getenv("OPENAI_API_KEY")
	cfg.googleKey = os.Getenv("GOOGLE_API_KEY")
	cfg.mysqlDSN = os.Getenv("STEPFLOW_MYSQL_QUERY_DSN")
	return cfg
}

func buildAdapter(cfg config) (engine.Adapter, func() error, error) {
	switch cfg.storeDriver {
	case "sqlite":
		a, err := store.NewSQLiteAdapter(cfg.storeDSN)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	case "mysql":
		a, err := store.NewMySQLAdapter(cfg.storeDSN)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	case "memory", "":
		a := store.NewMemoryAdapter()
		return a, func() error { return nil }, nil
	default:
		return nil, nil, &unknownDriverError{cfg.storeDriver}
	}
}

type unknownDriverError struct{ driver string }

func (e *unknownDriverError) Error() string {
	return "unknown STEPFLOW_STORE_DRIVER " + e.driver
}

func buildRegistry(cfg config) *registry.Registry {
	reg := registry.New()
	reg.Register(functions.NewNoop())
	reg.Register(functions.NewReply())
	reg.Register(functions.NewRequest())
	reg.Register(functions.NewHTTPRequest(&http.Client{Timeout: 30 * time.Second}))

	if cfg.anthropicKey != "" {
		reg.Register(functions.NewAnthropicChat(cfg.anthropicKey, "claude-sonnet-4-20250514"))
	}
	if cfg.openaiKey != "" {
		reg.Register(functions.NewOpenAIChat(cfg.openaiKey, "gpt-4o"))
	}
	if cfg.googleKey != "" {
		reg.Register(functions.NewGoogleChat(cfg.googleKey, "gemini-1.5-pro"))
	}
	if cfg.mysqlDSN != "" {
		db, err := sql.Open("mysql", cfg.mysqlDSN)
		if err != nil {
			log.Printf("mysql query function disabled: %v", err)
		} else {
			reg.Register(functions.NewMySQLQuery(db))
		}
	}
	return reg
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[stepflow] ")

	cfg := loadConfig()

	adapter, closeAdapter, err := buildAdapter(cfg)
	if err != nil {
		log.Fatalf("build adapter: %v", err)
	}
	defer closeAdapter()

	reg := buildRegistry(cfg)

	metricsRegisterer := prometheus.NewRegistry()
	metrics := engine.NewPrometheusMetrics(metricsRegisterer)

	var emitter emit.Emitter
	switch cfg.logLevel {
	case "off":
		emitter = emit.NewNullEmitter()
	case "debug":
		emitter = emit.NewLogEmitter(os.Stdout, true)
	default:
		emitter = emit.NewLogEmitter(os.Stdout, false)
	}

	sessionStore := engine.NewSessionStore(adapter, engine.DefaultRetryPolicy())
	eng := engine.New(sessionStore, adapter, reg,
		engine.WithIterationMax(cfg.iterationMax),
		engine.WithMetrics(metrics),
		engine.WithEmitter(emitter),
	)

	srv := api.New(eng, sessionStore, log.Default())

	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegisterer, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s (store=%s)", cfg.httpAddr, cfg.storeDriver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}
