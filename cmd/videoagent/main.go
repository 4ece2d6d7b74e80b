// Command videoagent runs the job engine's HTTP surface and its long-lived
// worker loop as a single process, mirroring the teacher's single-binary
// console-mode startup: parse flags, open the durable store, wire every
// collaborator, launch the worker as a supervised goroutine, serve HTTP
// until a signal arrives, then drain in order.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"videoagent/internal/config"
	"videoagent/internal/errlog"
	"videoagent/internal/handler"
	"videoagent/internal/llm"
	"videoagent/internal/logging"
	"videoagent/internal/media"
	"videoagent/internal/repo"
	"videoagent/internal/router"
	"videoagent/internal/store"
	"videoagent/internal/transcript"
	"videoagent/internal/vectorstore"
	"videoagent/internal/worker"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "help", "-h", "--help":
			printUsage()
			return
		}
	}

	cfg := config.Load()
	if dataDir := parseDataDirFlag(); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if bind := parseBindFlag(); bind != "" {
		cfg.Server.Host = bind
	}
	if port := parsePortFlag(); port != 0 {
		cfg.Server.Port = port
	}

	if err := logging.Init(false); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logging.Sync()
	if err := errlog.Init(); err != nil {
		log.Fatalf("failed to initialize error log: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory %s: %v", cfg.Storage.DataDir, err)
	}
	dbPath := cfg.Storage.DataDir + "/videoagent.db"
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	r := repo.New(db)
	if err := r.RecoverIncompleteState(context.Background()); err != nil {
		log.Fatalf("failed to recover incomplete job state: %v", err)
	}

	transcripts, err := transcript.NewStore(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("failed to open transcript store: %v", err)
	}

	vectors, err := vectorstore.NewStore(db)
	if err != nil {
		log.Fatalf("failed to open vector store: %v", err)
	}

	mediaRunner := media.NewRunner(cfg.Media)

	var cloud *llm.OpenAICompatibleProvider
	if cfg.LLM.EnableCloud {
		cloud = llm.NewOpenAICompatibleProvider("openai_cloud", cfg.LLM.CloudBaseURL, cfg.LLM.CloudModel, cfg.LLM.CloudAPIKey,
			true, true, true, cfg.LLM.RequestTimeoutSec)
	}
	local := llm.NewOpenAICompatibleProvider("openai_local", cfg.LLM.LocalBaseURL, cfg.LLM.LocalModel, "",
		false, false, true, cfg.LLM.RequestTimeoutSec)
	llmRegistry := llm.NewRegistry(local, cloud)

	w := worker.New(r, transcripts, vectors, mediaRunner, llmRegistry, cfg, cfg.Storage.DataDir)

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	if !cfg.Server.DisableWorker {
		go runWorkerForever(workerCtx, w)
	}

	app := handler.NewApp(r, transcripts, vectors, mediaRunner, llmRegistry, w, cfg, cfg.Storage.DataDir)
	cleanupRoutes := router.Register(app)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logging.L().Info("videoagent listening", zap.String("addr", addr), zap.String("data_dir", cfg.Storage.DataDir))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("server error", zap.Error(err))
			errlog.Logf("[Server] listen error: %v", err)
		}
	}()

	<-ctx.Done()
	logging.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.L().Error("graceful shutdown failed", zap.Error(err))
	}
	cancelWorker()
	cleanupRoutes()
}

// runWorkerForever wraps the worker loop in a panic-recovering supervisor so
// a single pipeline bug never takes the whole process down with it — the
// loop is restarted after logging the panic to errlog.
func runWorkerForever(ctx context.Context, w *worker.Worker) {
	for {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					errlog.Logf("[Worker] panic recovered: %v", rec)
				}
			}()
			w.RunForever(ctx)
		}()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func parseDataDirFlag() string {
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, "--datadir=") {
			return strings.TrimPrefix(arg, "--datadir=")
		}
		if arg == "--datadir" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return ""
}

func parsePortFlag() int {
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, "--port=") {
			if port, err := strconv.Atoi(strings.TrimPrefix(arg, "--port=")); err == nil {
				return port
			}
		}
		if (arg == "--port" || arg == "-p") && i+1 < len(os.Args) {
			if port, err := strconv.Atoi(os.Args[i+1]); err == nil {
				return port
			}
		}
	}
	return 0
}

func parseBindFlag() string {
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, "--bind=") {
			return strings.TrimPrefix(arg, "--bind=")
		}
		if arg == "--bind" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	for _, arg := range os.Args {
		if arg == "-4" || arg == "--ipv4" {
			return "0.0.0.0"
		}
		if arg == "-6" || arg == "--ipv6" {
			return "::"
		}
	}
	return ""
}

func printUsage() {
	fmt.Println(`Usage:
  videoagent                          Start the HTTP service and worker loop
  videoagent --bind=<addr>            Listen address (e.g. 0.0.0.0, ::, 127.0.0.1)
  videoagent -4, --ipv4               Listen on IPv4 only (equivalent to --bind=0.0.0.0)
  videoagent -6, --ipv6               Listen on IPv6 (equivalent to --bind=::)
  videoagent --port=<port>            Service port (or -p <port>)
  videoagent --datadir=<path>         Data/storage root directory
  videoagent help                     Show this help

Environment variables override the same settings; see internal/config.`)
}
