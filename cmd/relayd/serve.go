package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaydb/relay/internal/clusterrpc"
	"github.com/relaydb/relay/pkg/committer"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/envvars"
	"github.com/relaydb/relay/pkg/exports"
	"github.com/relaydb/relay/pkg/facade"
	"github.com/relaydb/relay/pkg/filestorage"
	"github.com/relaydb/relay/pkg/health"
	"github.com/relaydb/relay/pkg/httpapi"
	"github.com/relaydb/relay/pkg/importer"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/logstream"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/scheduler"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a relayd node: client API, function log fan-out, and scheduled job dispatch",
	RunE:  runServe,
}

func init() {
	if err := config.BindFlags(serveCmd.Flags(), v); err != nil {
		panic(err)
	}
	serveCmd.Flags().String("config", "", "path to a YAML config file")
	serveCmd.Flags().Bool("sink-preflight", false, "probe a log sink's webhook URL before accepting it")
	serveCmd.Flags().String("cluster-rpc-bind-addr", "", "bind address for the internal leader-forwarding RPC (disabled if empty)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("relayd")

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer store.Close()

	maxTs, err := store.MaxTimestamp(context.Background())
	if err != nil {
		return fmt.Errorf("read max timestamp: %w", err)
	}
	reg := registry.New()
	if err := reg.Bootstrap(context.Background(), store.Reader(), maxTs); err != nil {
		return fmt.Errorf("bootstrap registry: %w", err)
	}

	subs := subscription.New()
	// Standalone, unreplicated mode: a nil *raft.Raft always leads, the
	// same fallback committer.New documents for single-node embedded use.
	// A multi-node deployment supplies a real *raft.Raft here instead.
	// The notifier is wired in below, once the Facade exists - Facade
	// itself implements committer.Notifier and needs a Committer to
	// construct, so it cannot be handed in here directly.
	commit, err := committer.New(store, reg, nil, nil, cfg.Retention.Window)
	if err != nil {
		return fmt.Errorf("start committer: %w", err)
	}
	commit.StartRetention(cfg.Retention.Window, cfg.Retention.SweepInterval)
	defer commit.StopRetention()

	functions := facade.NewFunctionTable()
	fcd, err := facade.New(reg, store.Reader(), commit, functions, subs, cfg.Cache, 4096, cfg.Sandbox, cfg.Transaction)
	if err != nil {
		return fmt.Errorf("start facade: %w", err)
	}
	commit.SetNotifier(fcd)

	blobs, err := filestorage.NewBlobStore(cfg.DataDir + "/blobs")
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	files := filestorage.New(blobs, reg, store.Reader(), commit, cfg.Transaction)

	deliverer := logstream.NewHTTPDeliverer()
	logs := logstream.NewManager(reg, store.Reader(), commit, cfg.Transaction, deliverer)
	preflight, _ := cmd.Flags().GetBool("sink-preflight")
	logs.SetPreflightEnabled(preflight)
	logs.Start()
	defer logs.Stop()
	fcd.SetLogEmitter(logs)

	sched := scheduler.NewScheduler(reg, store.Reader(), commit, fcd, commit, cfg.Transaction, time.Second)
	sched.Start()
	defer sched.Stop()

	imp := importer.NewImporter(reg, store.Reader(), commit, cfg.Transaction)
	gen := exports.NewGenerator(reg, store.Reader(), commit, files)

	envVars := envvars.NewManager(reg, store.Reader(), commit, cfg.Transaction)

	apiSrv := httpapi.NewServer(fcd, files, logs)
	apiSrv.SetExportGenerator(gen)
	apiSrv.SetStreamingImporter(imp)
	apiSrv.SetEnvVarRegistry(envVars)

	var rpcSrv *clusterrpc.Server
	clusterRPCAddr, _ := cmd.Flags().GetString("cluster-rpc-bind-addr")
	if clusterRPCAddr != "" {
		rpcSrv = clusterrpc.NewServer(fcd)
		go func() {
			if err := rpcSrv.Start(clusterRPCAddr); err != nil {
				logger.Error().Err(err).Msg("cluster rpc server exited")
			}
		}()
		defer rpcSrv.Stop()
	}

	errCh := make(chan error, 2)
	go func() {
		if err := apiSrv.Start(cfg.APIBindAddr); err != nil {
			errCh <- fmt.Errorf("client api server: %w", err)
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsBindAddr, Handler: metricsMux(cfg.APIBindAddr)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info().
		Str("api_bind_addr", cfg.APIBindAddr).
		Str("metrics_bind_addr", cfg.MetricsBindAddr).
		Str("data_dir", cfg.DataDir).
		Msg("relayd serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Stop(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

// metricsMux serves the Prometheus exporter plus liveness/readiness
// endpoints. Readiness additionally runs a TCP reachability check
// against the client API's own listener via pkg/health, the package
// logstream.Manager also uses (through an HTTP check) to probe a sink's
// webhook URL before accepting it.
func metricsMux(apiBindAddr string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/ready", readinessHandler(apiBindAddr))
	return mux
}

func readinessHandler(apiBindAddr string) http.HandlerFunc {
	checker := health.NewTCPChecker(apiBindAddr)
	return func(w http.ResponseWriter, r *http.Request) {
		result := checker.Check(r.Context())
		if !result.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready: %s\n", result.Message)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	}
}
