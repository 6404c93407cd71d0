package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/common"
	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/graceful"
	"github.com/routecodex/routecodex/common/logger"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/httpapi"
	"github.com/routecodex/routecodex/internal/lifecycle"
	"github.com/routecodex/routecodex/internal/metrics"
	"github.com/routecodex/routecodex/internal/monitor"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/quota/redismirror"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/toolfilter"
	"github.com/routecodex/routecodex/internal/topology"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	common.Init()
	logger.SetupLogger()
	logger.SetupEnhancedLogger(ctx)

	logger.Logger.Info("RouteCodex started", zap.String("version", common.Version))

	gin.SetMode(config.GinMode)

	port := *common.Port
	if config.ServerPort != "" {
		if parsed, err := strconv.Atoi(config.ServerPort); err == nil {
			port = parsed
		}
	}

	registry := lifecycle.NewRegistry(filepath.Dir(config.QuotaSnapshotPath))
	if err := lifecycle.EnsurePortAvailable(registry, port, *common.Restart); err != nil {
		logger.Logger.Error("startup refused", zap.Int("port", port), zap.Error(err))
		os.Exit(1)
	}

	topo, err := topology.FileProvider{Path: config.ConfigPath}.Topology()
	if err != nil {
		logger.Logger.Error("invalid topology config", zap.String("path", config.ConfigPath), zap.Error(err))
		os.Exit(1)
	}

	daemon := quota.NewDaemon(quota.Config{
		AutoCooldownMaxMs:   config.AutoCooldownMax().Milliseconds(),
		MaintenanceInterval: time.Duration(config.QuotaDaemonIntervalMS) * time.Millisecond,
		PersistDebounce:     time.Duration(config.QuotaPersistDebounceMS) * time.Millisecond,
		SnapshotPath:        config.QuotaSnapshotPath,
	})
	for _, seed := range topo.Seeds {
		// Untracked antigravity OAuth aliases start gated and only join
		// the pool once a quota refresh shows quota above zero.
		if seed.AuthType == quota.AuthTypeOAuth && topo.Table.Targets[seed.Key].ProviderType == "antigravity" {
			daemon.RegisterOAuthGate(seed.Key, seed.PriorityTier)
			continue
		}
		daemon.RegisterTarget(seed.Key, seed.PriorityTier, seed.AuthType)
	}
	if snap, err := quota.LoadAntigravitySnapshot(config.AntigravitySnapshotPath); err != nil {
		// Session-alias pins start empty on boot, so the safety measure
		// reduces to surfacing the load failure once.
		logger.Logger.Warn("antigravity snapshot unreadable", zap.String("path", config.AntigravitySnapshotPath), zap.Error(err))
	} else {
		for _, key := range snap.Protected {
			daemon.MarkProtected(key)
		}
	}
	daemon.AddNotifier(func(s quota.QuotaState) {
		metrics.SetPoolState(string(s.ProviderKey), string(s.Reason))
	})
	daemon.Start(ctx)

	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Error("redis init failed", zap.Error(err))
		os.Exit(1)
	}
	if common.IsRedisEnabled() {
		mirror := redismirror.New(common.RDB)
		daemon.AddNotifier(mirror.Publish)
	}

	stickyCapacity := 0
	if config.EnableSticky {
		stickyCapacity = config.StickySessionCacheSize
	}
	rt := router.New(topo.Table, daemon, topo.Classifier, stickyCapacity)
	rt.SetErrorPriorityWindow(int64(config.QuotaErrorPriorityWindowMS))

	p := pipeline.New(codec.NewRegistry())
	p.OutboundFilter = toolfilter.Outbound()
	p.ResponseFilter = toolfilter.ReasoningPolicy{}

	var sink executor.EventSink = daemon
	if config.EnableMetric {
		m := monitor.New(monitor.Config{
			QueueSize:            config.MetricQueueSize,
			SuccessRateThreshold: config.MetricSuccessRateThreshold,
		}, daemon)
		sink = monitor.Sink{Next: daemon, Monitor: m}
	}

	exec := &executor.Executor{
		Router:   rt,
		Quota:    sink,
		Pipeline: p,
		Provider: provider.NewSender(provider.ConfigFromEnv()),
		Cfg: executor.Config{
			UnaryTimeout: time.Duration(config.RelayTimeoutSec) * time.Second,
			IdleTimeout:  time.Duration(config.IdleTimeoutSec) * time.Second,
		},
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)

	engine := httpapi.NewEngine(httpapi.Deps{
		Pipeline: p,
		Executor: exec,
		Daemon:   daemon,
		Router:   rt,
		Shutdown: func() { stop <- syscall.SIGTERM },
	})

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: engine,
	}

	if err := registry.Register(os.Getpid(), port); err != nil {
		logger.Logger.Warn("failed to record managed pid", zap.Error(err))
	}

	go func() {
		logger.Logger.Info("server started", zap.String("address", "http://localhost:"+strconv.Itoa(port)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("http server failed", zap.Error(err))
			stop <- syscall.SIGTERM
		}
	}()

	sig := <-stop
	logger.Logger.Info("shutting down", zap.String("signal", sig.String()))
	graceful.SetDraining()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(config.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Warn("drain incomplete", zap.Error(err))
	}
	daemon.Stop()
	if err := registry.Remove(os.Getpid()); err != nil {
		logger.Logger.Warn("failed to clear managed pid", zap.Error(err))
	}

	if sig == syscall.SIGUSR2 {
		restartInPlace()
	}
}

// restartInPlace re-execs the current binary over this process, the
// ROUTECODEX_BUILD_RESTART_ONLY contract: restart without a replacement
// process.
func restartInPlace() {
	executable, err := os.Executable()
	if err != nil {
		logger.Logger.Error("cannot resolve own executable for in-place restart", zap.Error(err))
		os.Exit(1)
	}
	logger.Logger.Info("re-executing in place", zap.String("executable", executable))
	if err := syscall.Exec(executable, os.Args, os.Environ()); err != nil {
		logger.Logger.Error("in-place exec failed", zap.Error(err))
		os.Exit(1)
	}
}
