// Command replication-daemon is the ref-replication engine's process
// entrypoint: it loads the TOML config, starts the task store, the
// per-remote destinations, the config auto-reload controller, and the
// admin control socket, then routes ref-update events from an event
// source into the scheduler until it receives a termination signal.
//
//	replication-daemon -config PATH_TO_CONFIG -data-dir /var/lib/replication -repos /var/git
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gerrit-plugins/replication/internal/log"
	"github.com/gerrit-plugins/replication/internal/replication/control"
	"github.com/gerrit-plugins/replication/internal/replication/metrics"
	"github.com/gerrit-plugins/replication/internal/replication/pushworker"
	"github.com/gerrit-plugins/replication/internal/replication/replconfig"
	"github.com/gerrit-plugins/replication/internal/replication/router"
	"github.com/gerrit-plugins/replication/internal/replication/taskstore"
)

var (
	configPath  = flag.String("config", "", "path to the replication TOML config file")
	dataDir     = flag.String("data-dir", "", "plugin data directory; ref-updates/{waiting,running,tmp} live under it")
	reposRoot   = flag.String("repos", "", "local bare-repository root the push worker reads from")
	socketPath  = flag.String("socket", "", "unix socket path for the list/start/stop control protocol")
	eventsFile  = flag.String("events-file", "", "optional demo event source: a tailed project<TAB>ref<TAB>updater file")
	metricsAddr = flag.String("metrics-addr", "", "optional address to serve Prometheus /metrics on")
	logFormat   = flag.String("log-format", "text", "log output format: text or json")
	logLevel    = flag.String("log-level", "info", "log level")
	hookLogFile = flag.String("hook-log", "", "write logs to this file instead of stdout, for invocation from a git hook")
)

func main() {
	flag.Parse()

	logger := logrus.StandardLogger()
	if *hookLogFile != "" {
		hookLogger, err := log.NewHookLogger(*hookLogFile)
		if err != nil {
			logrus.WithError(err).Fatal("failed to open hook log file")
		}
		logger = hookLogger
	}
	log.Configure(logger, *logFormat, *logLevel)
	entry := log.Default()

	if *configPath == "" || *dataDir == "" || *reposRoot == "" {
		entry.Fatal("-config, -data-dir, and -repos are required")
	}

	if err := metrics.Register(); err != nil {
		entry.WithError(err).Fatal("failed to register metrics")
	}

	store, err := taskstore.New(filepath.Join(*dataDir, "ref-updates"), entry)
	if err != nil {
		entry.WithError(err).Fatal("failed to open task store")
	}

	source, err := pushworker.NewLocalSource(*reposRoot, 256)
	if err != nil {
		entry.WithError(err).Fatal("failed to open local git source")
	}

	eng := newEngine(store, source, entry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := replconfig.NewController(*configPath, eng, entry)
	controller.Subscribe(eng.rebuild)
	if err := controller.Start(ctx); err != nil {
		entry.WithError(err).Fatal("failed to load config")
	}
	defer controller.Stop()

	rtr := router.New(store, eng.destinationList, entry)

	if *eventsFile != "" {
		src := router.NewFileSource(*eventsFile)
		go func() {
			err := src.Subscribe(ctx, func(project, ref, updater string) {
				if err := rtr.OnEvent(ctx, project, ref, updater); err != nil {
					entry.WithError(err).Error("failed to route ref-update event")
				}
			})
			if err != nil && ctx.Err() == nil {
				entry.WithError(err).Error("event source stopped unexpectedly")
			}
		}()
	}

	if *socketPath != "" {
		srv, err := control.NewServer(*socketPath, eng, entry)
		if err != nil {
			entry.WithError(err).Fatal("failed to start control socket")
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				entry.WithError(err).Error("control socket server stopped")
			}
		}()
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil { //nolint:gosec // internal metrics endpoint
				entry.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	entry.WithField("config", *configPath).Info("replication-daemon started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	entry.Info("shutting down: draining destinations")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	eng.drainAll(drainCtx)
}
