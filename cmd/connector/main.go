package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devicebridge/ha-connector-go/internal/config"
	"github.com/devicebridge/ha-connector-go/internal/diag"
	"github.com/devicebridge/ha-connector-go/internal/discovery"
	"github.com/devicebridge/ha-connector-go/internal/homeassistant"
	"github.com/devicebridge/ha-connector-go/internal/mappers"
	"github.com/devicebridge/ha-connector-go/internal/mapping"
	"github.com/devicebridge/ha-connector-go/internal/storage"
	haSync "github.com/devicebridge/ha-connector-go/internal/sync"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
	"github.com/devicebridge/ha-connector-go/internal/virtual"
	"github.com/devicebridge/ha-connector-go/pkg/logger"
)

// connectorStatus adapts the running services to the diagnostics surface.
type connectorStatus struct {
	socket   *homeassistant.SocketClient
	mappings *mapping.Service
}

func (s *connectorStatus) ConnectionState() string {
	return string(s.socket.State())
}

func (s *connectorStatus) LoadErrors() []mapping.LoadError {
	return s.mappings.LoadErrors()
}

func (s *connectorStatus) ReloadMappings() error {
	return s.mappings.Reload()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "text").Fatal("Failed to load configuration: ", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := storage.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database: ", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}
	store := storage.NewSQLiteStore(db, log)

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(collectors.NewGoCollector())
	metricsRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	transformerRegistry := transformers.NewRegistry(log, metricsRegistry)

	mappingService, err := mapping.NewService(cfg.Mapping.UserDir, transformerRegistry, log)
	if err != nil {
		log.Fatal("Failed to create mapping service: ", err)
	}
	if err := mappingService.LoadAll(); err != nil {
		log.Fatal("Failed to load mapping configuration: ", err)
	}

	mapperService := mappers.NewService(mappers.DefaultRegistry(log), transformerRegistry, log)

	rest := homeassistant.NewRESTClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, log)
	socket := homeassistant.NewSocketClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, log)

	virtualResolver := virtual.NewResolver(mappingService, log)

	synchronizer := haSync.NewSynchronizer(store, mapperService, rest, cfg.Sync, log)
	dispatcher := haSync.NewCommandDispatcher(rest, mapperService, store, virtualResolver, log)
	discoveryService := discovery.NewService(store, rest, socket, mappingService, log)
	if err := socket.OnEvent(homeassistant.EventStateChanged, synchronizer.HandleStateChanged); err != nil {
		log.Fatal("Failed to register event handler: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := synchronizer.Start(ctx); err != nil {
		log.Fatal("Failed to start synchronizer: ", err)
	}

	if err := socket.Connect(ctx); err != nil {
		if homeassistant.IsAuthError(err) {
			log.Fatal("Home Assistant rejected the access token: ", err)
		}
		// Reconnects are already scheduled; keep running.
		log.WithError(err).Warn("Initial connection failed, retrying in background")
	} else {
		if _, err := discoveryService.Run(ctx); err != nil {
			log.WithError(err).Warn("Initial discovery failed")
		}
		// Reconcile anything missed while offline.
		if err := synchronizer.Resync(ctx); err != nil {
			log.WithError(err).Warn("Initial resync failed")
		}
	}

	var diagServer *diag.Server
	if cfg.Diagnostics.Enabled {
		diagServer = diag.NewServer(cfg.Diagnostics, &connectorStatus{
			socket:   socket,
			mappings: mappingService,
		}, dispatcher, metricsRegistry, log)
		go diagServer.Start()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	synchronizer.Stop()
	socket.Close()
	if diagServer != nil {
		if err := diagServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Diagnostics server shutdown failed")
		}
	}

	log.Info("Connector exited")
}
