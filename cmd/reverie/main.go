// Reverie Core - simulation experiment service
//
// This is the main entry point for the Reverie Core service. It manages
// generative-agent simulation experiments:
//   - Experiment storage (templates, forks, replay data)
//   - Launching the simulation script and streaming its output
//   - Status and stop of running experiments across instances
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	_ "github.com/epitome-sim/reverie-core/migrations"

	"github.com/epitome-sim/reverie-core/internal/api"
	"github.com/epitome-sim/reverie-core/internal/audit"
	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/cache"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/database"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/influxdb"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/logging"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/mqtt"
	"github.com/epitome-sim/reverie-core/internal/process"
	"github.com/epitome-sim/reverie-core/internal/relay"
	"github.com/epitome-sim/reverie-core/internal/storage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// memoryCacheSweep is how often the in-process cache drops expired keys.
	memoryCacheSweep = time.Minute

	// shutdownTimeout bounds how long running experiments get to exit.
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The root command serves the API.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "reverie",
		Short: "Run the Reverie simulation experiment service",
		Long: `Serve the experiment API: storage, launching, status and stop of
simulation runs, and live output over WebSocket.

Example:
  reverie --config configs/config.yaml
  REVERIE_CONFIG=/etc/reverie/config.yaml reverie`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default $REVERIE_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newTokenCmd(&configPath))
	return root
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Reverie Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	health := make(map[string]api.HealthChecker)

	// Open database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	health["database"] = db

	auditRepo := audit.NewSQLiteRepository(db.DB)
	history := experiment.NewSQLiteHistory(db.DB)

	// Registry and listing cache
	store, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing cache", "error", closeErr)
		}
	}()
	health["cache"] = pinger{store}

	// Prometheus
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := experiment.NewMetrics(cfg.Metrics.Namespace, promRegistry)

	// WebSocket hub receives every relayed line for local clients
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	outputRelay, closeRelay, err := startRelay(ctx, cfg, hub, store, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	// Connect to InfluxDB (optional)
	var telemetry experiment.Telemetry
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		telemetry = influxClient
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := experiment.NewRegistry(store, cfg.Registry.KeyPrefix, cfg.Experiments.PIDTTL)

	workDir := cfg.Experiments.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(cfg.Experiments.Script)
	}
	launcher, err := experiment.NewLauncher(experiment.LauncherConfig{
		Shell:           cfg.Experiments.Shell,
		Script:          cfg.Experiments.Script,
		WorkDir:         workDir,
		SimulationPort:  cfg.Experiments.SimulationPort,
		StopGracePeriod: cfg.Experiments.StopGracePeriod,
	}, experiment.LauncherDeps{
		Registry:  registry,
		Relay:     outputRelay,
		Logger:    log,
		Metrics:   metrics,
		History:   history,
		Telemetry: telemetry,
	})
	if err != nil {
		return fmt.Errorf("creating launcher: %w", err)
	}
	defer func() {
		log.Info("stopping running experiments")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := launcher.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("experiments did not exit in time", "error", shutdownErr)
		}
	}()

	lifecycle := experiment.NewLifecycle(registry, process.OS{},
		experiment.WithGracePeriod(cfg.Experiments.StopGracePeriod),
		experiment.WithLogger(log),
		experiment.WithMetrics(metrics),
	)
	defer lifecycle.Close()

	experiments := storage.New(storage.Config{
		Root:            cfg.Experiments.StorageRoot,
		TemplatesRoot:   cfg.Experiments.TemplatesRoot,
		PublicWhitelist: cfg.Experiments.PublicWhitelist,
		ListCacheTTL:    cfg.Experiments.ListCacheTTL,
	}, store, storage.WithLogger(log))

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Metrics:     cfg.Metrics,
		Logger:      log,
		Launcher:    launcher,
		Lifecycle:   lifecycle,
		Store:       experiments,
		History:     history,
		AuditRepo:   auditRepo,
		Gatherer:    promRegistry,
		Health:      health,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal",
		"registry", cfg.Registry.Backend,
		"relay", cfg.Relay.Backend,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred functions run in reverse order: API server first, then
	// running experiments, relays, cache, database.
	return nil
}

// resolveConfigPath returns the flag value, then REVERIE_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("REVERIE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openCache returns the store backing the process registry and the
// listing cache.
func openCache(ctx context.Context, cfg *config.Config, log *logging.Logger) (cache.Store, error) {
	switch cfg.Registry.Backend {
	case "redis":
		store, err := cache.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		log.Info("Redis connected", "address", cfg.Redis.Address, "db", cfg.Redis.DB)
		return store, nil
	default:
		log.Info("using in-process registry")
		return cache.NewMemory(memoryCacheSweep), nil
	}
}

// startRelay builds the relay the launcher publishes to. Local WebSocket
// clients always receive output; a broker backend also carries it to other
// instances and delivers theirs to the hub.
func startRelay(ctx context.Context, cfg *config.Config, hub *api.Hub, store cache.Store, log *logging.Logger) (experiment.Relay, func(), error) {
	switch cfg.Relay.Backend {
	case "mqtt":
		client, err := mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetOnConnect(func() { log.Info("MQTT reconnected") })
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		r := relay.NewMQTT(client, byte(cfg.MQTT.QoS), hub, relay.WithLogger(log))
		if err := r.Start(ctx); err != nil {
			client.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("starting MQTT relay: %w", err)
		}
		log.Info("MQTT relay started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"origin", r.Origin(),
		)
		return relay.Fanout{hub, r}, func() {
			log.Info("disconnecting from MQTT")
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.Close(closeCtx); err != nil {
				log.Warn("error unsubscribing MQTT relay", "error", err)
			}
			if err := client.Close(); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		}, nil

	case "redis":
		var rdb *cache.Redis
		owned := false
		if shared, ok := store.(*cache.Redis); ok {
			rdb = shared
		} else {
			var err error
			rdb, err = cache.ConnectRedis(ctx, cfg.Redis)
			if err != nil {
				return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
			}
			owned = true
		}

		r := relay.NewRedis(rdb.Client(), hub, relay.WithLogger(log))
		if err := r.Start(ctx); err != nil {
			if owned {
				rdb.Close() //nolint:errcheck // already failing
			}
			return nil, nil, fmt.Errorf("starting Redis relay: %w", err)
		}
		log.Info("Redis relay started", "address", cfg.Redis.Address)
		return relay.Fanout{hub, r}, func() {
			if err := r.Close(); err != nil {
				log.Warn("error closing Redis relay", "error", err)
			}
			if owned {
				if err := rdb.Close(); err != nil {
					log.Error("error closing Redis", "error", err)
				}
			}
		}, nil

	case "nats":
		r, err := relay.ConnectNATS(cfg.NATS, hub, relay.WithLogger(log))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		if err := r.Start(ctx); err != nil {
			r.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("starting NATS relay: %w", err)
		}
		log.Info("NATS relay started", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
		return relay.Fanout{hub, r}, func() {
			if err := r.Close(); err != nil {
				log.Warn("error closing NATS relay", "error", err)
			}
		}, nil

	default:
		return hub, func() {}, nil
	}
}

// pinger adapts a cache.Store to the health endpoint.
type pinger struct{ store cache.Store }

func (p pinger) HealthCheck(ctx context.Context) error {
	return p.store.Ping(ctx)
}
