// Relay Hub - WebSocket relay between device agents and dashboards
//
// This is the main entry point for the relay hub. Devices connect over
// WebSocket and report their state; dashboards connect and receive the full
// state on every change; operators send one-shot commands to a device over
// HTTP or, when enabled, MQTT.
//
// Optional integrations, each off by default:
//   - SQLite state history with retention pruning
//   - MQTT state mirror and command intake
//   - InfluxDB telemetry for numeric device fields
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/relayhub/internal/api"
	"github.com/nerrad567/relayhub/internal/command"
	"github.com/nerrad567/relayhub/internal/conn"
	"github.com/nerrad567/relayhub/internal/dashboard"
	"github.com/nerrad567/relayhub/internal/history"
	"github.com/nerrad567/relayhub/internal/infrastructure/config"
	"github.com/nerrad567/relayhub/internal/infrastructure/database"
	"github.com/nerrad567/relayhub/internal/infrastructure/influxdb"
	"github.com/nerrad567/relayhub/internal/infrastructure/logging"
	"github.com/nerrad567/relayhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/relayhub/internal/liveness"
	"github.com/nerrad567/relayhub/internal/metrics"
	"github.com/nerrad567/relayhub/internal/mqttbridge"
	"github.com/nerrad567/relayhub/internal/session"
	"github.com/nerrad567/relayhub/internal/state"
	"github.com/nerrad567/relayhub/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path. It may be absent.
const defaultConfigPath = "configs/config.yaml"

// changeQueueSize is the buffer in front of each slow change sink.
const changeQueueSize = 1024

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context, args []string) error {
	log := logging.Default()
	log.Info("starting relay hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath, optional, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.Name,
		"level", cfg.Logging.Level,
	)

	m := metrics.New()
	store := state.NewStore()
	registry := conn.NewRegistry()
	fanout := &state.Fanout{}

	// Dashboards are notified synchronously so every member sees changes in
	// store order. Everything else sits behind a queue.
	dashboards := dashboard.NewHub(store, m)
	dashboards.SetLogger(log.Component("dashboard"))
	fanout.Add(dashboards)

	router := command.NewRouter(registry, m)
	router.SetLogger(log.Component("command"))

	// Sinks drain on their own context so buffered changes are flushed after
	// the server has stopped producing them.
	sinks := &sinkGroup{log: log}
	defer sinks.stop()

	// State history (optional)
	var historyRepo history.Repository
	var db *database.DB
	if cfg.History.Enabled {
		db, historyRepo, err = openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("state history enabled",
			"path", cfg.Database.Path,
			"retention_hours", cfg.History.RetentionHours,
		)

		historyLog := log.Component("history")
		sinks.add("history", history.NewRecorder(historyRepo, historyLog), fanout)

		pruner := history.NewPruner(historyRepo,
			time.Duration(cfg.History.RetentionHours)*time.Hour,
			time.Duration(cfg.History.PruneInterval)*time.Minute,
			historyLog,
		)
		go pruner.Run(ctx)
	} else {
		log.Info("state history disabled")
	}

	// MQTT bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		//nolint:gosec // QoS is validated to 0..2 by config.Validate
		bridge := mqttbridge.New(mqttClient, router, mqttClient.Topics(), byte(cfg.MQTT.QoS), log.Component("mqttbridge"))
		if startErr := bridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		sinks.add("mqtt", bridge, fanout)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		sinks.add("influxdb", influxdb.NewTelemetry(influxClient), fanout)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Runs before the client closes above. The earlier deferred stop only
	// matters when startup fails part way.
	defer sinks.stop()

	sessions := session.NewHandler(session.Deps{
		Store:    store,
		Registry: registry,
		Observer: fanout,
		Metrics:  m,
		Logger:   log.Component("session"),
	})

	monitor := liveness.NewMonitor(liveness.Config{
		Interval:   cfg.Liveness.ProbeInterval(),
		StaleAfter: cfg.Liveness.ReadDeadline(),
	}, registry, store, m)
	monitor.SetLogger(log.Component("liveness"))
	go monitor.Run(ctx)

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Liveness:   cfg.Liveness,
		Logger:     log.Component("api"),
		Store:      store,
		Registry:   registry,
		Sessions:   sessions,
		Dashboards: dashboards,
		Router:     router,
		History:    historyRepo,
		Metrics:    m,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, server, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed", "address", server.Addr())

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// resolveConfigPath picks the config file: the -config flag, then
// RELAYHUB_CONFIG, then the default path. Only the default may be missing.
func resolveConfigPath(args []string) (path string, optional bool, err error) {
	fset := flag.NewFlagSet("relayhub", flag.ContinueOnError)
	flagPath := fset.String("config", "", "path to the YAML configuration file")
	if err := fset.Parse(args); err != nil {
		return "", false, fmt.Errorf("parsing flags: %w", err)
	}

	if *flagPath != "" {
		return *flagPath, false, nil
	}
	if envPath := os.Getenv("RELAYHUB_CONFIG"); envPath != "" {
		return envPath, false, nil
	}
	return defaultConfigPath, true, nil
}

// openHistory opens and migrates the history database.
func openHistory(ctx context.Context, cfg *config.Config) (*database.DB, history.Repository, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		//nolint:errcheck // Already failing; the migration error is what matters
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, history.NewSQLiteRepository(db.DB), nil
}

// sinkGroup runs the queued change sinks and drains them on stop.
type sinkGroup struct {
	log    *logging.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

// add puts target behind a queue and subscribes the queue to fanout.
func (g *sinkGroup) add(name string, target state.Observer, fanout *state.Fanout) {
	if g.ctx == nil {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	}

	q := state.NewQueue(name, target, changeQueueSize)
	q.SetLogger(g.log.Component("queue"))
	fanout.Add(q)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		q.Run(g.ctx)
	}()
}

// stop flushes every queue and waits for the sinks to finish.
func (g *sinkGroup) stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	g.wg.Wait()
}

// healthCheck verifies every started component.
func healthCheck(ctx context.Context, server *api.Server, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
