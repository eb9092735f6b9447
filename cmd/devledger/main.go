// Device Ledger - ownership registry for smart-home devices.
//
// devledger serves the ledger over HTTP and WebSocket and fans committed
// state changes out to MQTT and InfluxDB when those are enabled.
//
// Usage:
//
//	devledger                       run the server
//	devledger token [-ttl 1h] <p>   print a signed token for principal p
//
// The configuration file is read from DEVLEDGER_CONFIG, or
// configs/config.yaml when unset.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/device-ledger/migrations"

	"github.com/nerrad567/device-ledger/internal/api"
	"github.com/nerrad567/device-ledger/internal/audit"
	"github.com/nerrad567/device-ledger/internal/auth"
	"github.com/nerrad567/device-ledger/internal/infrastructure/config"
	"github.com/nerrad567/device-ledger/internal/infrastructure/database"
	"github.com/nerrad567/device-ledger/internal/infrastructure/influxdb"
	"github.com/nerrad567/device-ledger/internal/infrastructure/logging"
	"github.com/nerrad567/device-ledger/internal/infrastructure/metrics"
	"github.com/nerrad567/device-ledger/internal/infrastructure/mqtt"
	"github.com/nerrad567/device-ledger/internal/ledger"
	"github.com/nerrad567/device-ledger/internal/notify"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the health checks run before serving.
const startupHealthTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the server lifecycle, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting device ledger",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
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

	registry, err := openRegistry(ctx, cfg.Ledger, db)
	if err != nil {
		return err
	}
	registry.SetLogger(log.With("component", "ledger"))
	log.Info("ledger opened", "admin", registry.Admin())

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.SetMetrics(metrics.New(promRegistry))

	health := map[string]api.HealthChecker{"database": db}

	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(ctx, cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		publisher := notify.NewMQTTPublisher(mqttClient, mqttClient.QoS(), notify.DefaultQueueSize)
		publisher.SetLogger(log.With("component", "notify"))
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error draining MQTT publisher", "error", closeErr)
			}
			published, failed := publisher.Stats()
			log.Info("MQTT publisher drained", "published", published, "failed", failed)
		}()
		registry.AddSink(publisher)
		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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

		registry.AddSink(notify.NewInfluxRecorder(influxClient))
		health["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Registry:  registry,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Gatherer:  promRegistry,
		Health:    health,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	registry.AddSink(server.Hub())

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse order: API server, InfluxDB, MQTT
	// publisher, MQTT, database.
	return nil
}

// openRegistry constructs the ledger over the SQLite store.
func openRegistry(ctx context.Context, cfg config.LedgerConfig, db *database.DB) (*ledger.Registry, error) {
	var deployer ledger.Principal
	if cfg.Admin != "" {
		p, err := ledger.ParsePrincipal(cfg.Admin)
		if err != nil {
			return nil, fmt.Errorf("ledger.admin: %w", err)
		}
		deployer = p
	}

	registry, err := ledger.NewRegistry(ctx, ledger.NewSQLiteStore(db.DB), deployer)
	if err != nil {
		return nil, fmt.Errorf("opening ledger (set ledger.admin on first start): %w", err)
	}
	return registry, nil
}

// getConfigPath returns the configuration file path.
// Uses DEVLEDGER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout
//   - checks: Components by name
//
// Returns:
//   - error: First failing component, or nil
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	for name, hc := range checks {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// runToken implements `devledger token`: it signs a token for a principal
// with the configured secret and writes it to out.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: devledger token [-ttl duration] <principal>")
	}

	principal, err := ledger.ParsePrincipal(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *ttl <= 0 {
		*ttl = cfg.TokenTTL()
	}

	token, err := auth.GenerateToken(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer, principal, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
