// rinLink - local-first smart home control plane.
//
// This is the main entry point for the rinLink core. It wires the
// state cache, command queue, transport dispatcher, scene engine and
// HTTP API together and keeps them running until a shutdown signal
// arrives. Devices keep working without the cloud: the LAN, Zigbee and
// BLE transports speak to hardware directly, and the cloud relay is
// strictly optional.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/api"
	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/dispatcher"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/config"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/database"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/influxdb"
	"github.com/LzzJustBeYou/rinLink/internal/infrastructure/logging"
	"github.com/LzzJustBeYou/rinLink/internal/queue"
	"github.com/LzzJustBeYou/rinLink/internal/room"
	"github.com/LzzJustBeYou/rinLink/internal/scene"
	"github.com/LzzJustBeYou/rinLink/internal/transport/ble"
	"github.com/LzzJustBeYou/rinLink/internal/transport/cloudws"
	"github.com/LzzJustBeYou/rinLink/internal/transport/lan"
	"github.com/LzzJustBeYou/rinLink/internal/transport/mqttlink"
	"github.com/LzzJustBeYou/rinLink/internal/transport/zigbee"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting rinLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// State cache: the authoritative in-memory view of every device.
	states := cache.New(cache.Config{
		PropertyHistoryDepth: cfg.Cache.PropertyHistoryDepth,
		ActivityLogDepth:     cfg.Cache.ActivityLogDepth,
		SubscriberBuffer:     cfg.Cache.SubscriberBuffer,
	})
	states.SetLogger(log.With("component", "cache"))
	defer states.Close()

	// Command queue with offline buffering.
	q := queue.New(queue.Config{
		OfflineLimit:     cfg.Queue.OfflineLimit,
		SubscriberBuffer: cfg.Cache.SubscriberBuffer,
	})
	q.SetLogger(log.With("component", "queue"))
	defer q.Close()

	// Dispatcher routes queued commands to transport backends.
	disp := dispatcher.New(states, q, dispatcher.Config{
		DefaultRetries: cfg.Queue.DefaultRetries,
		DefaultTimeout: cfg.Queue.DefaultTimeout,
	})
	disp.SetLogger(log.With("component", "dispatcher"))
	defer disp.Stop()

	if err := registerTransports(disp, cfg, log); err != nil {
		return fmt.Errorf("registering transports: %w", err)
	}
	if initErr := disp.InitializeAll(ctx); initErr != nil {
		// A dead backend at boot is not fatal; commands buffer offline
		// until it recovers or another transport takes over.
		log.Warn("not all transports came up", "error", initErr)
	}
	disp.Run(ctx)
	log.Info("dispatcher running", "transports", disp.Transports())

	// Scene registry and engine.
	registry := scene.NewRegistry(scene.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.With("component", "scenes"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading scenes: %w", refreshErr)
	}
	engine := scene.NewEngine(registry, states, disp, scene.EngineConfig{
		Debounce:    cfg.Scenes.Debounce,
		EventBuffer: cfg.Cache.SubscriberBuffer,
	})
	engine.SetLogger(log.With("component", "scenes"))
	engine.Run(ctx)
	defer engine.Stop()
	log.Info("scene engine running", "scenes", len(registry.List()))

	// Rooms and device groups.
	rooms := room.NewSQLiteRepository(db.DB)
	resolver := room.NewResolver(states)

	// Optional InfluxDB property history sink.
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

		sink := influxdb.NewSink(influxClient, states)
		sink.Run(ctx)
		sink.AttachSceneEvents(ctx, engine.Subscribe(0))
		defer sink.Stop()
		log.Info("InfluxDB sink running",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API and WebSocket push.
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			States:     states,
			Dispatcher: disp,
			Queue:      q,
			Scenes:     registry,
			Engine:     engine,
			Rooms:      rooms,
			Resolver:   resolver,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// registerTransports builds and registers every enabled transport
// backend.
func registerTransports(disp *dispatcher.Dispatcher, cfg *config.Config, log *logging.Logger) error {
	tc := cfg.Transports

	if tc.LAN.Enabled {
		b := lan.New(lan.Config{
			ListenAddr:       tc.LAN.ListenAddr,
			BroadcastAddr:    tc.LAN.DiscoveryAddr,
			DiscoveryTimeout: tc.LAN.DiscoveryTimeout,
		})
		b.SetLogger(log.With("transport", "lan"))
		if err := disp.Register(b); err != nil {
			return err
		}
	}

	if tc.Zigbee.Enabled {
		b := zigbee.New(zigbee.Config{})
		b.SetLogger(log.With("transport", "zigbee"))
		if err := disp.Register(b); err != nil {
			return err
		}
	}

	if tc.BLE.Enabled {
		b := ble.New(ble.Config{})
		b.SetLogger(log.With("transport", "ble"))
		if err := disp.Register(b); err != nil {
			return err
		}
	}

	if tc.CloudWS.Enabled {
		b := cloudws.New(cloudws.Config{
			URL:          tc.CloudWS.URL,
			Token:        tc.CloudWS.Token,
			PingInterval: tc.CloudWS.PingInterval,
		})
		b.SetLogger(log.With("transport", "cloudws"))
		if err := disp.Register(b); err != nil {
			return err
		}
	}

	if tc.MQTT.Enabled {
		b := mqttlink.New(mqttlink.Config{
			Host:         tc.MQTT.Broker.Host,
			Port:         tc.MQTT.Broker.Port,
			ClientID:     tc.MQTT.Broker.ClientID,
			Username:     tc.MQTT.Auth.Username,
			Password:     tc.MQTT.Auth.Password,
			TLS:          tc.MQTT.Broker.TLS,
			QoS:          byte(tc.MQTT.QoS),
			ReconnectMin: time.Duration(tc.MQTT.Reconnect.InitialDelay) * time.Second,
			ReconnectMax: time.Duration(tc.MQTT.Reconnect.MaxDelay) * time.Second,
		})
		b.SetLogger(log.With("transport", "mqtt"))
		if err := disp.Register(b); err != nil {
			return err
		}
	}

	return nil
}

// getConfigPath returns the configuration file path.
// Uses RINLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RINLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections after startup.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			// History is best effort; a sick sink should not kill the core.
			if !errors.Is(err, influxdb.ErrNotConnected) {
				return fmt.Errorf("influxdb: %w", err)
			}
		}
	}
	return nil
}
