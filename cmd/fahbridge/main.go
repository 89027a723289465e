// fahbridge - Busch-Jaeger free@home bridge
//
// fahbridge keeps a session to a free@home System Access Point (SysAP),
// mirrors every device it finds onto MQTT and writes the SysAP's datapoints
// when commands arrive. It also carries two diagnostic commands: dump saves
// the SysAP configuration and monitor records raw update messages.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	fahbridge "github.com/nerrad567/gray-logic-fah/internal/bridges/fah"
	"github.com/nerrad567/gray-logic-fah/internal/fah"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fah/internal/infrastructure/mqtt"
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

// configEnv names the environment variable holding the config path.
const configEnv = "FAHBRIDGE_CONFIG"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1) //nolint:gocritic // cancel only releases the signal handler
	}
}

// run is the bridge service, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path of the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	log.Info("starting fahbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	topics := fahbridge.NewTopics(cfg.Bridge.TopicPrefix)
	lwt, err := fahbridge.LWTPayload(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building LWT: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithTopicPrefix(cfg.Bridge.TopicPrefix),
		mqtt.WithWill(topics.Health(), lwt),
	)
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
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var (
		influxClient *influxdb.Client
		telemetry    fahbridge.Telemetry
	)
	influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithDefaultTag("bridge", cfg.Bridge.ID))
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err, "failed_batches", influxClient.WriteErrors())
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Connect to the SysAP
	session, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from SysAP")
		if closeErr := session.Disconnect(); closeErr != nil {
			log.Error("error closing SysAP session", "error", closeErr)
		}
	}()

	// Start the MQTT bridge, then populate the registry
	bridge, err := fahbridge.NewBridge(fahbridge.BridgeOptions{
		Config: fahbridge.Config{
			ID:             cfg.Bridge.ID,
			TopicPrefix:    cfg.Bridge.TopicPrefix,
			HealthInterval: cfg.GetHealthInterval(),
			Version:        version,
		},
		MQTTClient: mqttClient,
		Session:    session,
		Telemetry:  telemetry,
		Logger:     log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	count, err := bridge.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}
	log.Info("devices discovered", "devices", count)

	if err := healthCheck(ctx, mqttClient, influxClient, session); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Bridge (publishes "stopping")
	// 2. SysAP session
	// 3. InfluxDB (if enabled)
	// 4. MQTT

	log.Info("fahbridge stopped")
	return nil
}

// setup loads the configuration and builds the logger it describes.
func setup(configPath string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", configPath)
	return cfg, log, nil
}

// openSession connects to the SysAP and waits for the handshake to finish.
func openSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*fah.Session, error) {
	session, err := fah.New(sessionConfig(cfg), fah.WithLogger(log.Component("sysap")))
	if err != nil {
		return nil, fmt.Errorf("creating SysAP session: %w", err)
	}

	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to SysAP: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	defer cancel()
	if err := session.WaitForConnection(waitCtx); err != nil {
		//nolint:errcheck // already failing, the connect error is the useful one
		session.Disconnect()
		return nil, fmt.Errorf("connecting to SysAP: %w", err)
	}

	stats := session.Stats()
	log.Info("SysAP connected",
		"host", cfg.SysAP.Host,
		"encrypted", stats.Encrypted,
		"protocol_version", stats.ProtocolVersion,
	)
	return session, nil
}

// sessionConfig maps the configuration file onto session settings.
func sessionConfig(cfg *config.Config) fah.Config {
	var tlsConfig *tls.Config
	if cfg.SysAP.TLS.Enabled {
		tlsConfig = &tls.Config{
			ServerName:         cfg.SysAP.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.SysAP.TLS.InsecureSkipVerify, //nolint:gosec // SysAPs ship self-signed certificates
		}
	}

	return fah.Config{
		Host:              cfg.SysAP.Host,
		Port:              cfg.SysAP.Port,
		Username:          cfg.SysAP.Username,
		Password:          cfg.SysAP.Password,
		UseRoomNames:      cfg.SysAP.UseRoomNames,
		DisableReconnect:  !cfg.SysAP.Reconnect.Enabled,
		ReconnectInterval: cfg.GetReconnectInterval(),
		StartTLS:          cfg.SysAP.TLS.Enabled,
		TLSConfig:         tlsConfig,
		ConnectTimeout:    cfg.GetConnectTimeout(),
		RPCTimeout:        cfg.GetRPCTimeout(),
		PingInterval:      cfg.GetPingInterval(),
		HTTPClient:        &http.Client{Timeout: cfg.GetSettingsTimeout()},
	}
}

// getConfigPath returns the configuration file path.
// An explicit flag wins, then FAHBRIDGE_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - session: SysAP session to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, session *fah.Session) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := session.HealthCheck(ctx); err != nil {
		return fmt.Errorf("sysap: %w", err)
	}

	return nil
}
