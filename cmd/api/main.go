package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/setpoint2mqtt/internal/adapter/actor"
	"github.com/berfenger/setpoint2mqtt/internal/adapter/store"
	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/actor"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
	"github.com/berfenger/setpoint2mqtt/internal/core/service"
	"github.com/berfenger/setpoint2mqtt/internal/server"
	"github.com/berfenger/setpoint2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	// site description and backing stores
	services, telemetry, closers, err := initServices(cfg, logger)
	if err != nil {
		slog.Error("site errors", "error", err)
		return
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, services, mqttActorProvider(cfg, telemetry, services.Clock, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

// initServices loads the site file and picks the ramp history, ramp cache and
// directive sink backends from the config. Memory backends are the fallback.
func initServices(cfg *config.Config, logger *zap.Logger) (actor.Services, *store.TelemetryStore, []io.Closer, error) {
	var closers []io.Closer

	siteCfg, err := config.LoadSiteConfig(cfg.SiteFile)
	if err != nil {
		return actor.Services{}, nil, nil, err
	}
	site, issues, err := store.NewSiteStore(siteCfg)
	if err != nil {
		return actor.Services{}, nil, nil, err
	}
	for _, issue := range issues {
		logger.Warn("site configuration issue", zap.String("subject", issue.Subject), zap.String("code", issue.Code), zap.String("detail", issue.Detail))
	}

	clock := service.SystemClock{}
	retention := time.Duration(cfg.Engine.EquipmentRetentionMinutes) * time.Minute
	telemetry := store.NewTelemetryStore(site, retention)

	var rampCache port.RampRateCache
	if cfg.Redis.Enabled() {
		client := store.NewRedisClient(cfg.Redis)
		cache := store.NewRedisRampRateCache(client, cfg.Redis.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := cache.Ping(pingCtx)
		cancel()
		if err != nil {
			return actor.Services{}, nil, closers, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, cache)
		rampCache = cache
	} else {
		rampCache = store.NewMemoryRampRateCache()
	}

	var rampHistory port.RampHistoryRepository
	if cfg.Postgres.Enabled() {
		db, err := store.NewPostgresDB(cfg.Postgres)
		if err != nil {
			return actor.Services{}, nil, closers, fmt.Errorf("postgres: %w", err)
		}
		history := store.NewPostgresRampHistory(db)
		closers = append(closers, history)
		rampHistory = history
	} else {
		rampHistory = store.NewMemoryRampHistory(site.StaticRampRates())
	}

	var sink port.DirectiveSink
	if cfg.Kafka.Enabled() {
		kafkaSink := store.NewKafkaDirectiveSink(cfg.Kafka)
		closers = append(closers, kafkaSink)
		sink = kafkaSink
	}

	evaluator := service.NewZoneEvaluationService(*cfg, site, telemetry, rampCache, clock, logger)
	runner := &service.BatchRunner{
		Evaluator:   evaluator,
		Parallelism: cfg.Engine.Parallelism,
		ZoneTimeout: cfg.Engine.ZoneTimeout(),
		Logger:      logger,
	}

	return actor.Services{
		Evaluator:   evaluator,
		Runner:      runner,
		Site:        site,
		RampHistory: rampHistory,
		RampCache:   rampCache,
		Sink:        sink,
		Clock:       clock,
	}, telemetry, closers, nil
}

func initConfig() (*config.Config, error) {

	// alias PORT => SETPOINT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SETPOINT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("setpoint")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if len(cfg.FeelsLike.Coefficients) != len(config.DefaultHeatIndexCoefficients()) {
		cfg.FeelsLike.Coefficients = config.DefaultHeatIndexCoefficients()
	}
	if cfg.Anomaly.Default == (config.AnomalyParams{}) {
		cfg.Anomaly.Default = config.DefaultAnomalyParams()
	}

	// check bounds
	if cfg.SiteFile == "" {
		return nil, errors.New("config param site_file is required")
	}
	if cfg.Engine.IntervalSeconds < 10 {
		return nil, errors.New("config param engine.interval_seconds should be >= 10")
	}
	if cfg.Engine.StaleMinutes < cfg.Engine.LiveMinutes {
		return nil, errors.New("config param engine.stale_minutes should be >= engine.live_minutes")
	}
	if cfg.Engine.Parallelism <= 0 {
		return nil, errors.New("config param engine.parallelism should be > 0")
	}
	if cfg.SmartStart.TargetBuffer < 0 || cfg.SmartStart.TargetBuffer > 1 {
		return nil, errors.New("config param smart_start.target_buffer should be between 0 and 1")
	}
	if cfg.SmartStart.MinLeadMinutes > cfg.SmartStart.MaxLeadMinutes {
		return nil, errors.New("config param smart_start.min_lead_minutes must be <= smart_start.max_lead_minutes")
	}
	if cfg.SmartStart.DefaultRate <= 0 {
		return nil, errors.New("config param smart_start.default_rate should be > 0")
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, telemetry port.TelemetryWriter, clock port.Clock, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, telemetry, clock, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("site_file", "site.yaml")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "setpoint2mqtt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("engine.interval_seconds", 300)
	viper.SetDefault("engine.parallelism", 8)
	viper.SetDefault("engine.zone_timeout_millis", 5000)
	viper.SetDefault("engine.live_minutes", 10)
	viper.SetDefault("engine.stale_minutes", 30)
	viper.SetDefault("engine.deadband", 2)
	viper.SetDefault("engine.recovery_margin", 2)
	viper.SetDefault("engine.pre_open_buffer_minutes", 120)
	viper.SetDefault("engine.occupancy_timeout_minutes", 30)
	viper.SetDefault("engine.weight_tolerance", 0.01)
	viper.SetDefault("engine.trend_window_minutes", 20)
	viper.SetDefault("engine.equipment_retention_minutes", 180)
	viper.SetDefault("engine.min_ramp_run_minutes", 10)
	viper.SetDefault("smart_start.default_rate", 0.15)
	viper.SetDefault("smart_start.min_lead_minutes", 10)
	viper.SetDefault("smart_start.max_lead_minutes", 90)
	viper.SetDefault("smart_start.target_buffer", 0)
	viper.SetDefault("smart_start.humidity_high", 60)
	viper.SetDefault("smart_start.humidity_low", 30)
	viper.SetDefault("smart_start.high_multiplier", 0.1)
	viper.SetDefault("smart_start.low_multiplier", 0.05)
	viper.SetDefault("smart_start.min_history_samples", 3)
	viper.SetDefault("smart_start.history_days", 7)
	viper.SetDefault("smart_start.refresh_interval_minutes", 60)
	viper.SetDefault("smart_start.occupancy_lookback_minutes", 15)
	viper.SetDefault("feels_like.min_temperature", 80)
	viper.SetDefault("feels_like.min_humidity", 40)
	viper.SetDefault("redis.key_prefix", store.DEFAULT_RAMP_KEY_PREFIX)
	viper.SetDefault("redis.ttl_minutes", 0)
	viper.SetDefault("kafka.directive_topic", "setpoint.directives")
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Redis.Password = "*redacted*"
	cfg.Postgres.DSN = "*redacted*"
	slog.Info("Using", "config", cfg)
}
