package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel   zapcore.Level
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Engine     EngineConfig     `mapstructure:"engine"`
	SmartStart SmartStartConfig `mapstructure:"smart_start"`
	FeelsLike  FeelsLikeConfig  `mapstructure:"feels_like"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	SiteFile   string           `mapstructure:"site_file"`
	Port       uint             `mapstructure:"port"`
	HttpLog    bool             `mapstructure:"http_log"`
}

type EngineConfig struct {
	IntervalSeconds           uint32  `mapstructure:"interval_seconds"`
	Parallelism               int     `mapstructure:"parallelism"`
	ZoneTimeoutMillis         uint32  `mapstructure:"zone_timeout_millis"`
	LiveMinutes               float64 `mapstructure:"live_minutes"`
	StaleMinutes              float64 `mapstructure:"stale_minutes"`
	Deadband                  float64 `mapstructure:"deadband"`
	RecoveryMargin            float64 `mapstructure:"recovery_margin"`
	PreOpenBufferMinutes      int     `mapstructure:"pre_open_buffer_minutes"`
	OccupancyTimeoutMinutes   int     `mapstructure:"occupancy_timeout_minutes"`
	WeightTolerance           float64 `mapstructure:"weight_tolerance"`
	TrendWindowMinutes        int     `mapstructure:"trend_window_minutes"`
	EquipmentRetentionMinutes int     `mapstructure:"equipment_retention_minutes"`
	MinRampRunMinutes         int     `mapstructure:"min_ramp_run_minutes"`
}

func (c EngineConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c EngineConfig) ZoneTimeout() time.Duration {
	return time.Duration(c.ZoneTimeoutMillis) * time.Millisecond
}

type SmartStartConfig struct {
	DefaultRate              float64 `mapstructure:"default_rate"`
	MinLeadMinutes           int     `mapstructure:"min_lead_minutes"`
	MaxLeadMinutes           int     `mapstructure:"max_lead_minutes"`
	TargetBuffer             float64 `mapstructure:"target_buffer"`
	HumidityHigh             float64 `mapstructure:"humidity_high"`
	HumidityLow              float64 `mapstructure:"humidity_low"`
	HighMultiplier           float64 `mapstructure:"high_multiplier"`
	LowMultiplier            float64 `mapstructure:"low_multiplier"`
	MinHistorySamples        int     `mapstructure:"min_history_samples"`
	HistoryDays              int     `mapstructure:"history_days"`
	RefreshIntervalMinutes   int     `mapstructure:"refresh_interval_minutes"`
	OccupancyLookbackMinutes int     `mapstructure:"occupancy_lookback_minutes"`
}

type FeelsLikeConfig struct {
	MinTemperature float64   `mapstructure:"min_temperature"`
	MinHumidity    float64   `mapstructure:"min_humidity"`
	Coefficients   []float64 `mapstructure:"coefficients"`
}

// AnomalyParams are the thresholds of every anomaly rule for one equipment class.
type AnomalyParams struct {
	ShortCycleWindowMinutes  int     `mapstructure:"short_cycle_window_minutes"`
	ShortCycleMaxTransitions int     `mapstructure:"short_cycle_max_transitions"`
	LongCycleMinutes         int     `mapstructure:"long_cycle_minutes"`
	CoilFreezeTemperature    float64 `mapstructure:"coil_freeze_temperature"`
	ResponseWindowMinutes    int     `mapstructure:"response_window_minutes"`
	MinResponseDelta         float64 `mapstructure:"min_response_delta"`
	MaxSupplyReturnDelta     float64 `mapstructure:"max_supply_return_delta"`
	MinEfficiency            float64 `mapstructure:"min_efficiency"`
	CurrentTolerance         float64 `mapstructure:"current_tolerance"`
	IdleWindowMinutes        int     `mapstructure:"idle_window_minutes"`
	IdleHeatGainDelta        float64 `mapstructure:"idle_heat_gain_delta"`
}

type AnomalyConfig struct {
	Default AnomalyParams            `mapstructure:"default"`
	Classes map[string]AnomalyParams `mapstructure:"classes"`
}

// ParamsFor returns the thresholds of an equipment class, falling back to the default set.
func (c AnomalyConfig) ParamsFor(class string) AnomalyParams {
	if p, ok := c.Classes[strings.ToLower(class)]; ok {
		return p
	}
	return c.Default
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

func (c PostgresConfig) Enabled() bool {
	return c.DSN != ""
}

type KafkaConfig struct {
	Brokers        []string
	DirectiveTopic string `mapstructure:"directive_topic"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.DirectiveTopic != ""
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
