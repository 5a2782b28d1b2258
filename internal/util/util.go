package util

import (
	"github.com/berfenger/setpoint2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "setpoint2mqtt",
		},
		Engine: config.EngineConfig{
			IntervalSeconds:           60,
			Parallelism:               4,
			ZoneTimeoutMillis:         2000,
			LiveMinutes:               10,
			StaleMinutes:              30,
			Deadband:                  2,
			RecoveryMargin:            2,
			PreOpenBufferMinutes:      120,
			OccupancyTimeoutMinutes:   30,
			WeightTolerance:           0.01,
			TrendWindowMinutes:        20,
			EquipmentRetentionMinutes: 240,
			MinRampRunMinutes:         10,
		},
		SmartStart: config.SmartStartConfig{
			DefaultRate:              0.15,
			MinLeadMinutes:           10,
			MaxLeadMinutes:           90,
			TargetBuffer:             0,
			HumidityHigh:             60,
			HumidityLow:              30,
			HighMultiplier:           0.1,
			LowMultiplier:            0.05,
			MinHistorySamples:        3,
			HistoryDays:              7,
			RefreshIntervalMinutes:   60,
			OccupancyLookbackMinutes: 15,
		},
		FeelsLike: config.FeelsLikeConfig{
			MinTemperature: 80,
			MinHumidity:    40,
			Coefficients:   config.DefaultHeatIndexCoefficients(),
		},
		Anomaly: config.AnomalyConfig{
			Default: config.DefaultAnomalyParams(),
		},
		Port: 8080,
	}
}
