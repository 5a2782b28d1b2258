package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// SiteConfig describes the stores, their zones and the profiles the zones follow.
type SiteConfig struct {
	Sites     []SiteDefinition      `mapstructure:"sites"`
	Profiles  []ProfileDefinition   `mapstructure:"profiles"`
	Zones     []ZoneDefinition      `mapstructure:"zones"`
	Equipment []EquipmentDefinition `mapstructure:"equipment"`
	RampRates []RampRateDefinition  `mapstructure:"ramp_rates"`
}

type SiteDefinition struct {
	Id       string
	Name     string
	Timezone string
	// keyed by lowercase weekday name: monday, tuesday...
	Hours map[string]HoursDefinition
}

type HoursDefinition struct {
	Open   string
	Close  string
	Closed bool
}

type SetpointDefinition struct {
	Heat float64
	Cool float64
	Mode string
	Fan  string
}

type OverrideDefinition struct {
	MaxRaise     float64 `mapstructure:"max_raise"`
	MaxLower     float64 `mapstructure:"max_lower"`
	ResetMinutes int     `mapstructure:"reset_minutes"`
}

type LayerDefinition struct {
	Enabled bool
	Max     float64
}

type ProfileDefinition struct {
	Id           string
	Name         string
	Occupied     SetpointDefinition
	Unoccupied   SetpointDefinition
	GuardrailMin float64 `mapstructure:"guardrail_min"`
	GuardrailMax float64 `mapstructure:"guardrail_max"`
	Override     OverrideDefinition
	SmartStart   LayerDefinition `mapstructure:"smart_start"`
	Occupancy    LayerDefinition
	FeelsLike    LayerDefinition `mapstructure:"feels_like"`
}

type BindingDefinition struct {
	Entity string
	Class  string
	Role   string
	Weight float64
}

type ZoneDefinition struct {
	Id         string
	Name       string
	Type       string
	Scope      string
	Site       string
	Profile    string
	Equipment  string
	Thermostat string
	Sensors    []BindingDefinition
}

type EquipmentDefinition struct {
	Id             string
	Class          string
	RatedDeltaT    float64 `mapstructure:"rated_delta_t"`
	NominalCurrent float64 `mapstructure:"nominal_current"`
}

type RampRateDefinition struct {
	Zone    string
	Mode    string
	Rate    float64
	Samples int
}

// LoadSiteConfig reads the site description from a yaml/json/toml file.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading site file %s: %w", path, err)
	}
	var site SiteConfig
	if err := v.Unmarshal(&site); err != nil {
		return nil, fmt.Errorf("parsing site file %s: %w", path, err)
	}
	return &site, nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return h*60 + m, nil
}
