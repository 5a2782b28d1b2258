package domain

import (
	"errors"
	"time"
)

var (
	ErrUnknownZone    = errors.New("unknown zone")
	ErrUnknownProfile = errors.New("unknown profile")
	ErrUnknownSite    = errors.New("unknown site")
	ErrNoThermostat   = errors.New("no thermostat state")
	ErrOverrideRange  = errors.New("override offset out of range")
	ErrCacheMiss      = errors.New("cache miss")
)

type HVACMode string

const (
	HVAC_MODE_OFF       HVACMode = "off"
	HVAC_MODE_HEAT      HVACMode = "heat"
	HVAC_MODE_COOL      HVACMode = "cool"
	HVAC_MODE_HEAT_COOL HVACMode = "heat_cool"
)

type FanMode string

const (
	FAN_MODE_AUTO FanMode = "auto"
	FAN_MODE_ON   FanMode = "on"
)

type HVACAction string

const (
	HVAC_ACTION_IDLE    HVACAction = "idle"
	HVAC_ACTION_HEATING HVACAction = "heating"
	HVAC_ACTION_COOLING HVACAction = "cooling"
)

type ControlScope string

const (
	CONTROL_SCOPE_MANAGED ControlScope = "managed"
	CONTROL_SCOPE_OPEN    ControlScope = "open"
)

type DeviceClass string

const (
	DEVICE_CLASS_TEMPERATURE DeviceClass = "temperature"
	DEVICE_CLASS_HUMIDITY    DeviceClass = "humidity"
	DEVICE_CLASS_OCCUPANCY   DeviceClass = "occupancy"
)

// Zone is a climate-controlled area. Only managed zones get directives.
type Zone struct {
	Id           string
	Name         string
	Type         string
	Scope        ControlScope
	SiteId       string
	ProfileId    string
	EquipmentId  string
	ThermostatId string
	Bindings     []ZoneSensorBinding
}

func (z Zone) Managed() bool {
	return z.Scope == CONTROL_SCOPE_MANAGED
}

func (z Zone) BindingsFor(class DeviceClass) []ZoneSensorBinding {
	var bindings []ZoneSensorBinding
	for _, b := range z.Bindings {
		if b.Class == class {
			bindings = append(bindings, b)
		}
	}
	return bindings
}

type ZoneSensorBinding struct {
	ZoneId   string
	EntityId string
	Class    DeviceClass
	Role     string
	Weight   float64
}

type SetpointSet struct {
	Heat float64
	Cool float64
	Mode HVACMode
	Fan  FanMode
}

type OverrideBounds struct {
	MaxRaise     float64
	MaxLower     float64
	ResetMinutes int
}

type LayerToggle struct {
	Enabled bool
	Max     float64
}

// Profile is a named set of setpoints and layer limits shared by zones.
// SmartStart.Max is expressed in minutes, Occupancy.Max and FeelsLike.Max in °F.
type Profile struct {
	Id           string
	Name         string
	Occupied     SetpointSet
	Unoccupied   SetpointSet
	GuardrailMin float64
	GuardrailMax float64
	Override     OverrideBounds
	SmartStart   LayerToggle
	Occupancy    LayerToggle
	FeelsLike    LayerToggle
}

type SensorReading struct {
	EntityId  string      `json:"entity_id"`
	Class     DeviceClass `json:"device_class"`
	Value     *float64    `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (r SensorReading) HasValue() bool {
	return r.Value != nil && !isNaN(*r.Value)
}

type ThermostatState struct {
	ZoneId             string     `json:"zone_id"`
	Name               string     `json:"name"`
	Temperature        *float64   `json:"temperature"`
	Humidity           *float64   `json:"humidity"`
	HeatSetpoint       float64    `json:"heat_setpoint"`
	CoolSetpoint       float64    `json:"cool_setpoint"`
	Mode               HVACMode   `json:"mode"`
	Action             HVACAction `json:"action"`
	FanRunning         bool       `json:"fan_running"`
	Occupied           *bool      `json:"occupied,omitempty"`
	OutdoorTemperature *float64   `json:"outdoor_temperature"`
	OutdoorHumidity    *float64   `json:"outdoor_humidity"`
	LastSync           time.Time  `json:"last_sync"`
}

type OccupancyState struct {
	ZoneId     string
	Known      bool
	Occupied   bool
	LastMotion *time.Time
}

type DayHours struct {
	Closed bool
	// minutes after local midnight
	Open  int
	Close int
}

type StoreHours struct {
	SiteId   string
	Location *time.Location
	Days     [7]DayHours
}

type AggregateReading struct {
	ZoneId       string      `json:"zone_id"`
	Class        DeviceClass `json:"device_class"`
	Value        float64     `json:"value"`
	HasValue     bool        `json:"has_value"`
	Source       string      `json:"source"`
	Timestamp    time.Time   `json:"timestamp"`
	Fresh        bool        `json:"fresh"`
	Contributors int         `json:"contributors"`
}

func (a AggregateReading) Ptr() *float64 {
	if !a.HasValue {
		return nil
	}
	v := a.Value
	return &v
}

type ConfigIssue struct {
	Subject string `json:"subject"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

const (
	ISSUE_WEIGHTS_NOT_NORMALIZED = "weights_not_normalized"
	ISSUE_GUARDRAIL_TOO_NARROW   = "guardrail_narrower_than_occupied"
	ISSUE_UNKNOWN_PROFILE        = "unknown_profile"
	ISSUE_UNKNOWN_SITE           = "unknown_site"
	ISSUE_UNKNOWN_EQUIPMENT      = "unknown_equipment"
)

// Equipment telemetry

type Equipment struct {
	Id             string
	Class          string
	RatedDeltaT    float64
	NominalCurrent float64
}

type EquipmentSample struct {
	EquipmentId        string     `json:"equipment_id"`
	Timestamp          time.Time  `json:"timestamp"`
	CompressorOn       bool       `json:"compressor_on"`
	CompressorCurrent  *float64   `json:"compressor_current"`
	CoilTemperature    *float64   `json:"coil_temperature"`
	SupplyTemperature  *float64   `json:"supply_temperature"`
	ReturnTemperature  *float64   `json:"return_temperature"`
	ZoneTemperature    *float64   `json:"zone_temperature"`
	OutdoorTemperature *float64   `json:"outdoor_temperature"`
	FanRunning         bool       `json:"fan_running"`
	Action             HVACAction `json:"action"`
}

type CycleEvent struct {
	Timestamp time.Time
	On        bool
}

type EquipmentWindow struct {
	Equipment Equipment
	Samples   []EquipmentSample
	Cycles    []CycleEvent
}

type Severity string

const (
	SEVERITY_INFO     Severity = "info"
	SEVERITY_WARNING  Severity = "warning"
	SEVERITY_CRITICAL Severity = "critical"
)

const (
	ANOMALY_SHORT_CYCLING         = "short_cycling"
	ANOMALY_LONG_CYCLE            = "long_cycle"
	ANOMALY_COIL_FREEZE           = "coil_freeze"
	ANOMALY_DELAYED_TEMP_RESPONSE = "delayed_temp_response"
	ANOMALY_FILTER_RESTRICTION    = "filter_restriction"
	ANOMALY_REFRIGERANT_LOW       = "refrigerant_low"
	ANOMALY_IDLE_HEAT_GAIN        = "idle_heat_gain"
)

var ANOMALY_NAMES = []string{
	ANOMALY_SHORT_CYCLING,
	ANOMALY_LONG_CYCLE,
	ANOMALY_COIL_FREEZE,
	ANOMALY_DELAYED_TEMP_RESPONSE,
	ANOMALY_FILTER_RESTRICTION,
	ANOMALY_REFRIGERANT_LOW,
	ANOMALY_IDLE_HEAT_GAIN,
}

type AnomalyFlag struct {
	SubjectId   string    `json:"subject_id"`
	Name        string    `json:"name"`
	DetectedAt  time.Time `json:"detected_at"`
	MetricValue float64   `json:"metric_value"`
	Severity    Severity  `json:"severity"`
}

// Smart Start

type RateSource string

const (
	RATE_SOURCE_HISTORICAL RateSource = "historical"
	RATE_SOURCE_CURRENT    RateSource = "current"
	RATE_SOURCE_DEFAULT    RateSource = "default"
)

type Confidence string

const (
	CONFIDENCE_HIGH   Confidence = "high"
	CONFIDENCE_MEDIUM Confidence = "medium"
	CONFIDENCE_LOW    Confidence = "low"
)

type RampRateStat struct {
	ZoneId        string   `json:"zone_id"`
	Mode          HVACMode `json:"mode"`
	RatePerMinute float64  `json:"rate_per_minute"`
	Samples       int      `json:"samples"`
}

type RampSample struct {
	ZoneId        string
	Mode          HVACMode
	RatePerMinute float64
	RecordedAt    time.Time
}

type SmartStartEstimate struct {
	ZoneId             string     `json:"zone_id"`
	TargetTemperature  float64    `json:"target_temperature"`
	TargetMode         HVACMode   `json:"target_mode"`
	DeltaNeeded        float64    `json:"delta_needed"`
	RampRate           float64    `json:"ramp_rate"`
	RateSource         RateSource `json:"rate_source"`
	HumidityAdjustment float64    `json:"humidity_adjustment_minutes"`
	OccupancyOverride  bool       `json:"occupancy_override"`
	BaseLeadMinutes    int        `json:"base_lead_minutes"`
	FinalLeadMinutes   int        `json:"final_lead_minutes"`
	StartAt            time.Time  `json:"start_at"`
	OpenAt             time.Time  `json:"open_at"`
	Confidence         Confidence `json:"confidence"`
	ComputedAt         time.Time  `json:"computed_at"`
}

// Resolution

type Phase string

const (
	PHASE_OCCUPIED   Phase = "occupied"
	PHASE_PRE_OPEN   Phase = "pre_open"
	PHASE_UNOCCUPIED Phase = "unoccupied"
)

type Freshness string

const (
	FRESHNESS_LIVE    Freshness = "live"
	FRESHNESS_STALE   Freshness = "stale"
	FRESHNESS_OFFLINE Freshness = "offline"
)

type ReasonCode string

const (
	REASON_GUARDRAIL        ReasonCode = "guardrail"
	REASON_MANAGER_OVERRIDE ReasonCode = "manager_override"
	REASON_SMART_START      ReasonCode = "smart_start"
	REASON_OCCUPIED         ReasonCode = "occupied"
	REASON_UNOCCUPIED       ReasonCode = "unoccupied"
)

type LayerKind string

const (
	LAYER_BASELINE         LayerKind = "baseline"
	LAYER_SMART_START      LayerKind = "smart_start"
	LAYER_OCCUPANCY        LayerKind = "occupancy"
	LAYER_FEELS_LIKE       LayerKind = "feels_like"
	LAYER_MANAGER_OVERRIDE LayerKind = "manager_override"
	LAYER_DEADBAND         LayerKind = "deadband"
	LAYER_GUARDRAIL        LayerKind = "guardrail"
)

// LayerResult is one audited step of a resolution.
type LayerResult struct {
	Kind         LayerKind `json:"kind"`
	Applied      bool      `json:"applied"`
	HeatSetpoint float64   `json:"heat_setpoint"`
	CoolSetpoint float64   `json:"cool_setpoint"`
	Mode         HVACMode  `json:"mode"`
	Note         string    `json:"note,omitempty"`
}

type ManagerOverride struct {
	ZoneId    string    `json:"zone_id"`
	Offset    float64   `json:"offset"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (o ManagerOverride) ActiveAt(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

type Directive struct {
	Id           string        `json:"id"`
	ZoneId       string        `json:"zone_id"`
	HeatSetpoint float64       `json:"heat_setpoint"`
	CoolSetpoint float64       `json:"cool_setpoint"`
	Mode         HVACMode      `json:"mode"`
	Fan          FanMode       `json:"fan_mode"`
	Reason       ReasonCode    `json:"reason"`
	ReasonText   string        `json:"reason_text"`
	Annotations  []string      `json:"annotations,omitempty"`
	Phase        Phase         `json:"phase"`
	Freshness    Freshness     `json:"freshness"`
	IssuedAt     time.Time     `json:"issued_at"`
	Layers       []LayerResult `json:"layers"`
}

// ZoneEvaluation is everything computed for one zone in one cycle.
type ZoneEvaluation struct {
	ZoneId      string                           `json:"zone_id"`
	EquipmentId string                           `json:"equipment_id,omitempty"`
	Managed     bool                             `json:"managed"`
	Aggregates  map[DeviceClass]AggregateReading `json:"aggregates"`
	SmartStart  *SmartStartEstimate              `json:"smart_start,omitempty"`
	Anomalies   []AnomalyFlag                    `json:"anomalies"`
	Directive   *Directive                       `json:"directive,omitempty"`
	Freshness   Freshness                        `json:"freshness"`
	Suppressed  bool                             `json:"suppressed"`
	Issues      []ConfigIssue                    `json:"issues,omitempty"`
	RampSamples []RampSample                     `json:"-"`
	EvaluatedAt time.Time                        `json:"evaluated_at"`
}

type ZoneFailure struct {
	ZoneId string
	Err    error
}

type BatchResult struct {
	Evaluations []ZoneEvaluation
	Failures    []ZoneFailure
	StartedAt   time.Time
	Duration    time.Duration
}

func isNaN(f float64) bool {
	return f != f
}
