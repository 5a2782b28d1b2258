package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResolutionEngine turns a profile plus the zone context into a directive.
type ResolutionEngine struct {
	Config    config.EngineConfig
	HeatIndex HeatIndex
	Logger    *zap.Logger
}

type ResolutionInput struct {
	Zone       domain.Zone
	Profile    domain.Profile
	Phase      domain.Phase
	Location   *time.Location
	Thermostat *domain.ThermostatState
	Indoor     *float64
	Humidity   *float64
	// °F per minute, positive when warming
	Trend     *float64
	Occupancy domain.OccupancyState
	Override  *domain.ManagerOverride
	Estimate  *domain.SmartStartEstimate
	Now       time.Time
}

type Resolution struct {
	Directive domain.Directive
	Freshness domain.Freshness
	// false when the data is too old to act on
	Emit   bool
	Issues []domain.ConfigIssue
}

type setpointState struct {
	heat float64
	cool float64
	mode domain.HVACMode
	fan  domain.FanMode
}

type layerOutcome struct {
	applied bool
	note    string
}

type layer struct {
	kind  domain.LayerKind
	apply func(st *setpointState, in ResolutionInput) layerOutcome
}

// resolution bookkeeping filled in while folding
type reasonTrail struct {
	guardrail   string
	override    string
	smartStart  string
	annotations []string
}

// ClassifyFreshness maps the thermostat sync age to live, stale or offline.
func ClassifyFreshness(thermostat *domain.ThermostatState, now time.Time, live, stale time.Duration) domain.Freshness {
	if thermostat == nil || thermostat.LastSync.IsZero() {
		return domain.FRESHNESS_OFFLINE
	}
	age := now.Sub(thermostat.LastSync)
	switch {
	case age < live:
		return domain.FRESHNESS_LIVE
	case age < stale:
		return domain.FRESHNESS_STALE
	default:
		return domain.FRESHNESS_OFFLINE
	}
}

func (e *ResolutionEngine) Resolve(in ResolutionInput) Resolution {
	profile := in.Profile
	freshness := ClassifyFreshness(in.Thermostat, in.Now,
		time.Duration(e.Config.LiveMinutes*float64(time.Minute)),
		time.Duration(e.Config.StaleMinutes*float64(time.Minute)))

	var issues []domain.ConfigIssue
	if profile.GuardrailMin > profile.Occupied.Heat || profile.GuardrailMax < profile.Occupied.Cool {
		issues = append(issues, domain.ConfigIssue{
			Subject: profile.Id,
			Code:    domain.ISSUE_GUARDRAIL_TOO_NARROW,
			Detail: fmt.Sprintf("guardrail [%.1f, %.1f] narrower than occupied %.1f/%.1f",
				profile.GuardrailMin, profile.GuardrailMax, profile.Occupied.Heat, profile.Occupied.Cool),
		})
	}

	baseline := profile.Occupied
	if in.Phase == domain.PHASE_UNOCCUPIED {
		baseline = profile.Unoccupied
	}
	st := setpointState{heat: baseline.Heat, cool: baseline.Cool, mode: baseline.Mode, fan: baseline.Fan}

	trail := &reasonTrail{}
	results := []domain.LayerResult{snapshot(domain.LAYER_BASELINE, true, st, string(in.Phase))}
	for _, l := range e.layers(trail) {
		out := l.apply(&st, in)
		results = append(results, snapshot(l.kind, out.applied, st, out.note))
	}

	if freshness == domain.FRESHNESS_STALE {
		trail.annotations = append(trail.annotations, "Thermostat data stale, best effort")
	}

	reason, text := e.reason(in.Phase, trail)
	directive := domain.Directive{
		Id:           uuid.NewString(),
		ZoneId:       in.Zone.Id,
		HeatSetpoint: round1(st.heat),
		CoolSetpoint: round1(st.cool),
		Mode:         st.mode,
		Fan:          st.fan,
		Reason:       reason,
		ReasonText:   text,
		Annotations:  trail.annotations,
		Phase:        in.Phase,
		Freshness:    freshness,
		IssuedAt:     in.Now,
		Layers:       results,
	}

	if e.Logger != nil && reason == domain.REASON_GUARDRAIL {
		e.Logger.Warn("guardrail forcing", zap.String("zone", in.Zone.Id), zap.String("reason", text))
	}

	return Resolution{
		Directive: directive,
		Freshness: freshness,
		Emit:      freshness != domain.FRESHNESS_OFFLINE,
		Issues:    issues,
	}
}

// layers is the ordered fold applied on top of the baseline. The guardrail is always last.
func (e *ResolutionEngine) layers(trail *reasonTrail) []layer {
	return []layer{
		{kind: domain.LAYER_SMART_START, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.smartStartLayer(st, in, trail)
		}},
		{kind: domain.LAYER_OCCUPANCY, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.occupancyLayer(st, in, trail)
		}},
		{kind: domain.LAYER_FEELS_LIKE, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.feelsLikeLayer(st, in, trail)
		}},
		{kind: domain.LAYER_MANAGER_OVERRIDE, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.overrideLayer(st, in, trail)
		}},
		{kind: domain.LAYER_DEADBAND, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.deadbandLayer(st)
		}},
		{kind: domain.LAYER_GUARDRAIL, apply: func(st *setpointState, in ResolutionInput) layerOutcome {
			return e.guardrailLayer(st, in, trail)
		}},
	}
}

func (e *ResolutionEngine) smartStartLayer(st *setpointState, in ResolutionInput, trail *reasonTrail) layerOutcome {
	if in.Phase != domain.PHASE_PRE_OPEN || !in.Profile.SmartStart.Enabled {
		return layerOutcome{}
	}
	est := in.Estimate
	if est == nil || !in.Now.Before(est.StartAt) {
		// conditioning has started, the occupied baseline already applies
		trail.smartStart = "Smart Start pre-conditioning"
		if est != nil && est.OccupancyOverride {
			trail.smartStart = "Smart Start pre-conditioning (occupancy detected)"
		}
		return layerOutcome{applied: true, note: "pre-conditioning"}
	}
	unocc := in.Profile.Unoccupied
	st.heat = math.Min(st.heat, unocc.Heat)
	st.cool = math.Max(st.cool, unocc.Cool)
	st.mode = unocc.Mode
	st.fan = unocc.Fan
	at := est.StartAt.In(location(in.Location)).Format("15:04")
	trail.smartStart = "Smart Start scheduled for " + at
	return layerOutcome{applied: true, note: "holding until " + at}
}

func (e *ResolutionEngine) occupancyLayer(st *setpointState, in ResolutionInput, trail *reasonTrail) layerOutcome {
	toggle := in.Profile.Occupancy
	occ := in.Occupancy
	if in.Phase != domain.PHASE_OCCUPIED || !toggle.Enabled || toggle.Max <= 0 || !occ.Known || occ.Occupied {
		return layerOutcome{}
	}
	timeout := minutes(e.Config.OccupancyTimeoutMinutes)
	if occ.LastMotion != nil && in.Now.Sub(*occ.LastMotion) < timeout {
		return layerOutcome{}
	}
	st.heat -= toggle.Max
	st.cool += toggle.Max
	note := fmt.Sprintf("Occupancy: no motion, relaxed %.1f°F", toggle.Max)
	if occ.LastMotion != nil {
		note = fmt.Sprintf("Occupancy: no motion for %d min, relaxed %.1f°F",
			int(in.Now.Sub(*occ.LastMotion).Minutes()), toggle.Max)
	}
	trail.annotations = append(trail.annotations, note)
	return layerOutcome{applied: true, note: note}
}

func (e *ResolutionEngine) feelsLikeLayer(st *setpointState, in ResolutionInput, trail *reasonTrail) layerOutcome {
	toggle := in.Profile.FeelsLike
	if in.Phase != domain.PHASE_OCCUPIED || !toggle.Enabled || in.Indoor == nil || in.Humidity == nil {
		return layerOutcome{}
	}
	offset := e.HeatIndex.FeelsLikeOffset(*in.Indoor, *in.Humidity, toggle.Max)
	if offset <= 0 {
		return layerOutcome{}
	}
	st.cool -= offset
	note := fmt.Sprintf("Feels like %.1f°F, cool lowered %.1f°F", *in.Indoor+offset, offset)
	trail.annotations = append(trail.annotations, note)
	return layerOutcome{applied: true, note: note}
}

func (e *ResolutionEngine) overrideLayer(st *setpointState, in ResolutionInput, trail *reasonTrail) layerOutcome {
	o := in.Override
	if in.Phase == domain.PHASE_UNOCCUPIED || o == nil || !o.ActiveAt(in.Now) {
		return layerOutcome{}
	}
	bounds := in.Profile.Override
	offset := clampFloat(o.Offset, -bounds.MaxLower, bounds.MaxRaise)
	st.heat += offset
	st.cool += offset
	remaining := int(math.Ceil(o.ExpiresAt.Sub(in.Now).Minutes()))
	trail.override = fmt.Sprintf("Manager override active, %d min remaining", remaining)
	return layerOutcome{applied: true, note: fmt.Sprintf("offset %+.1f°F", offset)}
}

func (e *ResolutionEngine) deadbandLayer(st *setpointState) layerOutcome {
	db := e.Config.Deadband
	if st.mode != domain.HVAC_MODE_HEAT_COOL || db <= 0 || st.cool-st.heat >= db {
		return layerOutcome{}
	}
	mid := (st.heat + st.cool) / 2
	st.heat = mid - db/2
	st.cool = mid + db/2
	return layerOutcome{applied: true, note: fmt.Sprintf("widened to %.1f°F", db)}
}

func (e *ResolutionEngine) guardrailLayer(st *setpointState, in ResolutionInput, trail *reasonTrail) layerOutcome {
	lo, hi := in.Profile.GuardrailMin, in.Profile.GuardrailMax
	// always enforced, even on a degenerate band
	if hi < lo {
		lo, hi = hi, lo
	}
	clamped := false
	if st.heat < lo || st.heat > hi {
		st.heat = clampFloat(st.heat, lo, hi)
		clamped = true
	}
	if st.cool < lo || st.cool > hi {
		st.cool = clampFloat(st.cool, lo, hi)
		clamped = true
	}

	if in.Indoor != nil {
		projected := *in.Indoor
		if in.Trend != nil {
			projected += *in.Trend * e.Config.Interval().Minutes()
		}
		margin := e.Config.RecoveryMargin
		switch {
		case projected <= lo:
			st.mode = domain.HVAC_MODE_HEAT
			st.heat = math.Min(lo+margin, hi)
			st.cool = math.Max(st.cool, math.Min(st.heat+e.Config.Deadband, hi))
			trail.guardrail = "Guardrail: forcing heat"
			return layerOutcome{applied: true, note: fmt.Sprintf("projected %.1f°F at or below %.1f°F", projected, lo)}
		case projected >= hi:
			st.mode = domain.HVAC_MODE_COOL
			st.cool = math.Max(hi-margin, lo)
			st.heat = math.Min(st.heat, math.Max(st.cool-e.Config.Deadband, lo))
			trail.guardrail = "Guardrail: forcing cool"
			return layerOutcome{applied: true, note: fmt.Sprintf("projected %.1f°F at or above %.1f°F", projected, hi)}
		}
	}
	if clamped {
		trail.annotations = append(trail.annotations, fmt.Sprintf("Guardrail clamp [%.0f, %.0f]", lo, hi))
		return layerOutcome{applied: true, note: "clamped"}
	}
	return layerOutcome{}
}

func (e *ResolutionEngine) reason(phase domain.Phase, trail *reasonTrail) (domain.ReasonCode, string) {
	switch {
	case trail.guardrail != "":
		return domain.REASON_GUARDRAIL, trail.guardrail
	case trail.override != "":
		return domain.REASON_MANAGER_OVERRIDE, trail.override
	case trail.smartStart != "":
		return domain.REASON_SMART_START, trail.smartStart
	case phase == domain.PHASE_UNOCCUPIED:
		return domain.REASON_UNOCCUPIED, "Unoccupied setpoints"
	default:
		return domain.REASON_OCCUPIED, "Occupied setpoints"
	}
}

func snapshot(kind domain.LayerKind, applied bool, st setpointState, note string) domain.LayerResult {
	return domain.LayerResult{
		Kind:         kind,
		Applied:      applied,
		HeatSetpoint: round1(st.heat),
		CoolSetpoint: round1(st.cool),
		Mode:         st.mode,
		Note:         note,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
