package events

import (
	"time"

	. "github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

func ZoneEvaluationToUpdateEvents(ev *ZoneEvaluation) []any {
	var events []any

	// Aggregates
	if agg, ok := ev.Aggregates[DEVICE_CLASS_TEMPERATURE]; ok && agg.HasValue {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_TEMPERATURE),
			},
			Value:    agg.Value,
			Decimals: 1,
		})
	}
	if agg, ok := ev.Aggregates[DEVICE_CLASS_HUMIDITY]; ok && agg.HasValue {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_HUMIDITY),
			},
			Value:    agg.Value,
			Decimals: 1,
		})
	}

	if !ev.Managed {
		return events
	}

	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: ZoneEntityId(ev.ZoneId, FIELD_FRESHNESS),
		},
		Value: string(ev.Freshness),
	})

	// Directive
	if d := ev.Directive; d != nil {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_HEAT_SETPOINT),
			},
			Value:    d.HeatSetpoint,
			Decimals: 1,
		})
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_COOL_SETPOINT),
			},
			Value:    d.CoolSetpoint,
			Decimals: 1,
		})
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_MODE),
			},
			Value: string(d.Mode),
		})
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_PHASE),
			},
			Value: string(d.Phase),
		})
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_REASON),
			},
			Value: d.ReasonText,
		})
	}

	// Smart Start
	if est := ev.SmartStart; est != nil {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_SMART_START_AT),
			},
			Value: est.StartAt.UTC().Format(time.RFC3339),
		})
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_SMART_START_LEAD),
			},
			Value:    float64(est.FinalLeadMinutes),
			Decimals: 0,
		})
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(ev.ZoneId, FIELD_SMART_START_CONFIDENCE),
			},
			Value: string(est.Confidence),
		})
	}

	return events
}

// AnomalyFlagsToUpdateEvents emits the state of every known anomaly of an equipment,
// so cleared flags switch back off.
func AnomalyFlagsToUpdateEvents(equipmentId string, flags []AnomalyFlag) []any {
	active := make(map[string]bool, len(flags))
	for _, f := range flags {
		active[f.Name] = true
	}
	var events []any
	for _, name := range ANOMALY_NAMES {
		events = append(events, BinarySensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: ZoneEntityId(equipmentId, name),
			},
			Value: active[name],
		})
	}
	return events
}

func OverrideToUpdateEvents(zoneId string, override *ManagerOverride) []any {
	value := 0.0
	if override != nil {
		value = override.Offset
	}
	return []any{InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: ZoneEntityId(zoneId, INPUT_NUMBER_FIELD_OVERRIDE),
		},
		Value:    value,
		Decimals: 1,
	}}
}
