package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE          = "bridge"
	FIELD_HEAT_SETPOINT             = "heat_setpoint"
	FIELD_COOL_SETPOINT             = "cool_setpoint"
	FIELD_TEMPERATURE               = "temperature"
	FIELD_HUMIDITY                  = "humidity"
	FIELD_MODE                      = "mode"
	FIELD_PHASE                     = "phase"
	FIELD_REASON                    = "reason"
	FIELD_FRESHNESS                 = "freshness"
	FIELD_SMART_START_AT            = "smart_start_at"
	FIELD_SMART_START_LEAD          = "smart_start_lead"
	FIELD_SMART_START_CONFIDENCE    = "smart_start_confidence"
	INPUT_NUMBER_FIELD_OVERRIDE     = "manager_override"
	STATE_CLASS_MEASUREMENT         = "measurement"
	DEVICE_CLASS_TEMPERATURE_ENTITY = "temperature"
	DEVICE_CLASS_HUMIDITY_ENTITY    = "humidity"
	DEVICE_CLASS_TIMESTAMP          = "timestamp"
	DEVICE_CLASS_DURATION           = "duration"
	DEVICE_CLASS_CONNECTIVITY       = "connectivity"
	DEVICE_CLASS_PROBLEM            = "problem"
	ENTITY_CLASS_DIAGNOSTIC         = "diagnostic"
	ENTITY_CLASS_CONFIG             = "config"
	SENSOR_TYPE_SENSOR              = "sensor"
	SENSOR_TYPE_BINARY              = "binary_sensor"
	INPUT_NUMBER_MODE_BOX           = "box"
	INPUT_NUMBER_MODE_SLIDER        = "slider"
	UNIT_FAHRENHEIT                 = "°F"
	UNIT_PERCENT                    = "%"
	UNIT_MINUTES                    = "min"
	OVERRIDE_STEP                   = 0.5
	ENTITY_ID_SEPARATOR             = "_"
	ZONE_DEVICE_MODEL               = "HVAC zone"
	EQUIPMENT_DEVICE_MODEL_PREFIX   = "RTU"
	BRIDGE_DEVICE_MANUFACTURER      = "ACasal"
	BRIDGE_DEVICE_MODEL             = "setpoint2mqtt"
	BRIDGE_DEVICE_NAME_PREFIX       = "Setpoint"
	ZONE_DEVICE_ID_PREFIX           = "sp_zone"
	EQUIPMENT_DEVICE_ID_PREFIX      = "sp_equipment"
	BRIDGE_DEVICE_ID_PREFIX         = "setpoint_bridge"
)

// ZoneEntityId is the id of a zone scoped entity, used in state topics.
func ZoneEntityId(zoneId string, field string) string {
	return zoneId + ENTITY_ID_SEPARATOR + field
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("%s_%s", BRIDGE_DEVICE_ID_PREFIX, md5HashShort(baseTopic)),
		Manufacturer: BRIDGE_DEVICE_MANUFACTURER,
		Model:        BRIDGE_DEVICE_MODEL,
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("%s %s", BRIDGE_DEVICE_NAME_PREFIX, md5HashShort(baseTopic)),
	}
}

func ZoneDevice(zone Zone, bridge Device) Device {
	return Device{
		Id:            fmt.Sprintf("%s_%s", ZONE_DEVICE_ID_PREFIX, md5HashShort(zone.SiteId+"/"+zone.Id)),
		Manufacturer:  BRIDGE_DEVICE_MANUFACTURER,
		Model:         ZONE_DEVICE_MODEL,
		Name:          zone.Name,
		SuggestedArea: zone.Name,
		ViaDevice:     bridge.Id,
	}
}

func EquipmentDevice(equipment Equipment, bridge Device) Device {
	model := EQUIPMENT_DEVICE_MODEL_PREFIX
	if equipment.Class != "" {
		model = fmt.Sprintf("%s %s", EQUIPMENT_DEVICE_MODEL_PREFIX, equipment.Class)
	}
	return Device{
		Id:           fmt.Sprintf("%s_%s", EQUIPMENT_DEVICE_ID_PREFIX, md5HashShort(equipment.Id)),
		Manufacturer: BRIDGE_DEVICE_MANUFACTURER,
		Model:        model,
		Name:         equipment.Id,
		ViaDevice:    bridge.Id,
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func ZoneSensors(zoneDevice Device, zone Zone) []GenericSensor {

	var sensors []GenericSensor

	temperature := func(field string, name string) GenericSensor {
		id := ZoneEntityId(zone.Id, field)
		return GenericSensor{
			Device:            zoneDevice,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              name,
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_TEMPERATURE_ENTITY,
			UnitOfMeasurement: UNIT_FAHRENHEIT,
			UniqueId:          uniqueId(zoneDevice.Id, id),
		}
	}
	text := func(field string, name string, icon string) GenericSensor {
		id := ZoneEntityId(zone.Id, field)
		return GenericSensor{
			Device:     zoneDevice,
			Id:         id,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       name,
			Icon:       icon,
			UniqueId:   uniqueId(zoneDevice.Id, id),
		}
	}

	// Aggregates
	sensors = append(sensors, temperature(FIELD_TEMPERATURE, "Temperature"))
	humidityId := ZoneEntityId(zone.Id, FIELD_HUMIDITY)
	sensors = append(sensors, GenericSensor{
		Device:            zoneDevice,
		Id:                humidityId,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Humidity",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_HUMIDITY_ENTITY,
		UnitOfMeasurement: UNIT_PERCENT,
		UniqueId:          uniqueId(zoneDevice.Id, humidityId),
	})

	if !zone.Managed() {
		return sensors
	}

	// Directive
	sensors = append(sensors, temperature(FIELD_HEAT_SETPOINT, "Heat setpoint"))
	sensors = append(sensors, temperature(FIELD_COOL_SETPOINT, "Cool setpoint"))
	sensors = append(sensors, text(FIELD_MODE, "HVAC mode", "mdi:thermostat"))
	sensors = append(sensors, text(FIELD_PHASE, "Phase", "mdi:store-clock"))
	sensors = append(sensors, text(FIELD_REASON, "Setpoint reason", "mdi:information-outline"))
	freshness := text(FIELD_FRESHNESS, "Thermostat freshness", "mdi:lan-connect")
	freshness.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
	sensors = append(sensors, freshness)

	// Smart Start
	startAtId := ZoneEntityId(zone.Id, FIELD_SMART_START_AT)
	sensors = append(sensors, GenericSensor{
		Device:      zoneDevice,
		Id:          startAtId,
		SensorType:  SENSOR_TYPE_SENSOR,
		Name:        "Smart Start time",
		DeviceClass: DEVICE_CLASS_TIMESTAMP,
		Icon:        "mdi:clock-start",
		UniqueId:    uniqueId(zoneDevice.Id, startAtId),
	})
	leadId := ZoneEntityId(zone.Id, FIELD_SMART_START_LEAD)
	sensors = append(sensors, GenericSensor{
		Device:            zoneDevice,
		Id:                leadId,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Smart Start lead",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_DURATION,
		UnitOfMeasurement: UNIT_MINUTES,
		UniqueId:          uniqueId(zoneDevice.Id, leadId),
	})
	sensors = append(sensors, text(FIELD_SMART_START_CONFIDENCE, "Smart Start confidence", "mdi:gauge"))

	return sensors
}

func ZoneInputNumbers(zoneDevice Device, zone Zone, profile Profile) []GenericInputNumber {
	id := ZoneEntityId(zone.Id, INPUT_NUMBER_FIELD_OVERRIDE)
	return []GenericInputNumber{{
		Device:            zoneDevice,
		Id:                id,
		Name:              "Manager override",
		UniqueId:          uniqueId(zoneDevice.Id, id),
		Icon:              "mdi:account-wrench",
		UnitOfMeasurement: UNIT_FAHRENHEIT,
		Min:               -profile.Override.MaxLower,
		Max:               profile.Override.MaxRaise,
		Step:              OVERRIDE_STEP,
		Mode:              INPUT_NUMBER_MODE_BOX,
		InitialValue:      0,
	}}
}

// EquipmentSensors declares one problem binary sensor per anomaly kind.
func EquipmentSensors(equipmentDevice Device, equipment Equipment) []GenericSensor {
	var sensors []GenericSensor
	for _, name := range ANOMALY_NAMES {
		id := ZoneEntityId(equipment.Id, name)
		sensors = append(sensors, GenericSensor{
			Device:           equipmentDevice,
			Id:               id,
			SensorType:       SENSOR_TYPE_BINARY,
			Name:             anomalyDisplayName(name),
			DeviceClass:      DEVICE_CLASS_PROBLEM,
			EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
			EnabledByDefault: optionalBool(name != ANOMALY_IDLE_HEAT_GAIN),
			UniqueId:         uniqueId(equipmentDevice.Id, id),
		})
	}
	return sensors
}

func anomalyDisplayName(name string) string {
	words := strings.Split(name, "_")
	if len(words) > 0 && words[0] != "" {
		words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	}
	return strings.Join(words, " ")
}

func uniqueId(deviceId string, entityId string) string {
	return fmt.Sprintf("uid_%s_%s", deviceId, entityId)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[:8]
}

func optionalBool(b bool) *bool {
	return &b
}
