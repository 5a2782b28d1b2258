package mqtt

import (
	"testing"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := inputNumberCommandExtractor("loremTopic")
	cmd, err := parseInputNumberCommand(r, "loremTopic/number/sales_floor_manager_override/set", []byte(" -1.5 "))

	assert.NoError(err)
	assert.Equal("sales_floor_manager_override", cmd.DeviceId, "number_id extract")
	assert.Equal(COMMAND_NUMBER, cmd.Command)
	assert.Equal("-1.5", cmd.Payload)
}

func TestInputNumberCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := inputNumberCommandExtractor("loremTopic")

	_, err := parseInputNumberCommand(r, "loremTopic/number/number_name/state", []byte("1"))
	assert.ErrorIs(err, ErrInvalidCommand)

	_, err = parseInputNumberCommand(r, "otherTopic/number/number_name/set", []byte("1"))
	assert.ErrorIs(err, ErrInvalidCommand)

	_, err = parseInputNumberCommand(r, "loremTopic/number/number_name/set", []byte("warm"))
	assert.Error(err)
}

func TestTelemetrySensorNumber(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/sensor.floor_temp", []byte("71.5"), now)
	require.NoError(t, err)
	assert.Equal(t, TELEMETRY_SENSOR, tel.Kind)
	require.NotNil(t, tel.Reading)
	assert.Equal(t, "sensor.floor_temp", tel.Reading.EntityId)
	assert.Equal(t, 71.5, *tel.Reading.Value)
	assert.Equal(t, now, tel.Reading.Timestamp)
}

func TestTelemetrySensorOccupancy(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/motion_1", []byte("ON"), now)
	require.NoError(t, err)
	assert.Equal(t, domain.DEVICE_CLASS_OCCUPANCY, tel.Reading.Class)
	assert.Equal(t, 1.0, *tel.Reading.Value)

	tel, err = parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/motion_1", []byte("off"), now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, *tel.Reading.Value)
}

func TestTelemetrySensorJSON(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")
	payload := `{"entity_id":"ignored","device_class":"humidity","value":48,"timestamp":"2024-06-03T05:59:00Z"}`

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/rh_1", []byte(payload), now)
	require.NoError(t, err)
	assert.Equal(t, "rh_1", tel.Reading.EntityId)
	assert.Equal(t, domain.DEVICE_CLASS_HUMIDITY, tel.Reading.Class)
	assert.Equal(t, 48.0, *tel.Reading.Value)
	assert.Equal(t, now.Add(-time.Minute), tel.Reading.Timestamp)
}

func TestTelemetrySensorUnavailable(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/rh_1", []byte("unavailable"), now)
	require.NoError(t, err)
	assert.False(t, tel.Reading.HasValue())
}

func TestTelemetryThermostat(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")
	payload := `{"temperature":70.2,"heat_setpoint":68,"cool_setpoint":76,"mode":"heat_cool","action":"heating"}`

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/thermostat/sales_floor", []byte(payload), now)
	require.NoError(t, err)
	require.NotNil(t, tel.Thermostat)
	assert.Equal(t, "sales_floor", tel.Thermostat.ZoneId)
	assert.Equal(t, 70.2, *tel.Thermostat.Temperature)
	assert.Equal(t, domain.HVAC_ACTION_HEATING, tel.Thermostat.Action)
	assert.Equal(t, now, tel.Thermostat.LastSync)
}

func TestTelemetryEquipment(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")
	payload := `{"compressor_on":true,"coil_temperature":40.5,"timestamp":"2024-06-03T05:58:00Z"}`

	tel, err := parseTelemetry(r, "setpoint2mqtt/telemetry/equipment/rtu_1", []byte(payload), now)
	require.NoError(t, err)
	require.NotNil(t, tel.Sample)
	assert.Equal(t, "rtu_1", tel.Sample.EquipmentId)
	assert.True(t, tel.Sample.CompressorOn)
	assert.Equal(t, now.Add(-2*time.Minute), tel.Sample.Timestamp)
}

func TestTelemetryParseFail(t *testing.T) {
	r := telemetryExtractor("setpoint2mqtt")

	_, err := parseTelemetry(r, "setpoint2mqtt/telemetry/door/d1", []byte("1"), now)
	assert.ErrorIs(t, err, ErrInvalidTelemetry)

	_, err = parseTelemetry(r, "setpoint2mqtt/number/x/set", []byte("1"), now)
	assert.ErrorIs(t, err, ErrInvalidTelemetry)

	_, err = parseTelemetry(r, "setpoint2mqtt/telemetry/thermostat/z", []byte("{"), now)
	assert.Error(t, err)

	_, err = parseTelemetry(r, "setpoint2mqtt/telemetry/sensor/z", []byte("warm"), now)
	assert.Error(t, err)
}
