package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE      = "online"
	MQTT_PAYLOAD_OFFLINE     = "offline"
	MQTT_PAYLOAD_ON          = "on"
	MQTT_PAYLOAD_OFF         = "off"
	MQTT_PAYLOAD_UNAVAILABLE = "unavailable"
	MQTT_PAYLOAD_UNKNOWN     = "unknown"
	TELEMETRY_SENSOR         = "sensor"
	TELEMETRY_THERMOSTAT     = "thermostat"
	TELEMETRY_EQUIPMENT      = "equipment"
	COMMAND_NUMBER           = "number"
)

var (
	ErrInvalidCommand   = errors.New("invalid command")
	ErrInvalidTelemetry = errors.New("invalid telemetry")
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("setpoint2mqtt_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:                   mqtt.NewClient(opts),
		cfg:                      cfg.MQTT,
		inputNumberCommandRegexp: inputNumberCommandExtractor(cfg.MQTT.BaseTopic),
		telemetryRegexp:          telemetryExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client                   mqtt.Client
	cfg                      config.MQTTConfig
	inputNumberCommandRegexp *regexp.Regexp
	telemetryRegexp          *regexp.Regexp
}

type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Param    string
	Payload  string
}

// Telemetry is one decoded telemetry message. Exactly one of the payload fields is set.
type Telemetry struct {
	Kind       string
	SourceId   string
	Reading    *domain.SensorReading
	Thermostat *domain.ThermostatState
	Sample     *domain.EquipmentSample
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) InputNumberStateTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/state", c.baseTopic(), id)
}

func (c *MQTTClient) InputNumberCommandTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/set", c.baseTopic(), id)
}

func (c *MQTTClient) ZoneDirectiveTopic(zoneId string) string {
	return fmt.Sprintf("%s/zone/%s/directive", c.baseTopic(), zoneId)
}

func (c *MQTTClient) TelemetryTopic(kind string, id string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", c.baseTopic(), kind, id)
}

func (c *MQTTClient) DiscoveryPrefix() string {
	if c.cfg.HADiscoveryTopic == "" {
		return "homeassistant"
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	return parseInputNumberCommand(c.inputNumberCommandRegexp, msg.Topic(), msg.Payload())
}

func (c *MQTTClient) ParseTelemetry(msg mqtt.Message, now time.Time) (*Telemetry, error) {
	return parseTelemetry(c.telemetryRegexp, msg.Topic(), msg.Payload(), now)
}

func parseInputNumberCommand(r *regexp.Regexp, topic string, payload []byte) (*ParsedMQTTCommand, error) {
	matches := r.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, ErrInvalidCommand
	}

	// try to parse a valid number
	value := strings.TrimSpace(string(payload))
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return nil, err
	}

	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  COMMAND_NUMBER,
		Payload:  value,
	}, nil
}

func parseTelemetry(r *regexp.Regexp, topic string, payload []byte, now time.Time) (*Telemetry, error) {
	matches := r.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 3 {
		return nil, ErrInvalidTelemetry
	}
	kind, id := matches[0][1], matches[0][2]
	result := &Telemetry{Kind: kind, SourceId: id}

	switch kind {
	case TELEMETRY_SENSOR:
		reading, err := parseSensorPayload(id, payload, now)
		if err != nil {
			return nil, err
		}
		result.Reading = reading
	case TELEMETRY_THERMOSTAT:
		var state domain.ThermostatState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("thermostat %s: %w", id, err)
		}
		state.ZoneId = id
		if state.LastSync.IsZero() {
			state.LastSync = now
		}
		result.Thermostat = &state
	case TELEMETRY_EQUIPMENT:
		var sample domain.EquipmentSample
		if err := json.Unmarshal(payload, &sample); err != nil {
			return nil, fmt.Errorf("equipment %s: %w", id, err)
		}
		sample.EquipmentId = id
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		result.Sample = &sample
	default:
		return nil, ErrInvalidTelemetry
	}
	return result, nil
}

// parseSensorPayload accepts a JSON reading, a plain number or an on/off state.
// On/off states are occupancy reports.
func parseSensorPayload(entityId string, payload []byte, now time.Time) (*domain.SensorReading, error) {
	reading := domain.SensorReading{EntityId: entityId, Timestamp: now}
	text := strings.TrimSpace(string(payload))

	switch strings.ToLower(text) {
	case MQTT_PAYLOAD_ON, "true":
		v := 1.0
		reading.Value = &v
		reading.Class = domain.DEVICE_CLASS_OCCUPANCY
		return &reading, nil
	case MQTT_PAYLOAD_OFF, "false":
		v := 0.0
		reading.Value = &v
		reading.Class = domain.DEVICE_CLASS_OCCUPANCY
		return &reading, nil
	case MQTT_PAYLOAD_UNAVAILABLE, MQTT_PAYLOAD_UNKNOWN, "":
		return &reading, nil
	}

	if v, err := strconv.ParseFloat(text, 64); err == nil {
		reading.Value = &v
		return &reading, nil
	}

	if err := json.Unmarshal([]byte(text), &reading); err != nil {
		return nil, fmt.Errorf("sensor %s: %w", entityId, err)
	}
	reading.EntityId = entityId
	if reading.Timestamp.IsZero() {
		reading.Timestamp = now
	}
	return &reading, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

// SubscribeToInputTopics subscribes to override commands and telemetry in one round trip.
func (c *MQTTClient) SubscribeToInputTopics(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	filters := map[string]byte{
		c.commandTopic():   1,
		c.telemetryTopic(): 0,
	}
	token := c.client.SubscribeMultiple(filters, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/number/+/set", c.baseTopic())
}

func (c *MQTTClient) telemetryTopic() string {
	return fmt.Sprintf("%s/telemetry/#", c.baseTopic())
}

func inputNumberCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/number/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func telemetryExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/telemetry/(sensor|thermostat|equipment)/([a-zA-Z0-9_.\\-]+)$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
