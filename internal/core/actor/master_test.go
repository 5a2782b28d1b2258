package actor

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	adactor "github.com/berfenger/setpoint2mqtt/internal/adapter/actor"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	f := newTestFixture(t)

	var mqttActor atomic.Pointer[adactor.MQTTActor]
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(f.config, f.services, func(es *eventstream.EventStream) *adactor.MQTTActor {
			act := adactor.NewTestMQTTActor(&f.config, es, f.logger)
			mqttActor.Store(act)
			return act
		}, f.logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(500 * time.Millisecond)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(t, err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.True(t, healthResp.Healthy, "healthy is true")

	// engine requests are answered through the master
	res, err = context.RequestFuture(pid, domain.EvaluateZoneRequest{ZoneId: "sales_floor"}, 3*time.Second).Result()
	require.NoError(t, err)
	evalResp, ok := res.(domain.EvaluateZoneResponse)
	require.True(t, ok)
	require.NoError(t, evalResp.GetResponseError())
	require.NotNil(t, evalResp.Evaluation.Directive)

	// an override command from MQTT reaches the engine
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.ZoneEntityId("sales_floor", domain.INPUT_NUMBER_FIELD_OVERRIDE),
		Command:  mqtt.COMMAND_NUMBER,
		Payload:  "-1.5",
	}})
	res, err = context.RequestFuture(pid, domain.GetZoneStatusRequest{ZoneId: "sales_floor"}, 2*time.Second).Result()
	require.NoError(t, err)
	status := res.(domain.GetZoneStatusResponse)
	require.NotNil(t, status.Override)
	assert.Equal(t, -1.5, status.Override.Offset)

	time.Sleep(200 * time.Millisecond)

	require.NotNil(t, mqttActor.Load())
	published := mqttActor.Load().Published()
	var discovery, directives int
	for _, msg := range published {
		switch {
		case strings.HasPrefix(msg.Topic, "homeassistant/"):
			discovery++
		case msg.Topic == "setpoint2mqtt/zone/sales_floor/directive":
			directives++
		}
	}
	// bridge, zone and equipment entities are announced
	assert.Greater(t, discovery, 10)
	assert.GreaterOrEqual(t, directives, 1)

	context.Stop(pid)

	as.Shutdown()
}
