package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
	"github.com/berfenger/setpoint2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

var ErrDiscoveryDependencies = errors.New("MQTT actor or engine actor are not healthy")

// HADiscoveryActor announces the bridge, zone and equipment entities once
// the MQTT and engine actors are up, then idles.
type HADiscoveryActor struct {
	config             *config.Config
	behavior           actor.Behavior
	stash              *actorutil.Stash
	site               port.SiteRepository
	mqttActor          *actor.PID
	engineActor        *actor.PID
	mqttActorHealthy   bool
	engineActorHealthy bool
	healthyRecv        int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, site port.SiteRepository, mqttActor *actor.PID, engineActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		site:        site,
		mqttActor:   mqttActor,
		engineActor: engineActor,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		state.healthyRecv = 0
		state.mqttActorHealthy = false
		state.engineActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.engineActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_ENGINE,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			case domain.ACTOR_ID_ENGINE:
				state.engineActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if !state.mqttActorHealthy || !state.engineActorHealthy {
				panic(ErrDiscoveryDependencies)
			}
			sensors, inputNumbers := state.entities()
			state.logger.Info("hadiscovery@healthcheck publishing discovery",
				zap.Int("sensors", len(sensors)), zap.Int("input_numbers", len(inputNumbers)))
			actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors:      sensors,
				InputNumbers: inputNumbers,
			}, 5*time.Second), func(err error) any {
				return domain.PublishDiscoveryResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				}
			})
			state.behavior.Become(state.WaitingPublishReceive)
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingPublishReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@publish: done")
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@publish: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

// entities lists every discoverable entity. Only the first entity of a device
// carries the full device block.
func (state *HADiscoveryActor) entities() ([]domain.GenericSensor, []domain.GenericInputNumber) {
	var sensors []domain.GenericSensor
	var inputNumbers []domain.GenericInputNumber

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	seenEquipment := make(map[string]bool)
	for _, zone := range state.site.Zones() {
		zoneDevice := domain.ZoneDevice(zone, bridgeDevice)
		zoneSensors := domain.ZoneSensors(zoneDevice, zone)
		for i := range zoneSensors {
			if i > 0 {
				zoneSensors[i].Device = domain.IdDevice(zoneDevice)
			}
			sensors = append(sensors, zoneSensors[i])
		}

		if zone.Managed() {
			profile, err := state.site.Profile(zone.ProfileId)
			if err != nil {
				state.logger.Warn("hadiscovery@info: zone without profile", zap.String("zone", zone.Id), zap.Error(err))
			} else {
				inputNumbers = append(inputNumbers, domain.ZoneInputNumbers(domain.IdDevice(zoneDevice), zone, profile)...)
			}
		}

		if zone.EquipmentId == "" || seenEquipment[zone.EquipmentId] {
			continue
		}
		equipment, ok := state.site.Equipment(zone.EquipmentId)
		if !ok {
			continue
		}
		seenEquipment[zone.EquipmentId] = true
		equipmentDevice := domain.EquipmentDevice(equipment, bridgeDevice)
		equipmentSensors := domain.EquipmentSensors(equipmentDevice, equipment)
		for i := range equipmentSensors {
			if i > 0 {
				equipmentSensors[i].Device = domain.IdDevice(equipmentDevice)
			}
			sensors = append(sensors, equipmentSensors[i])
		}
	}
	return sensors, inputNumbers
}
