package domain

import "fmt"

// EngineRequest is any request routed by the master to the engine actor.

type EngineRequest interface {
	ActorRequest
	EngineCommand() string
}

type EngineRequestMixIn struct {
	ActorRequestMixIn
}

func (r EngineRequestMixIn) EngineCommand() string {
	return fmt.Sprintf("%T", r)
}

// Engine commands

type EvaluateZoneRequest struct {
	EngineRequestMixIn
	ZoneId string
}

type EvaluateZoneResponse struct {
	ActorResponseMixIn
	Evaluation *ZoneEvaluation
}

type EvaluateAllRequest struct {
	EngineRequestMixIn
}

type EvaluateAllResponse struct {
	ActorResponseMixIn
	Evaluated int
	Failed    int
}

type GetZoneStatusRequest struct {
	EngineRequestMixIn
	ZoneId string
}

type GetZoneStatusResponse struct {
	ActorResponseMixIn
	Evaluation *ZoneEvaluation
	Override   *ManagerOverride
}

type SetManagerOverrideRequest struct {
	EngineRequestMixIn
	ZoneId string
	Offset float64
}

type SetManagerOverrideResponse struct {
	ActorResponseMixIn
	Override *ManagerOverride
}

type ClearManagerOverrideRequest struct {
	EngineRequestMixIn
	ZoneId string
}

type ClearManagerOverrideResponse struct {
	ActorResponseMixIn
	Cleared bool
}

// ensure interface compliance
var _ EngineRequest = (*EvaluateZoneRequest)(nil)
var _ EngineRequest = (*SetManagerOverrideRequest)(nil)
