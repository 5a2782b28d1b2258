package store

import (
	"sync"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
)

// TelemetryStore keeps the latest state reported by every sensor, thermostat and
// equipment unit. Equipment samples are kept for a bounded retention window.
type TelemetryStore struct {
	site      port.SiteRepository
	retention time.Duration

	mu          sync.RWMutex
	readings    map[string]domain.SensorReading
	thermostats map[string]domain.ThermostatState
	samples     map[string][]domain.EquipmentSample
	cycles      map[string][]domain.CycleEvent
	motion      map[string]time.Time
}

// ensure interface compliance
var _ port.TelemetryRepository = (*TelemetryStore)(nil)
var _ port.TelemetryWriter = (*TelemetryStore)(nil)

func NewTelemetryStore(site port.SiteRepository, retention time.Duration) *TelemetryStore {
	return &TelemetryStore{
		site:        site,
		retention:   retention,
		readings:    make(map[string]domain.SensorReading),
		thermostats: make(map[string]domain.ThermostatState),
		samples:     make(map[string][]domain.EquipmentSample),
		cycles:      make(map[string][]domain.CycleEvent),
		motion:      make(map[string]time.Time),
	}
}

func (s *TelemetryStore) RecordReading(reading domain.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.readings[reading.EntityId]; ok && reading.Timestamp.Before(prev.Timestamp) {
		return
	}
	s.readings[reading.EntityId] = reading
	if motionDetected(reading) {
		s.motion[reading.EntityId] = reading.Timestamp
	}
}

func (s *TelemetryStore) RecordThermostat(state domain.ThermostatState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.thermostats[state.ZoneId]; ok && state.LastSync.Before(prev.LastSync) {
		return
	}
	s.thermostats[state.ZoneId] = state
	if state.Occupied != nil && *state.Occupied {
		s.motion[thermostatMotionKey(state.ZoneId)] = state.LastSync
	}
}

// RecordEquipmentSample appends a sample and derives a cycle event whenever the
// compressor changes state.
func (s *TelemetryStore) RecordEquipmentSample(sample domain.EquipmentSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := sample.EquipmentId
	samples := s.samples[id]
	if n := len(samples); n > 0 {
		last := samples[n-1]
		if !sample.Timestamp.After(last.Timestamp) {
			return
		}
		if last.CompressorOn != sample.CompressorOn {
			s.cycles[id] = append(s.cycles[id], domain.CycleEvent{Timestamp: sample.Timestamp, On: sample.CompressorOn})
		}
	}
	samples = append(samples, sample)

	horizon := sample.Timestamp.Add(-s.retention)
	s.samples[id] = pruneSamples(samples, horizon)
	s.cycles[id] = pruneCycles(s.cycles[id], horizon)
}

func (s *TelemetryStore) LatestReading(entityId string) (domain.SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[entityId]
	return r, ok
}

func (s *TelemetryStore) Thermostat(zoneId string) (domain.ThermostatState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.thermostats[zoneId]
	return t, ok
}

func (s *TelemetryStore) EquipmentWindow(equipmentId string, since time.Time) (domain.EquipmentWindow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	samples := s.samples[equipmentId]
	if len(samples) == 0 {
		return domain.EquipmentWindow{}, false
	}
	window := domain.EquipmentWindow{Equipment: domain.Equipment{Id: equipmentId}}
	if s.site != nil {
		if eq, ok := s.site.Equipment(equipmentId); ok {
			window.Equipment = eq
		}
	}
	for _, sample := range samples {
		if !sample.Timestamp.Before(since) {
			window.Samples = append(window.Samples, sample)
		}
	}
	for _, c := range s.cycles[equipmentId] {
		if !c.Timestamp.Before(since) {
			window.Cycles = append(window.Cycles, c)
		}
	}
	return window, true
}

// Occupancy merges the zone's occupancy sensors. Without any bound sensor the
// thermostat's own occupancy report is used.
func (s *TelemetryStore) Occupancy(zone domain.Zone) domain.OccupancyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := domain.OccupancyState{ZoneId: zone.Id}

	bindings := zone.BindingsFor(domain.DEVICE_CLASS_OCCUPANCY)
	for _, b := range bindings {
		r, ok := s.readings[b.EntityId]
		if !ok || !r.HasValue() {
			continue
		}
		state.Known = true
		if *r.Value > 0 {
			state.Occupied = true
			state.LastMotion = latest(state.LastMotion, r.Timestamp)
		}
		if at, ok := s.motion[b.EntityId]; ok {
			state.LastMotion = latest(state.LastMotion, at)
		}
	}
	if len(bindings) == 0 {
		if t, ok := s.thermostats[zone.Id]; ok && t.Occupied != nil {
			state.Known = true
			state.Occupied = *t.Occupied
			if at, ok := s.motion[thermostatMotionKey(zone.Id)]; ok {
				state.LastMotion = latest(state.LastMotion, at)
			}
		}
	}
	return state
}

func motionDetected(r domain.SensorReading) bool {
	return r.Class == domain.DEVICE_CLASS_OCCUPANCY && r.HasValue() && *r.Value > 0
}

func thermostatMotionKey(zoneId string) string {
	return "thermostat:" + zoneId
}

func latest(current *time.Time, candidate time.Time) *time.Time {
	if current == nil || candidate.After(*current) {
		return &candidate
	}
	return current
}

func pruneSamples(samples []domain.EquipmentSample, horizon time.Time) []domain.EquipmentSample {
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(horizon) {
		i++
	}
	return samples[i:]
}

func pruneCycles(cycles []domain.CycleEvent, horizon time.Time) []domain.CycleEvent {
	i := 0
	for i < len(cycles) && cycles[i].Timestamp.Before(horizon) {
		i++
	}
	return cycles[i:]
}
