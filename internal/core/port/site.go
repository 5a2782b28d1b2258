package port

import (
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
)

type Clock interface {
	Now() time.Time
}

type SiteRepository interface {
	Zones() []domain.Zone
	Zone(id string) (domain.Zone, error)
	Profile(id string) (domain.Profile, error)
	StoreHours(siteId string) (domain.StoreHours, error)
	Equipment(id string) (domain.Equipment, bool)
}

// TelemetryRepository exposes the latest known state of sensors, thermostats and equipment.
type TelemetryRepository interface {
	LatestReading(entityId string) (domain.SensorReading, bool)
	Thermostat(zoneId string) (domain.ThermostatState, bool)
	EquipmentWindow(equipmentId string, since time.Time) (domain.EquipmentWindow, bool)
	Occupancy(zone domain.Zone) domain.OccupancyState
}

type TelemetryWriter interface {
	RecordReading(reading domain.SensorReading)
	RecordThermostat(state domain.ThermostatState)
	RecordEquipmentSample(sample domain.EquipmentSample)
}
