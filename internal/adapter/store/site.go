package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berfenger/setpoint2mqtt/internal/config"
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"
	"github.com/berfenger/setpoint2mqtt/internal/core/port"
)

var WEEKDAYS = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// SiteStore is the read-only site description: zones, profiles, store hours and equipment.
type SiteStore struct {
	zones     map[string]domain.Zone
	profiles  map[string]domain.Profile
	hours     map[string]domain.StoreHours
	equipment map[string]domain.Equipment
	rampRates []domain.RampRateStat
}

// ensure interface compliance
var _ port.SiteRepository = (*SiteStore)(nil)

// NewSiteStore builds the store from the site file. Broken references are returned as
// issues, malformed values as an error.
func NewSiteStore(site *config.SiteConfig) (*SiteStore, []domain.ConfigIssue, error) {
	s := &SiteStore{
		zones:     make(map[string]domain.Zone),
		profiles:  make(map[string]domain.Profile),
		hours:     make(map[string]domain.StoreHours),
		equipment: make(map[string]domain.Equipment),
	}
	var issues []domain.ConfigIssue

	for _, def := range site.Sites {
		hours, err := storeHours(def)
		if err != nil {
			return nil, nil, err
		}
		s.hours[def.Id] = hours
	}

	for _, def := range site.Profiles {
		if def.GuardrailMax <= def.GuardrailMin {
			return nil, nil, fmt.Errorf("profile %s: guardrail_min %.1f must be below guardrail_max %.1f",
				def.Id, def.GuardrailMin, def.GuardrailMax)
		}
		s.profiles[def.Id] = profile(def)
	}

	for _, def := range site.Equipment {
		s.equipment[def.Id] = domain.Equipment{
			Id:             def.Id,
			Class:          def.Class,
			RatedDeltaT:    def.RatedDeltaT,
			NominalCurrent: def.NominalCurrent,
		}
	}

	for _, def := range site.Zones {
		zone := domain.Zone{
			Id:           def.Id,
			Name:         def.Name,
			Type:         def.Type,
			Scope:        domain.ControlScope(strings.ToLower(def.Scope)),
			SiteId:       def.Site,
			ProfileId:    def.Profile,
			EquipmentId:  def.Equipment,
			ThermostatId: def.Thermostat,
		}
		if zone.Scope == "" {
			zone.Scope = domain.CONTROL_SCOPE_MANAGED
		}
		if zone.Name == "" {
			zone.Name = zone.Id
		}
		for _, b := range def.Sensors {
			zone.Bindings = append(zone.Bindings, domain.ZoneSensorBinding{
				ZoneId:   zone.Id,
				EntityId: b.Entity,
				Class:    domain.DeviceClass(strings.ToLower(b.Class)),
				Role:     b.Role,
				Weight:   b.Weight,
			})
		}
		if zone.Managed() {
			if _, ok := s.profiles[zone.ProfileId]; !ok {
				issues = append(issues, domain.ConfigIssue{
					Subject: zone.Id,
					Code:    domain.ISSUE_UNKNOWN_PROFILE,
					Detail:  fmt.Sprintf("profile %q is not defined", zone.ProfileId),
				})
			}
			if _, ok := s.hours[zone.SiteId]; !ok {
				issues = append(issues, domain.ConfigIssue{
					Subject: zone.Id,
					Code:    domain.ISSUE_UNKNOWN_SITE,
					Detail:  fmt.Sprintf("site %q is not defined", zone.SiteId),
				})
			}
		}
		s.zones[zone.Id] = zone
	}

	for _, def := range site.RampRates {
		s.rampRates = append(s.rampRates, domain.RampRateStat{
			ZoneId:        def.Zone,
			Mode:          domain.HVACMode(strings.ToLower(def.Mode)),
			RatePerMinute: def.Rate,
			Samples:       def.Samples,
		})
	}

	return s, issues, nil
}

func storeHours(def config.SiteDefinition) (domain.StoreHours, error) {
	loc := time.UTC
	if def.Timezone != "" {
		l, err := time.LoadLocation(def.Timezone)
		if err != nil {
			return domain.StoreHours{}, fmt.Errorf("site %s: %w", def.Id, err)
		}
		loc = l
	}
	hours := domain.StoreHours{SiteId: def.Id, Location: loc}
	for d := range hours.Days {
		hours.Days[d] = domain.DayHours{Closed: true}
	}
	for name, h := range def.Hours {
		day, ok := WEEKDAYS[strings.ToLower(name)]
		if !ok {
			return domain.StoreHours{}, fmt.Errorf("site %s: unknown weekday %q", def.Id, name)
		}
		if h.Closed {
			continue
		}
		openAt, err := config.ParseClock(h.Open)
		if err != nil {
			return domain.StoreHours{}, fmt.Errorf("site %s %s: %w", def.Id, name, err)
		}
		closeAt, err := config.ParseClock(h.Close)
		if err != nil {
			return domain.StoreHours{}, fmt.Errorf("site %s %s: %w", def.Id, name, err)
		}
		hours.Days[day] = domain.DayHours{Open: openAt, Close: closeAt}
	}
	return hours, nil
}

func setpoints(def config.SetpointDefinition) domain.SetpointSet {
	set := domain.SetpointSet{
		Heat: def.Heat,
		Cool: def.Cool,
		Mode: domain.HVACMode(strings.ToLower(def.Mode)),
		Fan:  domain.FanMode(strings.ToLower(def.Fan)),
	}
	if set.Mode == "" {
		set.Mode = domain.HVAC_MODE_HEAT_COOL
	}
	if set.Fan == "" {
		set.Fan = domain.FAN_MODE_AUTO
	}
	return set
}

func profile(def config.ProfileDefinition) domain.Profile {
	return domain.Profile{
		Id:           def.Id,
		Name:         def.Name,
		Occupied:     setpoints(def.Occupied),
		Unoccupied:   setpoints(def.Unoccupied),
		GuardrailMin: def.GuardrailMin,
		GuardrailMax: def.GuardrailMax,
		Override: domain.OverrideBounds{
			MaxRaise:     def.Override.MaxRaise,
			MaxLower:     def.Override.MaxLower,
			ResetMinutes: def.Override.ResetMinutes,
		},
		SmartStart: domain.LayerToggle{Enabled: def.SmartStart.Enabled, Max: def.SmartStart.Max},
		Occupancy:  domain.LayerToggle{Enabled: def.Occupancy.Enabled, Max: def.Occupancy.Max},
		FeelsLike:  domain.LayerToggle{Enabled: def.FeelsLike.Enabled, Max: def.FeelsLike.Max},
	}
}

// Zones returns every zone ordered by id.
func (s *SiteStore) Zones() []domain.Zone {
	zones := make([]domain.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Id < zones[j].Id })
	return zones
}

func (s *SiteStore) Zone(id string) (domain.Zone, error) {
	z, ok := s.zones[id]
	if !ok {
		return domain.Zone{}, fmt.Errorf("%w: %s", domain.ErrUnknownZone, id)
	}
	return z, nil
}

func (s *SiteStore) Profile(id string) (domain.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %s", domain.ErrUnknownProfile, id)
	}
	return p, nil
}

func (s *SiteStore) StoreHours(siteId string) (domain.StoreHours, error) {
	h, ok := s.hours[siteId]
	if !ok {
		return domain.StoreHours{}, fmt.Errorf("%w: %s", domain.ErrUnknownSite, siteId)
	}
	return h, nil
}

func (s *SiteStore) Equipment(id string) (domain.Equipment, bool) {
	e, ok := s.equipment[id]
	return e, ok
}

func (s *SiteStore) EquipmentList() []domain.Equipment {
	list := make([]domain.Equipment, 0, len(s.equipment))
	for _, e := range s.equipment {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}

// StaticRampRates are the ramp rates declared in the site file.
func (s *SiteStore) StaticRampRates() []domain.RampRateStat {
	return append([]domain.RampRateStat(nil), s.rampRates...)
}
