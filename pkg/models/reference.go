package models

import "time"

// Location is a named work site.
type Location struct {
	LocationName string  `db:"location_name" json:"location_name"`
	Address      string  `db:"address" json:"address"`
	Description  string  `db:"description" json:"description"`
	Latitude     float64 `db:"latitude" json:"latitude"`
	Longitude    float64 `db:"longitude" json:"longitude"`
}

type Hazard struct {
	HazardID    string `db:"hazard_id" json:"hazard_id"`
	HazardName  string `db:"hazard_name" json:"hazard_name"`
	Description string `db:"description" json:"description"`
	Category    string `db:"category" json:"category"`
}

// LocationHazard links a hazard to a location with the assessed risk there.
type LocationHazard struct {
	LocationHazardID string     `db:"location_hazard_id" json:"location_hazard_id"`
	LocationName     string     `db:"location_name" json:"location_name"`
	HazardID         string     `db:"hazard_id" json:"hazard_id"`
	RiskLevel        string     `db:"risk_level" json:"risk_level"`
	Notes            string     `db:"notes" json:"notes"`
	LastAssessedDate *time.Time `db:"last_assessed_date" json:"last_assessed_date,omitempty"`
}

const ControlMeasureStatusActive = "Active"

type ControlMeasure struct {
	ControlMeasureID   string     `db:"control_measure_id" json:"control_measure_id"`
	LocationHazardID   string     `db:"location_hazard_id" json:"location_hazard_id"`
	ControlMeasure     string     `db:"control_measure" json:"control_measure"`
	ImplementationDate *time.Time `db:"implementation_date" json:"implementation_date,omitempty"`
	Status             string     `db:"status" json:"status"`
	ResponsiblePerson  string     `db:"responsible_person" json:"responsible_person"`
}

// IsActive reports whether the measure is currently in force.
func (c ControlMeasure) IsActive() bool {
	return c.Status == ControlMeasureStatusActive
}

type Incident struct {
	IncidentID   string     `db:"incident_id" json:"incident_id"`
	LocationName string     `db:"location_name" json:"location_name"`
	HazardID     string     `db:"hazard_id" json:"hazard_id"`
	IncidentDate *time.Time `db:"incident_date" json:"incident_date,omitempty"`
	Description  string     `db:"description" json:"description"`
	Severity     string     `db:"severity" json:"severity"`
	Outcome      string     `db:"outcome" json:"outcome"`
}
