package models

import "time"

// Keys holding the output of a previous safety check. They must never be fed back into a prompt.
const (
	StaleResponseKey    = "safetycheckresponse"
	StalePerformedAtKey = "safetyCheckPerformedAt"
)

// WorkOrder is a unit of field work. JSON keys keep the names clients already consume.
type WorkOrder struct {
	WorkOrderID              string     `db:"work_order_id" json:"work_order_id"`
	AssetID                  string     `db:"asset_id" json:"asset_id"`
	Description              string     `db:"description" json:"description"`
	LocationName             string     `db:"location_name" json:"location_name"`
	OwnerName                string     `db:"owner_name" json:"owner_name"`
	Priority                 string     `db:"priority" json:"priority"`
	Status                   string     `db:"status" json:"status"`
	ScheduledStartTimestamp  *time.Time `db:"scheduled_start_timestamp" json:"scheduled_start_timestamp,omitempty"`
	ScheduledFinishTimestamp *time.Time `db:"scheduled_finish_timestamp" json:"scheduled_finish_timestamp,omitempty"`
	SafetyCheckResponse      *string    `db:"safety_check_response" json:"safetycheckresponse,omitempty"`
	SafetyCheckPerformedAt   *time.Time `db:"safety_check_performed_at" json:"safetyCheckPerformedAt,omitempty"`
	UpdatedAt                time.Time  `db:"updated_at" json:"-"`

	LocationDetails *Location `db:"-" json:"location_details"`
}

// TableName returns the database table name
func (WorkOrder) TableName() string {
	return "work_orders"
}
