package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/models"
)

// SafetyCheckRequestRepo defines the request store operations
type SafetyCheckRequestRepo interface {
	Create(ctx context.Context, request *models.SafetyCheckRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SafetyCheckRequest, error)
	Complete(ctx context.Context, id uuid.UUID, response string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WorkOrderRepo defines the work order store operations
type WorkOrderRepo interface {
	List(ctx context.Context) ([]models.WorkOrder, error)
	GetByID(ctx context.Context, id string) (*models.WorkOrder, error)
	UpdateSchedule(ctx context.Context, id string, start, finish time.Time) error
	RecordSafetyCheck(ctx context.Context, id string, response string, performedAt time.Time) error
}

// LocationRepo defines the location store operations
type LocationRepo interface {
	List(ctx context.Context) ([]models.Location, error)
	GetByName(ctx context.Context, name string) (*models.Location, error)
}

// HazardRepo defines the read operations over hazards, control measures and incidents
type HazardRepo interface {
	ListLocationHazards(ctx context.Context, locationName string) ([]models.LocationHazard, error)
	GetHazard(ctx context.Context, hazardID string) (*models.Hazard, error)
	ListControlMeasures(ctx context.Context, locationHazardID string) ([]models.ControlMeasure, error)
	ListIncidents(ctx context.Context, locationName string) ([]models.Incident, error)
}

var (
	_ SafetyCheckRequestRepo = (*SafetyCheckRequestRepository)(nil)
	_ WorkOrderRepo          = (*WorkOrderRepository)(nil)
	_ LocationRepo           = (*LocationRepository)(nil)
	_ HazardRepo             = (*HazardRepository)(nil)
)
