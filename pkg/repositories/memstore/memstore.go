// Package memstore holds in-memory stores with the same contracts as the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
)

var (
	_ repositories.SafetyCheckRequestRepo = (*Requests)(nil)
	_ repositories.WorkOrderRepo          = (*WorkOrders)(nil)
	_ repositories.LocationRepo           = (*Locations)(nil)
	_ repositories.HazardRepo             = (*Hazards)(nil)
)

// Requests is an in-memory request store. Err, when set, is returned by every call.
type Requests struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.SafetyCheckRequest
	Err  error
	// Writes counts successful Complete and MarkFailed calls.
	Writes int
}

func NewRequests() *Requests {
	return &Requests{rows: map[uuid.UUID]models.SafetyCheckRequest{}}
}

func (s *Requests) Create(_ context.Context, request *models.SafetyCheckRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if request.RequestID == uuid.Nil {
		request.RequestID = uuid.New()
	}
	s.rows[request.RequestID] = *request
	return nil
}

func (s *Requests) GetByID(_ context.Context, id uuid.UUID) (*models.SafetyCheckRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	row, ok := s.rows[id]
	if !ok {
		return nil, repositories.NotFound("safety check request %s does not exist", id)
	}
	return &row, nil
}

func (s *Requests) Complete(_ context.Context, id uuid.UUID, response string) error {
	return s.transition(id, func(row *models.SafetyCheckRequest) {
		row.Status = models.RequestStatusCompleted
		row.SafetyCheckResponse = &response
	})
}

func (s *Requests) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return s.transition(id, func(row *models.SafetyCheckRequest) {
		row.Status = models.RequestStatusFailed
		row.FailureReason = &reason
	})
}

func (s *Requests) transition(id uuid.UUID, apply func(row *models.SafetyCheckRequest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	row, ok := s.rows[id]
	if !ok {
		return repositories.NotFound("safety check request %s does not exist", id)
	}
	if row.Status != models.RequestStatusPending {
		return models.ErrRequestNotPending
	}
	apply(&row)
	row.UpdatedAt = time.Now().UTC()
	s.rows[id] = row
	s.Writes++
	return nil
}

func (s *Requests) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var deleted int64
	for id, row := range s.rows {
		if row.TTL < now.Unix() {
			delete(s.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// All returns every stored request ordered by creation time.
func (s *Requests) All() []models.SafetyCheckRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.SafetyCheckRequest, 0, len(s.rows))
	for _, row := range s.rows {
		all = append(all, row)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}

// WorkOrders is an in-memory work order store.
type WorkOrders struct {
	mu   sync.Mutex
	rows map[string]models.WorkOrder
	Err  error
}

func NewWorkOrders(orders ...models.WorkOrder) *WorkOrders {
	s := &WorkOrders{rows: map[string]models.WorkOrder{}}
	for _, wo := range orders {
		s.rows[wo.WorkOrderID] = wo
	}
	return s
}

func (s *WorkOrders) List(context.Context) ([]models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	list := make([]models.WorkOrder, 0, len(s.rows))
	for _, wo := range s.rows {
		list = append(list, wo)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].WorkOrderID < list[j].WorkOrderID })
	return list, nil
}

func (s *WorkOrders) GetByID(_ context.Context, id string) (*models.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	wo, ok := s.rows[id]
	if !ok {
		return nil, repositories.NotFound("work order %s does not exist", id)
	}
	return &wo, nil
}

func (s *WorkOrders) UpdateSchedule(_ context.Context, id string, start, finish time.Time) error {
	return s.update(id, func(wo *models.WorkOrder) {
		wo.ScheduledStartTimestamp = &start
		wo.ScheduledFinishTimestamp = &finish
	})
}

func (s *WorkOrders) RecordSafetyCheck(_ context.Context, id string, response string, performedAt time.Time) error {
	return s.update(id, func(wo *models.WorkOrder) {
		wo.SafetyCheckResponse = &response
		wo.SafetyCheckPerformedAt = &performedAt
	})
}

func (s *WorkOrders) update(id string, apply func(wo *models.WorkOrder)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	wo, ok := s.rows[id]
	if !ok {
		return repositories.NotFound("work order %s does not exist", id)
	}
	apply(&wo)
	s.rows[id] = wo
	return nil
}

// Locations is an in-memory location store.
type Locations struct {
	rows map[string]models.Location
	Err  error
}

func NewLocations(locations ...models.Location) *Locations {
	s := &Locations{rows: map[string]models.Location{}}
	for _, l := range locations {
		s.rows[l.LocationName] = l
	}
	return s
}

func (s *Locations) List(context.Context) ([]models.Location, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	list := make([]models.Location, 0, len(s.rows))
	for _, l := range s.rows {
		list = append(list, l)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LocationName < list[j].LocationName })
	return list, nil
}

func (s *Locations) GetByName(_ context.Context, name string) (*models.Location, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	l, ok := s.rows[name]
	if !ok {
		return nil, repositories.NotFound("location %s does not exist", name)
	}
	return &l, nil
}

// Hazards is an in-memory hazard reference store. Rows come back in insertion order.
type Hazards struct {
	LocationHazards []models.LocationHazard
	Definitions     map[string]models.Hazard
	ControlMeasures []models.ControlMeasure
	Incidents       []models.Incident
	Err             error
}

func (s *Hazards) ListLocationHazards(_ context.Context, locationName string) ([]models.LocationHazard, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := []models.LocationHazard{}
	for _, lh := range s.LocationHazards {
		if lh.LocationName == locationName {
			out = append(out, lh)
		}
	}
	return out, nil
}

func (s *Hazards) GetHazard(_ context.Context, hazardID string) (*models.Hazard, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	h, ok := s.Definitions[hazardID]
	if !ok {
		return nil, repositories.NotFound("hazard %s does not exist", hazardID)
	}
	return &h, nil
}

func (s *Hazards) ListControlMeasures(_ context.Context, locationHazardID string) ([]models.ControlMeasure, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := []models.ControlMeasure{}
	for _, cm := range s.ControlMeasures {
		if cm.LocationHazardID == locationHazardID {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (s *Hazards) ListIncidents(_ context.Context, locationName string) ([]models.Incident, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := []models.Incident{}
	for _, inc := range s.Incidents {
		if inc.LocationName == locationName {
			out = append(out, inc)
		}
	}
	return out, nil
}
