// Package aggregator assembles the location, hazard, control measure and incident context for a
// work order.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/yarrow/pkg/metrics"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

// NotFoundReason says which lookup came back empty
type NotFoundReason string

const (
	ReasonWorkOrderNotFound NotFoundReason = "work_order_not_found"
	ReasonLocationNotFound  NotFoundReason = "location_not_found"
)

// NotFoundError is returned when the work order or its location reference is missing
type NotFoundError struct {
	Reason      NotFoundReason
	WorkOrderID string
}

func (e *NotFoundError) Error() string {
	if e.Reason == ReasonLocationNotFound {
		return fmt.Sprintf("Location not found for work order %s", e.WorkOrderID)
	}
	return fmt.Sprintf("Work order %s not found", e.WorkOrderID)
}

// AggregationError wraps a store failure. No partial context is returned with it.
type AggregationError struct {
	Err error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("error querying data: %v", e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}

// ToHTTPError maps aggregation errors onto HTTP errors
func ToHTTPError(err error) error {
	switch e := err.(type) {
	case nil:
		return nil
	case *NotFoundError:
		return httperror.NewHTTPError(http.StatusNotFound, e.Error())
	case *AggregationError:
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to build safety context")
	default:
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to build safety context")
	}
}

// EnrichedHazard is a hazard at a location with its control measures, newest first
type EnrichedHazard struct {
	LocationHazardDetails models.LocationHazard   `json:"location_hazard_details"`
	HazardDetails         *models.Hazard          `json:"hazard_details"`
	ControlMeasures       []models.ControlMeasure `json:"control_measures"`
	TotalControlMeasures  int                     `json:"total_control_measures"`
	ActiveControlMeasures int                     `json:"active_control_measures"`
}

// MarshalJSON writes a missing hazard row as an empty object
func (h EnrichedHazard) MarshalJSON() ([]byte, error) {
	type alias EnrichedHazard
	return json.Marshal(struct {
		alias
		HazardDetails any `json:"hazard_details"`
	}{alias(h), orEmpty(h.HazardDetails)})
}

type Summary struct {
	TotalHazards          int `json:"total_hazards"`
	HighRiskHazards       int `json:"high_risk_hazards"`
	TotalIncidents        int `json:"total_incidents"`
	TotalControlMeasures  int `json:"total_control_measures"`
	ActiveControlMeasures int `json:"active_control_measures"`
}

// SafetyContext is everything the agent needs to know about a work order's site
type SafetyContext struct {
	WorkOrder   models.WorkOrder  `json:"work_order"`
	Location    *models.Location  `json:"location"`
	Summary     Summary           `json:"summary"`
	Hazards     []EnrichedHazard  `json:"hazards"`
	Incidents   []models.Incident `json:"incidents"`
	RetrievedAt time.Time         `json:"retrieved_at"`
}

// MarshalJSON writes a missing location row as an empty object
func (c SafetyContext) MarshalJSON() ([]byte, error) {
	type alias SafetyContext
	return json.Marshal(struct {
		alias
		Location any `json:"location"`
	}{alias(c), orEmpty(c.Location)})
}

func orEmpty[T any](v *T) any {
	if v == nil {
		return struct{}{}
	}
	return v
}

// Deps are the read stores the aggregator joins
type Deps struct {
	WorkOrders repositories.WorkOrderRepo
	Locations  repositories.LocationRepo
	Hazards    repositories.HazardRepo
}

type Aggregator struct {
	deps   Deps
	logger ectologger.Logger
	now    func() time.Time
}

func New(deps Deps, logger ectologger.Logger) *Aggregator {
	return &Aggregator{deps: deps, logger: logger, now: time.Now}
}

// BuildSafetyContext joins the reference data for a work order's location
func (a *Aggregator) BuildSafetyContext(ctx context.Context, workOrderID string) (*SafetyContext, error) {
	ctx, span := tracing.StartSpan(ctx, "Aggregator.BuildSafetyContext", attribute.String("work_order_id", workOrderID))
	defer span.End()

	result, err := a.build(ctx, strings.TrimSpace(workOrderID))
	switch err.(type) {
	case nil:
		metrics.AggregationsTotal.WithLabelValues("success").Inc()
	case *NotFoundError:
		metrics.AggregationsTotal.WithLabelValues("not_found").Inc()
	case *AggregationError:
		metrics.AggregationsTotal.WithLabelValues("error").Inc()
		tracing.Fail(span, err, "failed to build safety context")
		a.logger.WithContext(ctx).WithError(err).WithField("work_order_id", workOrderID).Error("Failed to build safety context")
	default:
		metrics.AggregationsTotal.WithLabelValues("invalid").Inc()
	}
	return result, err
}

func (a *Aggregator) build(ctx context.Context, workOrderID string) (*SafetyContext, error) {
	if workOrderID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "Work order ID is required")
	}

	workOrder, err := a.deps.WorkOrders.GetByID(ctx, workOrderID)
	if repositories.IsNotFound(err) {
		return nil, &NotFoundError{Reason: ReasonWorkOrderNotFound, WorkOrderID: workOrderID}
	}
	if err != nil {
		return nil, &AggregationError{Err: err}
	}

	locationName := workOrder.LocationName
	if locationName == "" {
		return nil, &NotFoundError{Reason: ReasonLocationNotFound, WorkOrderID: workOrderID}
	}

	location, err := a.deps.Locations.GetByName(ctx, locationName)
	if repositories.IsNotFound(err) {
		location = nil
	} else if err != nil {
		return nil, &AggregationError{Err: err}
	}

	hazards, err := a.hazards(ctx, locationName)
	if err != nil {
		return nil, &AggregationError{Err: err}
	}

	incidents, err := a.deps.Hazards.ListIncidents(ctx, locationName)
	if err != nil {
		return nil, &AggregationError{Err: err}
	}
	sort.SliceStable(incidents, func(i, j int) bool {
		return newer(incidents[i].IncidentDate, incidents[j].IncidentDate)
	})

	summary := Summary{TotalHazards: len(hazards), TotalIncidents: len(incidents)}
	for _, h := range hazards {
		if h.LocationHazardDetails.RiskLevel == "High" {
			summary.HighRiskHazards++
		}
		summary.TotalControlMeasures += h.TotalControlMeasures
		summary.ActiveControlMeasures += h.ActiveControlMeasures
	}

	if incidents == nil {
		incidents = []models.Incident{}
	}

	return &SafetyContext{
		WorkOrder:   *workOrder,
		Location:    location,
		Summary:     summary,
		Hazards:     hazards,
		Incidents:   incidents,
		RetrievedAt: a.now().UTC(),
	}, nil
}

func (a *Aggregator) hazards(ctx context.Context, locationName string) ([]EnrichedHazard, error) {
	links, err := a.deps.Hazards.ListLocationHazards(ctx, locationName)
	if err != nil {
		return nil, err
	}

	enriched := make([]EnrichedHazard, 0, len(links))
	for _, link := range links {
		hazard, err := a.deps.Hazards.GetHazard(ctx, link.HazardID)
		if repositories.IsNotFound(err) {
			hazard = nil
		} else if err != nil {
			return nil, err
		}

		measures, err := a.deps.Hazards.ListControlMeasures(ctx, link.LocationHazardID)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(measures, func(i, j int) bool {
			return newer(measures[i].ImplementationDate, measures[j].ImplementationDate)
		})
		if measures == nil {
			measures = []models.ControlMeasure{}
		}

		active := 0
		for _, m := range measures {
			if m.IsActive() {
				active++
			}
		}

		enriched = append(enriched, EnrichedHazard{
			LocationHazardDetails: link,
			HazardDetails:         hazard,
			ControlMeasures:       measures,
			TotalControlMeasures:  len(measures),
			ActiveControlMeasures: active,
		})
	}

	RankHazards(enriched)
	return enriched, nil
}

// RiskRank orders risk levels: High 3, Medium 2, Low 1, anything else 0
func RiskRank(level string) int {
	switch level {
	case "High":
		return 3
	case "Medium":
		return 2
	case "Low":
		return 1
	default:
		return 0
	}
}

// RankHazards sorts by descending risk, keeping store order within a level
func RankHazards(hazards []EnrichedHazard) {
	sort.SliceStable(hazards, func(i, j int) bool {
		return RiskRank(hazards[i].LocationHazardDetails.RiskLevel) > RiskRank(hazards[j].LocationHazardDetails.RiskLevel)
	})
}

// newer orders dated entries newest first and undated ones last
func newer(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}
