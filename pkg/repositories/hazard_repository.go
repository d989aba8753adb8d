package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const (
	hazardsTable         = "hazards"
	locationHazardsTable = "location_hazards"
	controlMeasuresTable = "control_measures"
	incidentsTable       = "incidents"
)

var (
	hazardStruct         = database.NewStruct(new(models.Hazard))
	locationHazardStruct = database.NewStruct(new(models.LocationHazard))
	controlMeasureStruct = database.NewStruct(new(models.ControlMeasure))
	incidentStruct       = database.NewStruct(new(models.Incident))
)

// HazardRepository reads the hazard reference data. Ordering of results is left to callers.
type HazardRepository struct {
	*Repository
}

// NewHazardRepository creates a new hazard repository
func NewHazardRepository(db database.DB, logger ectologger.Logger) *HazardRepository {
	return &HazardRepository{
		Repository: NewRepository(db, logger),
	}
}

// ListLocationHazards returns the hazards assessed at a location
func (r *HazardRepository) ListLocationHazards(ctx context.Context, locationName string) ([]models.LocationHazard, error) {
	ctx, span := tracing.StartSpan(ctx, "HazardRepository.ListLocationHazards")
	defer span.End()

	sb := locationHazardStruct.SelectFrom(locationHazardsTable)
	sb.Where(sb.Equal("location_name", locationName))

	query, args := sb.Build()
	hazards := []models.LocationHazard{}
	if err := r.DB().SelectContext(ctx, &hazards, query, args...); err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("location_name", locationName).Error("failed to list location hazards")
		return nil, Internal("failed to list location hazards")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s for %s", len(hazards), locationHazardsTable, locationName)
	return hazards, nil
}

// GetHazard retrieves a hazard definition by id
func (r *HazardRepository) GetHazard(ctx context.Context, hazardID string) (*models.Hazard, error) {
	ctx, span := tracing.StartSpan(ctx, "HazardRepository.GetHazard")
	defer span.End()

	sb := hazardStruct.SelectFrom(hazardsTable)
	sb.Where(sb.Equal("hazard_id", hazardID))

	query, args := sb.Build()
	var hazard models.Hazard
	err := r.DB().GetContext(ctx, &hazard, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("hazard %s does not exist", hazardID)
	}
	if err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("hazard_id", hazardID).Error("failed to get hazard")
		return nil, Internal("failed to get hazard")
	}

	return &hazard, nil
}

// ListControlMeasures returns the measures recorded against a location hazard
func (r *HazardRepository) ListControlMeasures(ctx context.Context, locationHazardID string) ([]models.ControlMeasure, error) {
	ctx, span := tracing.StartSpan(ctx, "HazardRepository.ListControlMeasures")
	defer span.End()

	sb := controlMeasureStruct.SelectFrom(controlMeasuresTable)
	sb.Where(sb.Equal("location_hazard_id", locationHazardID))

	query, args := sb.Build()
	measures := []models.ControlMeasure{}
	if err := r.DB().SelectContext(ctx, &measures, query, args...); err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("location_hazard_id", locationHazardID).Error("failed to list control measures")
		return nil, Internal("failed to list control measures")
	}

	return measures, nil
}

// ListIncidents returns the incidents recorded at a location
func (r *HazardRepository) ListIncidents(ctx context.Context, locationName string) ([]models.Incident, error) {
	ctx, span := tracing.StartSpan(ctx, "HazardRepository.ListIncidents")
	defer span.End()

	sb := incidentStruct.SelectFrom(incidentsTable)
	sb.Where(sb.Equal("location_name", locationName))

	query, args := sb.Build()
	incidents := []models.Incident{}
	if err := r.DB().SelectContext(ctx, &incidents, query, args...); err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("location_name", locationName).Error("failed to list incidents")
		return nil, Internal("failed to list incidents")
	}

	return incidents, nil
}
