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

const locationsTable = "locations"

var locationStruct = database.NewStruct(new(models.Location))

type LocationRepository struct {
	*Repository
}

func NewLocationRepository(db database.DB, logger ectologger.Logger) *LocationRepository {
	return &LocationRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns all locations ordered by name
func (r *LocationRepository) List(ctx context.Context) ([]models.Location, error) {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.List")
	defer span.End()

	sb := locationStruct.SelectFrom(locationsTable)
	sb.OrderBy("location_name").Asc()

	query, args := sb.Build()
	locations := []models.Location{}
	if err := r.DB().SelectContext(ctx, &locations, query, args...); err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).Error("failed to list locations")
		return nil, Internal("failed to list locations")
	}

	return locations, nil
}

// GetByName retrieves a location by its name
func (r *LocationRepository) GetByName(ctx context.Context, name string) (*models.Location, error) {
	ctx, span := tracing.StartSpan(ctx, "LocationRepository.GetByName")
	defer span.End()

	sb := locationStruct.SelectFrom(locationsTable)
	sb.Where(sb.Equal("location_name", name))

	query, args := sb.Build()
	var location models.Location
	err := r.DB().GetContext(ctx, &location, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("location %s does not exist", name)
	}
	if err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("location_name", name).Error("failed to get location")
		return nil, Internal("failed to get location")
	}

	return &location, nil
}
