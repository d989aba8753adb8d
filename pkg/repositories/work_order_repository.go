package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const workOrdersTable = "work_orders"

var workOrderStruct = database.NewStruct(new(models.WorkOrder))

// WorkOrderRepository handles work order persistence
type WorkOrderRepository struct {
	*Repository
}

// NewWorkOrderRepository creates a new work order repository
func NewWorkOrderRepository(db database.DB, logger ectologger.Logger) *WorkOrderRepository {
	return &WorkOrderRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns every work order ordered by id
func (r *WorkOrderRepository) List(ctx context.Context) ([]models.WorkOrder, error) {
	ctx, span := tracing.StartSpan(ctx, "WorkOrderRepository.List")
	defer span.End()

	sb := workOrderStruct.SelectFrom(workOrdersTable)
	sb.OrderBy("work_order_id").Asc()

	query, args := sb.Build()
	workOrders := []models.WorkOrder{}
	if err := r.DB().SelectContext(ctx, &workOrders, query, args...); err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).Error("failed to list work orders")
		return nil, Internal("failed to list work orders")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s", len(workOrders), workOrdersTable)
	return workOrders, nil
}

// GetByID retrieves a work order by id
func (r *WorkOrderRepository) GetByID(ctx context.Context, id string) (*models.WorkOrder, error) {
	ctx, span := tracing.StartSpan(ctx, "WorkOrderRepository.GetByID")
	defer span.End()

	sb := workOrderStruct.SelectFrom(workOrdersTable)
	sb.Where(sb.Equal("work_order_id", id))

	query, args := sb.Build()
	var workOrder models.WorkOrder
	err := r.DB().GetContext(ctx, &workOrder, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("work order %s does not exist", id)
	}
	if err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("work_order_id", id).Error("failed to get work order")
		return nil, Internal("failed to get work order")
	}

	return &workOrder, nil
}

// UpdateSchedule writes a new scheduled window
func (r *WorkOrderRepository) UpdateSchedule(ctx context.Context, id string, start, finish time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "WorkOrderRepository.UpdateSchedule")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(workOrdersTable).
		Set(
			ub.Assign("scheduled_start_timestamp", start.UTC()),
			ub.Assign("scheduled_finish_timestamp", finish.UTC()),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("work_order_id", id))

	return r.update(ctx, id, ub, "update schedule")
}

// RecordSafetyCheck denormalizes the latest safety check result onto the work order
func (r *WorkOrderRepository) RecordSafetyCheck(ctx context.Context, id string, response string, performedAt time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "WorkOrderRepository.RecordSafetyCheck")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(workOrdersTable).
		Set(
			ub.Assign("safety_check_response", response),
			ub.Assign("safety_check_performed_at", performedAt.UTC()),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("work_order_id", id))

	return r.update(ctx, id, ub, "record safety check")
}

func (r *WorkOrderRepository) update(ctx context.Context, id string, ub *database.UpdateBuilder, action string) error {
	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("work_order_id", id).Errorf("failed to %s", action)
		return Internal("failed to update work order")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Internal("failed to update work order")
	}
	if affected == 0 {
		return NotFound("work order %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithField("work_order_id", id).Debugf("Updated %s: %s", workOrdersTable, action)
	return nil
}
