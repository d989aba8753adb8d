package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/tracing"
)

const safetyCheckRequestsTable = "safety_check_requests"

var safetyCheckRequestStruct = database.NewStruct(new(models.SafetyCheckRequest))

// SafetyCheckRequestRepository is the durable request store
type SafetyCheckRequestRepository struct {
	*Repository
}

// NewSafetyCheckRequestRepository creates a new request repository
func NewSafetyCheckRequestRepository(db database.DB, logger ectologger.Logger) *SafetyCheckRequestRepository {
	return &SafetyCheckRequestRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a new request. The row must be PENDING.
func (r *SafetyCheckRequestRepository) Create(ctx context.Context, request *models.SafetyCheckRequest) error {
	ctx, span := tracing.StartSpan(ctx, "SafetyCheckRequestRepository.Create")
	defer span.End()

	if request.RequestID == uuid.Nil {
		request.RequestID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(safetyCheckRequestsTable).
		Cols("request_id", "work_order_id", "payload", "status", "source", "created_at", "updated_at", "ttl").
		Values(request.RequestID, request.WorkOrderID, request.Payload, string(request.Status), string(request.Source),
			request.CreatedAt, request.UpdatedAt, request.TTL).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		tracing.Fail(span, err, "insert failed")
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"safety_check_id": request.RequestID,
			"work_order_id":   request.WorkOrderID,
		}).Error("failed to create safety check request")
		return Internal("failed to create safety check request")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"safety_check_id": request.RequestID,
		"source":          request.Source,
	}).Debugf("Created %s", safetyCheckRequestsTable)
	return nil
}

// GetByID retrieves a request by id
func (r *SafetyCheckRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SafetyCheckRequest, error) {
	ctx, span := tracing.StartSpan(ctx, "SafetyCheckRequestRepository.GetByID")
	defer span.End()

	sb := safetyCheckRequestStruct.SelectFrom(safetyCheckRequestsTable)
	sb.Where(sb.Equal("request_id", id))

	query, args := sb.Build()
	var request models.SafetyCheckRequest
	err := r.DB().GetContext(ctx, &request, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("safety check request %s does not exist", id)
	}
	if err != nil {
		tracing.Fail(span, err, "select failed")
		r.logger.WithContext(ctx).WithError(err).WithField("safety_check_id", id).Error("failed to get safety check request")
		return nil, Internal("failed to get safety check request")
	}

	return &request, nil
}

// Complete moves a PENDING request to COMPLETED. It returns models.ErrRequestNotPending when the
// request already reached a terminal state, so a redelivered event never rewrites a result.
func (r *SafetyCheckRequestRepository) Complete(ctx context.Context, id uuid.UUID, response string) error {
	ctx, span := tracing.StartSpan(ctx, "SafetyCheckRequestRepository.Complete")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(safetyCheckRequestsTable).
		Set(
			ub.Assign("status", string(models.RequestStatusCompleted)),
			ub.Assign("safety_check_response", response),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("request_id", id), ub.Equal("status", string(models.RequestStatusPending)))

	return r.transition(ctx, id, ub, "complete")
}

// MarkFailed moves a PENDING request to FAILED with the given reason.
func (r *SafetyCheckRequestRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "SafetyCheckRequestRepository.MarkFailed")
	defer span.End()

	if reason == "" {
		reason = "unknown failure"
	}

	ub := database.NewUpdateBuilder()
	ub.Update(safetyCheckRequestsTable).
		Set(
			ub.Assign("status", string(models.RequestStatusFailed)),
			ub.Assign("failure_reason", reason),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("request_id", id), ub.Equal("status", string(models.RequestStatusPending)))

	return r.transition(ctx, id, ub, "mark failed")
}

func (r *SafetyCheckRequestRepository) transition(ctx context.Context, id uuid.UUID, ub *database.UpdateBuilder, action string) error {
	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("safety_check_id", id).Errorf("failed to %s safety check request", action)
		return Internal("failed to update safety check request")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("safety_check_id", id).Error("failed to read affected rows")
		return Internal("failed to update safety check request")
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: either the request is gone or it already left PENDING.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return models.ErrRequestNotPending
}

// DeleteExpired prunes requests whose ttl is before now and returns how many were removed.
func (r *SafetyCheckRequestRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "SafetyCheckRequestRepository.DeleteExpired")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(safetyCheckRequestsTable).Where(db.LessThan("ttl", now.Unix()))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		tracing.Fail(span, err, "delete failed")
		r.logger.WithContext(ctx).WithError(err).Error("failed to prune expired safety check requests")
		return 0, Internal("failed to prune expired safety check requests")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, Internal("failed to prune expired safety check requests")
	}

	r.logger.WithContext(ctx).WithField("deleted", deleted).Debugf("Pruned expired %s", safetyCheckRequestsTable)
	return deleted, nil
}
