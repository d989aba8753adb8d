package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/repositories/memstore"
)

func newService(t *testing.T, cfg Config) (*Service, *memstore.Requests) {
	t.Helper()
	store := memstore.NewRequests()
	svc, err := NewService(store, cfg, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestSubmit_QueuesPendingRequest(t *testing.T) {
	svc, store := newService(t, Config{RequestTTL: 24 * time.Hour})

	id, err := svc.Submit(context.Background(), SubmitInput{
		Query:            "check safety",
		WorkOrderDetails: json.RawMessage(`{"work_order_id":"WO-1","location_name":"Site-A"}`),
	})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "WO-1", row.WorkOrderID)
	assert.Equal(t, models.RequestStatusPending, row.Status)
	assert.Equal(t, models.RequestSourceInteractive, row.Source)
	assert.Equal(t, `check safety {"location_name":"Site-A","work_order_id":"WO-1"}`, row.Payload)
	assert.Equal(t, time.Date(2026, 5, 5, 8, 0, 0, 0, time.UTC).Unix(), row.TTL)
	assert.Nil(t, row.SafetyCheckResponse)
}

func TestSubmit_StripsStaleKeysAtEveryDepth(t *testing.T) {
	svc, store := newService(t, Config{})

	details := `{
		"work_order_id": "WO-2",
		"safetycheckresponse": "old",
		"safetyCheckPerformedAt": "2026-01-01T00:00:00Z",
		"workOrderLocationAssetDetails": {
			"asset": "pump",
			"safetycheckresponse": "older",
			"safetyCheckPerformedAt": "2025-12-01T00:00:00Z"
		},
		"history": [
			{"safetycheckresponse": "oldest", "note": "kept"},
			[{"safetyCheckPerformedAt": "x"}]
		]
	}`

	id, err := svc.Submit(context.Background(), SubmitInput{Query: "q", WorkOrderDetails: json.RawMessage(details)})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotContains(t, row.Payload, models.StaleResponseKey)
	assert.NotContains(t, row.Payload, models.StalePerformedAtKey)
	assert.Contains(t, row.Payload, `"note":"kept"`)
	assert.Contains(t, row.Payload, `"asset":"pump"`)
	assert.True(t, strings.HasPrefix(row.Payload, "q {"))
}

func TestSubmit_MissingWorkOrderIDStillQueues(t *testing.T) {
	svc, store := newService(t, Config{})

	id, err := svc.Submit(context.Background(), SubmitInput{Query: "q", WorkOrderDetails: json.RawMessage(`{"location_name":"Site-A"}`)})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, row.WorkOrderID)
}

func TestSubmit_WithoutDetailsUsesQuery(t *testing.T) {
	svc, store := newService(t, Config{})

	id, err := svc.Submit(context.Background(), SubmitInput{Query: "is it windy?"})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "is it windy?", row.Payload)
}

func TestSubmit_CustomExpressionAndNumericID(t *testing.T) {
	svc, store := newService(t, Config{WorkOrderIDExpression: "workOrder.id"})

	id, err := svc.Submit(context.Background(), SubmitInput{Query: "q", WorkOrderDetails: json.RawMessage(`{"workOrder":{"id":1042}}`)})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "1042", row.WorkOrderID)
	assert.Contains(t, row.Payload, `"id":1042`)
}

func TestSubmit_ScheduledSource(t *testing.T) {
	svc, store := newService(t, Config{})

	id, err := svc.Submit(context.Background(), SubmitInput{Query: "q", Source: models.RequestSourceScheduled})
	require.NoError(t, err)

	row, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RequestSourceScheduled, row.Source)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	svc, _ := newService(t, Config{})

	_, err := svc.Submit(context.Background(), SubmitInput{Query: "  "})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = svc.Submit(context.Background(), SubmitInput{Query: "q", WorkOrderDetails: json.RawMessage(`{broken`)})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestSubmit_StoreFailure(t *testing.T) {
	svc, store := newService(t, Config{})
	store.Err = errors.New("db down")

	_, err := svc.Submit(context.Background(), SubmitInput{Query: "q"})
	require.Error(t, err)
}

func TestNewService_InvalidExpression(t *testing.T) {
	_, err := NewService(memstore.NewRequests(), Config{WorkOrderIDExpression: "a..b"}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.Error(t, err)
}

func TestStripStale_LeavesScalarsAlone(t *testing.T) {
	assert.Equal(t, "x", StripStale("x"))
	assert.Nil(t, StripStale(nil))
}
