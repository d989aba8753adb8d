package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafetyCheckRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	req := NewSafetyCheckRequest("WO-1", "check safety {}", RequestSourceInteractive, now, 24*time.Hour)

	assert.NotEqual(t, uuid.Nil, req.RequestID)
	assert.Equal(t, RequestStatusPending, req.Status)
	assert.Equal(t, RequestSourceInteractive, req.Source)
	assert.Equal(t, now.Add(24*time.Hour).Unix(), req.TTL)
	assert.Nil(t, req.SafetyCheckResponse)
	assert.NoError(t, req.CheckInvariants())
}

func TestCheckInvariants(t *testing.T) {
	text := "All clear"
	reason := "agent unavailable"

	cases := []struct {
		name    string
		req     SafetyCheckRequest
		wantErr bool
	}{
		{"pending clean", SafetyCheckRequest{Status: RequestStatusPending}, false},
		{"pending with response", SafetyCheckRequest{Status: RequestStatusPending, SafetyCheckResponse: &text}, true},
		{"completed", SafetyCheckRequest{Status: RequestStatusCompleted, SafetyCheckResponse: &text}, false},
		{"completed without response", SafetyCheckRequest{Status: RequestStatusCompleted}, true},
		{"failed", SafetyCheckRequest{Status: RequestStatusFailed, FailureReason: &reason}, false},
		{"failed with response", SafetyCheckRequest{Status: RequestStatusFailed, FailureReason: &reason, SafetyCheckResponse: &text}, true},
		{"unknown status", SafetyCheckRequest{Status: "DONE"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.CheckInvariants()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.IsTerminal())
	assert.True(t, RequestStatusCompleted.IsTerminal())
	assert.True(t, RequestStatusFailed.IsTerminal())
}

func TestWorkOrderJSON_UsesClientKeys(t *testing.T) {
	response := "old"
	wo := WorkOrder{WorkOrderID: "WO-1", LocationName: "Site-A", SafetyCheckResponse: &response}

	data, err := json.Marshal(wo)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "WO-1", decoded["work_order_id"])
	assert.Equal(t, "old", decoded[StaleResponseKey])
	assert.Contains(t, decoded, "location_details")
	assert.Nil(t, decoded["location_details"])
	assert.NotContains(t, decoded, "updated_at")
}
