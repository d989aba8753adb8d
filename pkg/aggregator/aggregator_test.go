package aggregator

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

func day(d int) *time.Time {
	t := time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func fixture() (*Aggregator, *memstore.Hazards, *memstore.WorkOrders) {
	workOrders := memstore.NewWorkOrders(
		models.WorkOrder{WorkOrderID: "WO-1", LocationName: "Site-A"},
		models.WorkOrder{WorkOrderID: "WO-2"},
		models.WorkOrder{WorkOrderID: "WO-3", LocationName: "Site-Unlisted"},
	)
	hazards := &memstore.Hazards{
		LocationHazards: []models.LocationHazard{
			{LocationHazardID: "LH-1", LocationName: "Site-A", HazardID: "H-1", RiskLevel: "Low"},
			{LocationHazardID: "LH-2", LocationName: "Site-A", HazardID: "H-2", RiskLevel: "High"},
			{LocationHazardID: "LH-3", LocationName: "Site-A", HazardID: "H-3", RiskLevel: "Medium"},
			{LocationHazardID: "LH-4", LocationName: "Site-A", HazardID: "H-missing", RiskLevel: "Unknown"},
			{LocationHazardID: "LH-5", LocationName: "Site-B", HazardID: "H-1", RiskLevel: "High"},
		},
		Definitions: map[string]models.Hazard{
			"H-1": {HazardID: "H-1", HazardName: "Slips"},
			"H-2": {HazardID: "H-2", HazardName: "Electrical"},
			"H-3": {HazardID: "H-3", HazardName: "Noise"},
		},
		ControlMeasures: []models.ControlMeasure{
			{ControlMeasureID: "CM-1", LocationHazardID: "LH-2", ImplementationDate: day(3), Status: "Retired"},
			{ControlMeasureID: "CM-2", LocationHazardID: "LH-2", ImplementationDate: day(9), Status: "Active"},
			{ControlMeasureID: "CM-3", LocationHazardID: "LH-2", Status: "Active"},
			{ControlMeasureID: "CM-4", LocationHazardID: "LH-1", ImplementationDate: day(1), Status: "Active"},
		},
		Incidents: []models.Incident{
			{IncidentID: "I-1", LocationName: "Site-A", IncidentDate: day(2)},
			{IncidentID: "I-2", LocationName: "Site-A", IncidentDate: day(20)},
			{IncidentID: "I-3", LocationName: "Site-B", IncidentDate: day(5)},
		},
	}
	agg := New(Deps{
		WorkOrders: workOrders,
		Locations:  memstore.NewLocations(models.Location{LocationName: "Site-A", Address: "1 Main St"}),
		Hazards:    hazards,
	}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	return agg, hazards, workOrders
}

func TestBuildSafetyContext(t *testing.T) {
	agg, _, _ := fixture()

	sc, err := agg.BuildSafetyContext(context.Background(), "WO-1")
	require.NoError(t, err)

	require.NotNil(t, sc.Location)
	assert.Equal(t, "1 Main St", sc.Location.Address)
	assert.Equal(t, "WO-1", sc.WorkOrder.WorkOrderID)

	levels := []string{}
	for _, h := range sc.Hazards {
		levels = append(levels, h.LocationHazardDetails.RiskLevel)
	}
	assert.Equal(t, []string{"High", "Medium", "Low", "Unknown"}, levels)

	electrical := sc.Hazards[0]
	require.NotNil(t, electrical.HazardDetails)
	assert.Equal(t, "Electrical", electrical.HazardDetails.HazardName)
	ids := []string{}
	for _, m := range electrical.ControlMeasures {
		ids = append(ids, m.ControlMeasureID)
	}
	assert.Equal(t, []string{"CM-2", "CM-1", "CM-3"}, ids)
	assert.Equal(t, 3, electrical.TotalControlMeasures)
	assert.Equal(t, 2, electrical.ActiveControlMeasures)

	assert.Nil(t, sc.Hazards[3].HazardDetails)

	require.Len(t, sc.Incidents, 2)
	assert.Equal(t, "I-2", sc.Incidents[0].IncidentID)
	assert.Equal(t, "I-1", sc.Incidents[1].IncidentID)

	assert.Equal(t, Summary{
		TotalHazards:          4,
		HighRiskHazards:       1,
		TotalIncidents:        2,
		TotalControlMeasures:  4,
		ActiveControlMeasures: 3,
	}, sc.Summary)
}

func TestRankHazards_StableWithinLevel(t *testing.T) {
	hazards := []EnrichedHazard{
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "a", RiskLevel: "Low"}},
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "b", RiskLevel: "High"}},
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "c", RiskLevel: "Medium"}},
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "d", RiskLevel: "High"}},
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "e", RiskLevel: "Extreme"}},
		{LocationHazardDetails: models.LocationHazard{LocationHazardID: "f", RiskLevel: "Low"}},
	}

	RankHazards(hazards)

	ids := ""
	for _, h := range hazards {
		ids += h.LocationHazardDetails.LocationHazardID
	}
	assert.Equal(t, "bdcafe", ids)
}

func TestBuildSafetyContext_NotFound(t *testing.T) {
	agg, _, _ := fixture()

	_, err := agg.BuildSafetyContext(context.Background(), "WO-missing")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ReasonWorkOrderNotFound, notFound.Reason)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(ToHTTPError(err)))

	_, err = agg.BuildSafetyContext(context.Background(), "WO-2")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, ReasonLocationNotFound, notFound.Reason)
}

func TestBuildSafetyContext_BlankID(t *testing.T) {
	agg, _, _ := fixture()

	_, err := agg.BuildSafetyContext(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(ToHTTPError(err)))
}

func TestBuildSafetyContext_MissingLocationRowIsEmptyObject(t *testing.T) {
	agg, _, _ := fixture()

	sc, err := agg.BuildSafetyContext(context.Background(), "WO-3")
	require.NoError(t, err)
	assert.Nil(t, sc.Location)
	assert.Empty(t, sc.Hazards)

	data, err := json.Marshal(sc)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]any{}, decoded["location"])
	assert.Equal(t, []any{}, decoded["incidents"])
}

func TestEnrichedHazard_MissingHazardIsEmptyObject(t *testing.T) {
	data, err := json.Marshal(EnrichedHazard{LocationHazardDetails: models.LocationHazard{RiskLevel: "Low"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hazard_details":{}`)
	assert.Contains(t, string(data), `"risk_level":"Low"`)
}

func TestBuildSafetyContext_StoreErrorHasNoPartialResult(t *testing.T) {
	agg, hazards, _ := fixture()
	hazards.Err = errors.New("connection reset")

	sc, err := agg.BuildSafetyContext(context.Background(), "WO-1")
	assert.Nil(t, sc)
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(ToHTTPError(err)))
}

func TestHandleAction(t *testing.T) {
	agg, _, _ := fixture()

	resp := agg.HandleAction(context.Background(), ActionRequest{
		MessageVersion: "1.0",
		ActionGroup:    "location-alerts",
		Function:       FetchLocationAlerts,
		Parameters:     []ActionParameter{{Name: "work_order_id", Type: "string", Value: "WO-1"}},
	})

	assert.Equal(t, "1.0", resp.MessageVersion)
	assert.Equal(t, "location-alerts", resp.Response.ActionGroup)
	assert.Equal(t, FetchLocationAlerts, resp.Response.Function)
	body := resp.Response.FunctionResponse.ResponseBody["TEXT"].Body
	assert.True(t, strings.HasPrefix(body, "Here are the alerts at the location for workorder 'WO-1' : "))
	assert.Contains(t, body, `"statusCode":200`)
	assert.Contains(t, body, `"high_risk_hazards":1`)
}

func TestHandleAction_Errors(t *testing.T) {
	agg, _, _ := fixture()

	missing := agg.HandleAction(context.Background(), ActionRequest{ActionGroup: "g", Function: FetchLocationAlerts})
	assert.Equal(t, "Missing mandatory parameter(s): work_order_id", missing.Response.FunctionResponse.ResponseBody["TEXT"].Body)

	unknown := agg.HandleAction(context.Background(), ActionRequest{ActionGroup: "g", Function: "fetch_weather"})
	assert.Equal(t, "Error, no function was called", unknown.Response.FunctionResponse.ResponseBody["TEXT"].Body)

	notFound := agg.HandleAction(context.Background(), ActionRequest{
		ActionGroup: "g",
		Function:    FetchLocationAlerts,
		Parameters:  []ActionParameter{{Name: "work_order_id", Value: "WO-missing"}},
	})
	body := notFound.Response.FunctionResponse.ResponseBody["TEXT"].Body
	assert.Contains(t, body, `"statusCode":404`)
	assert.Contains(t, body, "Work order WO-missing not found")
}
