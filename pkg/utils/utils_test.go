package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusRequest struct {
	RequestID string `json:"requestId" validate:"required,uuid"`
}

func newContext(body string) echo.Context {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestBindRequest(t *testing.T) {
	v, err := BindRequest[statusRequest](newContext(`{"requestId":"5f0c3a4e-8a1b-4b59-9a3c-0a9f2d1c7e11"}`))
	require.NoError(t, err)
	assert.Equal(t, "5f0c3a4e-8a1b-4b59-9a3c-0a9f2d1c7e11", v.RequestID)
}

func TestBindRequest_ValidationFailure(t *testing.T) {
	_, err := BindRequest[statusRequest](newContext(`{"requestId":""}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestBindRequest_MalformedBody(t *testing.T) {
	_, err := BindRequest[statusRequest](newContext(`{`))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue("WO-1", "required"))
	assert.Error(t, ValidateValue("", "required"))
}

func TestValidate_MessageNamesField(t *testing.T) {
	_, err := Validate(statusRequest{RequestID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'RequestID' failed rule 'uuid'")
}
