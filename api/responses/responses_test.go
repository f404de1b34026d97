package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var body Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteErrorMapsValidation(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "quantity"})
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeValidation), apiErr.Code)
	assert.Equal(t, "bad input", apiErr.Message)
	assert.NotNil(t, apiErr.Details)
}

func TestWriteErrorCarriesReason(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolFull, "pool is full"))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.ReasonPoolFull), apiErr.Reason)
	assert.Equal(t, "pool is full", apiErr.Message)
}

func TestWriteErrorBusyIsRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.VersionConflict("pool"))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeAggregateBusy), apiErr.Code)
	assert.Equal(t, string(pkgerrors.ReasonConflict), apiErr.Reason)
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeInternal), apiErr.Code)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.Empty(t, apiErr.Reason)
}

func TestWriteErrorClassifiesCheckViolations(t *testing.T) {
	w := httptest.NewRecorder()
	pgErr := &pgconn.PgError{Code: "23514", ConstraintName: "settlement_records_paid_check", TableName: "settlement_records"}
	WriteError(context.Background(), nil, w, fmt.Errorf("save record: %w", pgErr))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), apiErr.Code)
	assert.Contains(t, apiErr.Message, "settlement_records_paid_check")
}
