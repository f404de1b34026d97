package settlement

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalsettlement "github.com/angelmondragon/packfinderz-pools/internal/settlement"
	"github.com/angelmondragon/packfinderz-pools/pkg/locks"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	ledger, err := internalsettlement.NewService(internalsettlement.ServiceParams{
		Store:  internalsettlement.NewMemoryStore(),
		Locker: locks.NewLocal(time.Second),
	})
	require.NoError(t, err)

	logg := logger.New(logger.Options{ServiceName: "settlement-controller-test", Level: logger.ParseLevel("error")})
	r := chi.NewRouter()
	r.Post("/settlements/dues", RecordDue(ledger, logg))
	r.Post("/settlements/payments", RecordPayment(ledger, logg))
	r.Get("/settlements/{kind}/{referenceId}", Snapshot(ledger, logg))
	return r
}

func post(t *testing.T, h http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, target, strings.NewReader(body)))
	return resp
}

func entry(kind string, ref, shop uuid.UUID, amount int64) string {
	return fmt.Sprintf(`{"kind":%q,"reference_id":%q,"shop_id":%q,"amount_cents":%d}`, kind, ref, shop, amount)
}

func TestDuePaymentAndSnapshot(t *testing.T) {
	h := newRouter(t)
	poolID := uuid.New()
	shopA, shopB := uuid.New(), uuid.New()

	require.Equal(t, http.StatusOK, post(t, h, "/settlements/dues", entry("pool", poolID, shopA, 4000)).Code)
	require.Equal(t, http.StatusOK, post(t, h, "/settlements/dues", entry("pool", poolID, shopB, 2500)).Code)

	resp := post(t, h, "/settlements/payments", entry("pool", poolID, shopA, 4000))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var paid struct {
		Data internalsettlement.PaymentResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&paid))
	assert.False(t, paid.Data.ReferenceSettled)
	assert.Equal(t, int64(4000), paid.Data.Record.AmountPaidCents)

	require.Equal(t, http.StatusOK, post(t, h, "/settlements/payments", entry("pool", poolID, shopB, 2500)).Code)

	snapResp := httptest.NewRecorder()
	h.ServeHTTP(snapResp, httptest.NewRequest(http.MethodGet, "/settlements/pool/"+poolID.String(), nil))
	require.Equal(t, http.StatusOK, snapResp.Code, snapResp.Body.String())
	var snap struct {
		Data internalsettlement.Snapshot `json:"data"`
	}
	require.NoError(t, json.NewDecoder(snapResp.Body).Decode(&snap))
	assert.True(t, snap.Data.FullySettled)
	assert.Equal(t, int64(6500), snap.Data.TotalCollectedCents)
	assert.Len(t, snap.Data.Records, 2)
}

func TestOverpaymentIsRejected(t *testing.T) {
	h := newRouter(t)
	runID, shop := uuid.New(), uuid.New()
	require.Equal(t, http.StatusOK, post(t, h, "/settlements/dues", entry("run", runID, shop, 100)).Code)

	resp := post(t, h, "/settlements/payments", entry("run", runID, shop, 101))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "OVERPAYMENT_REJECTED")
}

func TestNegativeAmountCarriesReason(t *testing.T) {
	h := newRouter(t)
	resp := post(t, h, "/settlements/dues", entry("pool", uuid.New(), uuid.New(), -5))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "NEGATIVE_AMOUNT")
}

func TestPaymentWithoutDueIsNotFound(t *testing.T) {
	h := newRouter(t)
	resp := post(t, h, "/settlements/payments", entry("pool", uuid.New(), uuid.New(), 10))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "SETTLEMENT_NOT_FOUND")
}

func TestSnapshotRejectsUnknownKind(t *testing.T) {
	h := newRouter(t)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/settlements/invoice/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = post(t, h, "/settlements/dues", entry("invoice", uuid.New(), uuid.New(), 5))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
