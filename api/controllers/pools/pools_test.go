package pools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-pools/api/middleware"
	internalpools "github.com/angelmondragon/packfinderz-pools/internal/pools"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	"github.com/angelmondragon/packfinderz-pools/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

type stubPoolService struct {
	create   func(ctx context.Context, input internalpools.CreateInput) (*models.Pool, error)
	list     func(ctx context.Context, params internalpools.ListParams) (*internalpools.ListResult, error)
	join     func(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*models.Pool, error)
	cancel   func(ctx context.Context, poolID uuid.UUID, reason string) (*models.Pool, error)
	preview  func(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*internalpools.SavingsPreview, error)
	invite   func(ctx context.Context, poolID uuid.UUID, contacts []string) error
	confirm  func(ctx context.Context, poolID uuid.UUID) (*models.Pool, error)
	evaluate func(ctx context.Context, poolID uuid.UUID) (*internalpools.EvaluationResult, error)
}

func (s *stubPoolService) Create(ctx context.Context, input internalpools.CreateInput) (*models.Pool, error) {
	return s.create(ctx, input)
}

func (s *stubPoolService) Get(ctx context.Context, poolID uuid.UUID) (*models.Pool, error) {
	return &models.Pool{ID: poolID, Status: enums.PoolStatusOpen}, nil
}

func (s *stubPoolService) List(ctx context.Context, params internalpools.ListParams) (*internalpools.ListResult, error) {
	return s.list(ctx, params)
}

func (s *stubPoolService) Join(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*models.Pool, error) {
	return s.join(ctx, poolID, shopID, quantity)
}

func (s *stubPoolService) Leave(ctx context.Context, poolID, shopID uuid.UUID) (*models.Pool, error) {
	return &models.Pool{ID: poolID}, nil
}

func (s *stubPoolService) EvaluateDeadline(ctx context.Context, poolID uuid.UUID) (*internalpools.EvaluationResult, error) {
	return s.evaluate(ctx, poolID)
}

func (s *stubPoolService) Confirm(ctx context.Context, poolID uuid.UUID) (*models.Pool, error) {
	return s.confirm(ctx, poolID)
}

func (s *stubPoolService) Cancel(ctx context.Context, poolID uuid.UUID, reason string) (*models.Pool, error) {
	return s.cancel(ctx, poolID, reason)
}

func (s *stubPoolService) Complete(ctx context.Context, poolID uuid.UUID) (*models.Pool, error) {
	panic("not implemented")
}

func (s *stubPoolService) SavingsPreview(ctx context.Context, poolID, shopID uuid.UUID, quantity decimal.Decimal) (*internalpools.SavingsPreview, error) {
	return s.preview(ctx, poolID, shopID, quantity)
}

func (s *stubPoolService) Analytics(ctx context.Context, poolID uuid.UUID) (*internalpools.Analytics, error) {
	panic("not implemented")
}

func (s *stubPoolService) Invite(ctx context.Context, poolID uuid.UUID, contacts []string) error {
	return s.invite(ctx, poolID, contacts)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "pools-controller-test", Level: logger.ParseLevel("error")})
}

func shopRequest(method, target, body string, shopID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := middleware.WithActor(req.Context(), middleware.Actor{SubjectID: uuid.New(), ShopID: &shopID, Role: enums.ActorRoleShop})
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func operatorRequest(method, target, body string, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := middleware.WithActor(req.Context(), middleware.Actor{SubjectID: uuid.New(), Role: enums.ActorRoleOperator})
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error.Code, envelope.Error.Reason
}

func TestCreateAppliesDefaultsAndLeadShop(t *testing.T) {
	shopID := uuid.New()
	supplierID := uuid.New()
	var captured internalpools.CreateInput
	svc := &stubPoolService{create: func(ctx context.Context, input internalpools.CreateInput) (*models.Pool, error) {
		captured = input
		return &models.Pool{ID: uuid.New(), LeadShopID: input.LeadShopID, Status: enums.PoolStatusOpen}, nil
	}}

	deadline := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"supplier_id":"` + supplierID.String() + `","title":"  Bulk gloves ","target_quantity":"100",
		"max_participants":5,"deadline":"` + deadline + `",
		"price_schedule":{"tiers":[{"min_quantity":"50","unit_price_cents":900}],"individual_unit_price_cents":1200,"shipping_cents":3000}}`
	resp := httptest.NewRecorder()
	Create(svc, testLogger()).ServeHTTP(resp, shopRequest(http.MethodPost, "/api/v1/pools", body, shopID, nil))

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, shopID, captured.LeadShopID)
	assert.Equal(t, supplierID, captured.SupplierID)
	assert.Equal(t, "Bulk gloves", captured.Title)
	assert.Equal(t, defaultMinParticipants, captured.MinParticipants)
	assert.Equal(t, enums.ShippingModeFlat, captured.PriceSchedule.ShippingMode)
	assert.True(t, captured.LeadQuantity.IsZero())
	require.Len(t, captured.PriceSchedule.Tiers, 1)
	assert.True(t, captured.PriceSchedule.Tiers[0].MinQuantity.Equal(decimal.NewFromInt(50)))
}

func TestCreateRejectsInvalidBody(t *testing.T) {
	svc := &stubPoolService{create: func(ctx context.Context, input internalpools.CreateInput) (*models.Pool, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	body := `{"supplier_id":"nope","title":"x","target_quantity":"-1","max_participants":5,
		"deadline":"2030-01-01T00:00:00Z","price_schedule":{"tiers":[]}}`
	resp := httptest.NewRecorder()
	Create(svc, testLogger()).ServeHTTP(resp, shopRequest(http.MethodPost, "/api/v1/pools", body, uuid.New(), nil))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	code, _ := decodeError(t, resp)
	assert.Equal(t, string(pkgerrors.CodeValidation), code)
}

func TestCreateRequiresShopActor(t *testing.T) {
	svc := &stubPoolService{}
	resp := httptest.NewRecorder()
	Create(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodPost, "/api/v1/pools", `{}`, nil))
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestJoinPassesActingShop(t *testing.T) {
	poolID := uuid.New()
	shopID := uuid.New()
	svc := &stubPoolService{join: func(ctx context.Context, gotPool, gotShop uuid.UUID, quantity decimal.Decimal) (*models.Pool, error) {
		assert.Equal(t, poolID, gotPool)
		assert.Equal(t, shopID, gotShop)
		assert.True(t, quantity.Equal(decimal.RequireFromString("12.5")))
		return &models.Pool{ID: poolID, CurrentCommitment: quantity}, nil
	}}
	resp := httptest.NewRecorder()
	req := shopRequest(http.MethodPost, "/api/v1/pools/"+poolID.String()+"/join", `{"quantity":"12.5"}`, shopID, map[string]string{"poolId": poolID.String()})
	Join(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var envelope struct {
		Data models.Pool `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, poolID, envelope.Data.ID)
}

func TestJoinSurfacesRejectionReason(t *testing.T) {
	poolID := uuid.New()
	svc := &stubPoolService{join: func(context.Context, uuid.UUID, uuid.UUID, decimal.Decimal) (*models.Pool, error) {
		return nil, pkgerrors.Rejection(pkgerrors.CodeStateConflict, pkgerrors.ReasonPoolFull, "pool is full")
	}}
	resp := httptest.NewRecorder()
	req := shopRequest(http.MethodPost, "/", `{"quantity":"1"}`, uuid.New(), map[string]string{"poolId": poolID.String()})
	Join(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	code, reason := decodeError(t, resp)
	assert.Equal(t, string(pkgerrors.CodeStateConflict), code)
	assert.Equal(t, string(pkgerrors.ReasonPoolFull), reason)
}

func TestJoinRejectsBadPoolID(t *testing.T) {
	resp := httptest.NewRecorder()
	req := shopRequest(http.MethodPost, "/", `{"quantity":"1"}`, uuid.New(), map[string]string{"poolId": "abc"})
	Join(&stubPoolService{}, testLogger()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListParsesFilters(t *testing.T) {
	supplierID := uuid.New()
	svc := &stubPoolService{list: func(ctx context.Context, params internalpools.ListParams) (*internalpools.ListResult, error) {
		require.NotNil(t, params.Status)
		assert.Equal(t, enums.PoolStatusOpen, *params.Status)
		require.NotNil(t, params.SupplierID)
		assert.Equal(t, supplierID, *params.SupplierID)
		assert.Nil(t, params.ShopID)
		assert.Equal(t, 10, params.Limit)
		assert.Equal(t, "abc", params.Cursor)
		return &internalpools.ListResult{}, nil
	}}
	resp := httptest.NewRecorder()
	target := "/api/v1/pools?status=open&limit=10&cursor=abc&supplierId=" + supplierID.String()
	List(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodGet, target, "", nil))
	assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
}

func TestListRejectsUnknownStatus(t *testing.T) {
	resp := httptest.NewRecorder()
	List(&stubPoolService{}, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodGet, "/api/v1/pools?status=bogus", "", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSavingsPreviewScopesShop(t *testing.T) {
	poolID := uuid.New()
	shopID := uuid.New()
	params := map[string]string{"poolId": poolID.String()}
	svc := &stubPoolService{preview: func(ctx context.Context, gotPool, gotShop uuid.UUID, quantity decimal.Decimal) (*internalpools.SavingsPreview, error) {
		return &internalpools.SavingsPreview{PoolID: gotPool, ShopID: gotShop, Quantity: quantity}, nil
	}}

	t.Run("shop defaults to itself", func(t *testing.T) {
		resp := httptest.NewRecorder()
		SavingsPreview(svc, testLogger()).ServeHTTP(resp, shopRequest(http.MethodGet, "/x?quantity=5", "", shopID, params))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		var envelope struct {
			Data internalpools.SavingsPreview `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
		assert.Equal(t, shopID, envelope.Data.ShopID)
	})

	t.Run("shop cannot preview another shop", func(t *testing.T) {
		resp := httptest.NewRecorder()
		SavingsPreview(svc, testLogger()).ServeHTTP(resp, shopRequest(http.MethodGet, "/x?quantity=5&shopId="+uuid.NewString(), "", shopID, params))
		assert.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("operator must name a shop", func(t *testing.T) {
		resp := httptest.NewRecorder()
		SavingsPreview(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodGet, "/x?quantity=5", "", params))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("quantity must be positive", func(t *testing.T) {
		resp := httptest.NewRecorder()
		SavingsPreview(svc, testLogger()).ServeHTTP(resp, shopRequest(http.MethodGet, "/x?quantity=0", "", shopID, params))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestCancelRequiresReason(t *testing.T) {
	poolID := uuid.New()
	params := map[string]string{"poolId": poolID.String()}
	svc := &stubPoolService{cancel: func(ctx context.Context, gotPool uuid.UUID, reason string) (*models.Pool, error) {
		assert.Equal(t, "supplier out of stock", reason)
		return &models.Pool{ID: gotPool, Status: enums.PoolStatusCancelled}, nil
	}}

	resp := httptest.NewRecorder()
	Cancel(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{}`, params))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = httptest.NewRecorder()
	Cancel(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", `{"reason":" supplier out of stock "}`, params))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestConfirmMapsBusyToConflict(t *testing.T) {
	poolID := uuid.New()
	svc := &stubPoolService{confirm: func(context.Context, uuid.UUID) (*models.Pool, error) {
		return nil, pkgerrors.VersionConflict("pool")
	}}
	resp := httptest.NewRecorder()
	Confirm(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", "", map[string]string{"poolId": poolID.String()}))

	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))
}

func TestEvaluateReturnsChangedFlag(t *testing.T) {
	poolID := uuid.New()
	svc := &stubPoolService{evaluate: func(ctx context.Context, id uuid.UUID) (*internalpools.EvaluationResult, error) {
		return &internalpools.EvaluationResult{Pool: &models.Pool{ID: id, Status: enums.PoolStatusPending}, Changed: true}, nil
	}}
	resp := httptest.NewRecorder()
	Evaluate(svc, testLogger()).ServeHTTP(resp, operatorRequest(http.MethodPost, "/", "", map[string]string{"poolId": poolID.String()}))

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data internalpools.EvaluationResult `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Data.Changed)
	assert.Equal(t, enums.PoolStatusPending, envelope.Data.Pool.Status)
}

func TestInviteTrimsContacts(t *testing.T) {
	poolID := uuid.New()
	var got []string
	svc := &stubPoolService{invite: func(ctx context.Context, id uuid.UUID, contacts []string) error {
		got = contacts
		return nil
	}}
	resp := httptest.NewRecorder()
	req := shopRequest(http.MethodPost, "/", `{"contacts":[" a@shop.test ","b@shop.test"]}`, uuid.New(), map[string]string{"poolId": poolID.String()})
	Invite(svc, testLogger()).ServeHTTP(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())
	assert.Equal(t, []string{"a@shop.test", "b@shop.test"}, got)
}
