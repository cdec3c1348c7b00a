package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/models"
	"github.com/enmstack/analytics-service/internal/repository"
)

type stubStore struct {
	repository.Store

	machines     []*models.Machine
	anomalies    []*models.Anomaly
	lastFilter   repository.AnomalyFilter
	saveCreated  bool
	savedAnomaly *models.Anomaly
}

func (s *stubStore) ListMachines(ctx context.Context, activeOnly bool) ([]*models.Machine, error) {
	return s.machines, nil
}

func (s *stubStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	for _, m := range s.machines {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, enmserr.New(enmserr.KindNotFound, "machine %s not found", id)
}

func (s *stubStore) ListAnomalies(ctx context.Context, f repository.AnomalyFilter) ([]*models.Anomaly, error) {
	s.lastFilter = f
	return s.anomalies, nil
}

func (s *stubStore) SaveAnomaly(ctx context.Context, a *models.Anomaly) (bool, error) {
	s.savedAnomaly = a
	return s.saveCreated, nil
}

func (s *stubStore) ResolveAnomaly(ctx context.Context, id, note string) (*models.Anomaly, error) {
	if id != "a-1" {
		return nil, enmserr.New(enmserr.KindNotFound, "anomaly %s not found", id)
	}
	now := time.Now().UTC()
	return &models.Anomaly{ID: id, Status: models.AnomalyStatusResolved, ResolvedAt: &now, ResolutionNote: &note}, nil
}

func testHandler(t *testing.T, store *stubStore) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	bus := events.NewBusWithClient(client, zap.NewNop())
	return NewHandler(store, nil, nil, nil, nil, nil, nil, nil, bus,
		nil, 0, FeatureFlags{}, zap.NewNop())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		kind enmserr.Kind
		want int
	}{
		{enmserr.KindBadRequest, http.StatusBadRequest},
		{enmserr.KindNotFound, http.StatusNotFound},
		{enmserr.KindNotTrained, http.StatusNotFound},
		{enmserr.KindConflict, http.StatusConflict},
		{enmserr.KindInsufficientData, http.StatusUnprocessableEntity},
		{enmserr.KindRateLimited, http.StatusTooManyRequests},
		{enmserr.KindTooManyConnections, http.StatusServiceUnavailable},
		{enmserr.KindTransientUnavailable, http.StatusServiceUnavailable},
		{enmserr.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(enmserr.New(tc.kind, "x")), tc.kind)
	}
}

func TestRespondErrorMasksInternal(t *testing.T) {
	h := testHandler(t, &stubStore{})
	rec := httptest.NewRecorder()
	h.respondError(rec, enmserr.New(enmserr.KindInternal, "password leaked in here"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal server error", body["detail"])
}

func TestListMachines(t *testing.T) {
	h := testHandler(t, &stubStore{machines: []*models.Machine{
		{ID: "m-1", Name: "press-01"},
		{ID: "m-2", Name: "oven-02"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/machines", nil)
	rec := httptest.NewRecorder()
	h.ListMachines(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
}

func TestGetMachineNotFound(t *testing.T) {
	h := testHandler(t, &stubStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/machines/nope", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	h.GetMachine(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "nope")
}

func TestRecentAnomaliesLimitValidation(t *testing.T) {
	h := testHandler(t, &stubStore{})

	for _, limit := range []string{"0", "1001", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/anomaly/recent?limit="+limit, nil)
		rec := httptest.NewRecorder()
		h.RecentAnomalies(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
}

func TestRecentAnomaliesDefaults(t *testing.T) {
	store := &stubStore{}
	h := testHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomaly/recent", nil)
	rec := httptest.NewRecorder()
	h.RecentAnomalies(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, store.lastFilter.Limit)
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), store.lastFilter.Since, time.Minute)
}

func TestActiveAnomaliesFiltersOpen(t *testing.T) {
	store := &stubStore{}
	h := testHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomaly/active?machine_id=m-1", nil)
	rec := httptest.NewRecorder()
	h.ActiveAnomalies(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.AnomalyStatusOpen, store.lastFilter.Status)
	assert.Equal(t, "m-1", store.lastFilter.MachineID)
}

func TestCreateAnomaly(t *testing.T) {
	store := &stubStore{saveCreated: true}
	h := testHandler(t, store)

	body := `{"machine_id":"m-1","metric":"power_kw","actual":50,"expected":40,"severity":"critical"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/anomaly/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateAnomaly(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, store.savedAnomaly)
	assert.Equal(t, 1.0, store.savedAnomaly.Confidence)
	assert.Equal(t, models.AnomalyStatusOpen, store.savedAnomaly.Status)
	assert.InDelta(t, 25.0, store.savedAnomaly.DeviationPercent, 1e-9)
}

func TestCreateAnomalyDeduplicates(t *testing.T) {
	store := &stubStore{saveCreated: false}
	h := testHandler(t, store)

	body := `{"machine_id":"m-1","actual":50,"expected":40}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/anomaly/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateAnomaly(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "anomaly already recorded", resp["message"])
}

func TestCreateAnomalyRejectsBadSeverity(t *testing.T) {
	h := testHandler(t, &stubStore{})

	body := `{"machine_id":"m-1","severity":"catastrophic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/anomaly/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateAnomaly(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAnomalyRequiresMachineID(t *testing.T) {
	h := testHandler(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/anomaly/create", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.CreateAnomaly(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveAnomaly(t *testing.T) {
	h := testHandler(t, &stubStore{})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/anomaly/a-1/resolve", strings.NewReader(`{"note":"fixed"}`))
	req = mux.SetURLVars(req, map[string]string{"id": "a-1"})
	rec := httptest.NewRecorder()
	h.ResolveAnomaly(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, models.AnomalyStatusResolved, resp["status"])

	req = httptest.NewRequest(http.MethodPut, "/api/v1/anomaly/nope/resolve", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rec = httptest.NewRecorder()
	h.ResolveAnomaly(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimeWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?start_time=2026-08-01T00:00:00Z&end_time=2026-08-02T00:00:00Z", nil)
	start, end, err := timeWindow(req, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), end)

	// Default trailing window.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	start, end, err = timeWindow(req, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), end, time.Minute)
	assert.Equal(t, time.Hour, end.Sub(start))

	// Inverted window.
	req = httptest.NewRequest(http.MethodGet, "/?start_time=2026-08-02T00:00:00Z&end_time=2026-08-01T00:00:00Z", nil)
	_, _, err = timeWindow(req, time.Hour)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))

	// Unparseable timestamp.
	req = httptest.NewRequest(http.MethodGet, "/?start_time=yesterday", nil)
	_, _, err = timeWindow(req, time.Hour)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}

func TestInterval(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	g, err := interval(req)
	require.NoError(t, err)
	assert.Equal(t, models.Granularity1Hour, g)

	req = httptest.NewRequest(http.MethodGet, "/?interval=1day", nil)
	g, err = interval(req)
	require.NoError(t, err)
	assert.Equal(t, models.Granularity1Day, g)

	req = httptest.NewRequest(http.MethodGet, "/?interval=weekly", nil)
	_, err = interval(req)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}

func TestScopeFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?machine_id=m-1", nil)
	scope, err := scopeFromQuery(req)
	require.NoError(t, err)
	assert.Equal(t, "m-1", scope.MachineID)
	assert.Equal(t, "electricity", scope.EnergySource)

	req = httptest.NewRequest(http.MethodGet, "/?seu_id=s-1&energy_source=gas", nil)
	scope, err = scopeFromQuery(req)
	require.NoError(t, err)
	assert.True(t, scope.IsSEU())
	assert.Equal(t, "gas", scope.EnergySource)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = scopeFromQuery(req)
	assert.True(t, enmserr.IsKind(err, enmserr.KindBadRequest))
}
