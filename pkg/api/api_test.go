package api_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sciffer/beermqtt/internal/logger"
	itestutil "github.com/sciffer/beermqtt/internal/testutil"
	"github.com/sciffer/beermqtt/pkg/api"
	"github.com/sciffer/beermqtt/pkg/auth"
	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/feed"
	"github.com/sciffer/beermqtt/pkg/hives"
	"github.com/sciffer/beermqtt/pkg/ingest"
	"github.com/sciffer/beermqtt/pkg/metrics"
	"github.com/sciffer/beermqtt/pkg/models"
	"github.com/sciffer/beermqtt/pkg/query"
	"github.com/sciffer/beermqtt/pkg/validator"
)

type testEnv struct {
	server   *httptest.Server
	db       *database.DB
	hives    *hives.Service
	hub      *feed.Hub
	pipeline *ingest.Pipeline
	recorder *metrics.Prometheus
	tokens   *auth.TokenIssuer
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()

	db := itestutil.NewDB(t)
	hiveSvc := itestutil.NewHives(db)
	hub := feed.NewHub(8, zap.NewNop())
	recorder := metrics.NewPrometheus()
	pipeline := ingest.New(validator.New(0), db, ingest.Options{Notifier: hub}, recorder, zap.NewNop())

	var tokens *auth.TokenIssuer
	if withAuth {
		tokens = auth.NewTokenIssuer("test-secret", time.Hour, zap.NewNop())
	}

	handler := api.NewHandler(hiveSvc, query.NewService(db, zap.NewNop()), hub, db, logger.NewNop())
	server := httptest.NewServer(api.NewRouter(handler, tokens, recorder, recorder.Handler()))
	t.Cleanup(server.Close)

	return &testEnv{
		server:   server,
		db:       db,
		hives:    hiveSvc,
		hub:      hub,
		pipeline: pipeline,
		recorder: recorder,
		tokens:   tokens,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if e.tokens != nil {
		token, _, err := e.tokens.Issue("admin")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) models.ErrorResponse {
	t.Helper()
	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &errResp))
	return errResp
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t, true)

	resp, err := http.Get(e.server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Database)

	require.NoError(t, e.db.Close())
	resp2, err := http.Get(e.server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestHiveRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t, true)

	resp, err := http.Get(e.server.URL + "/api/v1/hives")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := e.do(t, http.MethodGet, "/api/v1/hives", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))
}

func TestHiveLifecycle(t *testing.T) {
	e := newTestEnv(t, false)
	ctx := context.Background()

	resp, data := e.do(t, http.MethodPost, "/api/v1/hives", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var creds models.HiveCredentials
	require.NoError(t, json.Unmarshal(data, &creds))
	assert.NotEmpty(t, creds.Identifier)
	assert.Len(t, creds.Password, 14)

	_, err := e.hives.VerifyCredentials(ctx, creds.Identifier, creds.Password)
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		resp, data := e.do(t, http.MethodGet, "/api/v1/hives/"+creds.Identifier, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, string(data), "password")
		assert.NotContains(t, string(data), creds.Password)

		resp, data = e.do(t, http.MethodGet, "/api/v1/hives/hive-unknown", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, http.StatusNotFound, decodeError(t, data).Code)
	})

	t.Run("metrics newest first", func(t *testing.T) {
		for _, date := range []string{"2024-05-01T10:00:00Z", "2024-05-01T11:00:00Z"} {
			res := e.pipeline.Ingest(ctx, creds.Identifier,
				[]byte(`{"date":"`+date+`","reads":[{"sensor_id":1,"value":20.5},{"sensor_id":2,"value":"dry"}]}`))
			require.True(t, res.OK(), "%v", res.Err)
		}

		resp, data := e.do(t, http.MethodGet, "/api/v1/hives/"+creds.Identifier+"/metrics", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		var out models.QueryReadingsResponse
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, query.DefaultLimit, out.Limit)
		require.Len(t, out.Metrics, 2)
		assert.Equal(t, "2024-05-01T11:00:00Z", out.Metrics[0].Date)
		assert.Contains(t, string(data), `"value":20.5`)
		assert.Contains(t, string(data), `"value":"dry"`)

		resp, data = e.do(t, http.MethodGet, "/api/v1/hives/"+creds.Identifier+"/metrics?take=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Len(t, out.Metrics, 1)
		assert.Equal(t, 1, out.Limit)
	})

	t.Run("bad limits", func(t *testing.T) {
		for _, q := range []string{"?limit=abc", "?limit=0", "?limit=-1", "?limit=1001"} {
			resp, _ := e.do(t, http.MethodGet, "/api/v1/hives/"+creds.Identifier+"/metrics"+q, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, data := e.do(t, http.MethodDelete, "/api/v1/hives/"+creds.Identifier, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

		resp, _ = e.do(t, http.MethodGet, "/api/v1/hives/"+creds.Identifier+"/metrics", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = e.do(t, http.MethodDelete, "/api/v1/hives/"+creds.Identifier, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		n, err := e.db.CountMetrics(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestRegisterAndUpdateHive(t *testing.T) {
	e := newTestEnv(t, false)

	resp, data := e.do(t, http.MethodPost, "/api/v1/hives/register",
		`{"identifier":"garden-01","password":"supersecret","ip":"10.0.0.5"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var hive models.Hive
	require.NoError(t, json.Unmarshal(data, &hive))
	assert.Equal(t, "garden-01", hive.Identifier)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"duplicate identifier", http.MethodPost, "/api/v1/hives/register", `{"identifier":"garden-01","password":"supersecret"}`, http.StatusConflict},
		{"short password", http.MethodPost, "/api/v1/hives/register", `{"identifier":"garden-02","password":"short"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/v1/hives/register", `{"identifier":"garden-02","password":"supersecret","admin":true}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/hives/register", `{`, http.StatusBadRequest},
		{"empty update", http.MethodPut, "/api/v1/hives/garden-01", `{}`, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/api/v1/hives/garden-99", `{"password":"anothersecret"}`, http.StatusNotFound},
		{"rename", http.MethodPut, "/api/v1/hives/garden-01", `{"identifier":"garden-10"}`, http.StatusOK},
		{"renamed is gone", http.MethodGet, "/api/v1/hives/garden-01", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))
			if tt.status >= 400 {
				assert.Equal(t, tt.status, decodeError(t, data).Code)
			}
		})
	}

	resp, data = e.do(t, http.MethodGet, "/api/v1/hives", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.ListHivesResponse
	require.NoError(t, json.Unmarshal(data, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "garden-10", list.Hives[0].Identifier)
}

func TestLiveStream(t *testing.T) {
	e := newTestEnv(t, true)
	ctx := context.Background()
	creds := itestutil.CreateHive(t, e.hives)

	token, _, err := e.tokens.Issue("admin")
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/v1/hives/" + creds.Identifier + "/live?token=" + token

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return e.hub.Subscribers(creds.Identifier) == 1 },
		time.Second, 10*time.Millisecond)

	res := e.pipeline.Ingest(ctx, creds.Identifier, []byte(`{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":7,"value":"open"}]}`))
	require.True(t, res.OK())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var metric models.Metric
	require.NoError(t, json.Unmarshal(data, &metric))
	assert.Equal(t, res.Metric.ID, metric.ID)
	require.Len(t, metric.Reads, 1)
	assert.Equal(t, 7, metric.Reads[0].SensorID)

	_, err = e.hives.DeleteHive(ctx, creds.Identifier)
	require.NoError(t, err)
	e.hub.CloseHive(creds.Identifier)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}

func TestRequestMetrics(t *testing.T) {
	e := newTestEnv(t, false)

	e.do(t, http.MethodGet, "/api/v1/hives", "")
	e.do(t, http.MethodGet, "/api/v1/hives/hive-nope00", "")

	resp, err := http.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte(`route="/api/v1/hives/{identifier}",status="4xx"`)), string(body))
	assert.NotContains(t, string(body), "hive-nope00")

	n, err := testutil.GatherAndCount(e.recorder.Registry(), "beermqtt_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
}

func TestAdminOperationsAreLogged(t *testing.T) {
	db := itestutil.NewDB(t)
	hiveSvc := itestutil.NewHives(db)
	core, logs := observer.New(zapcore.InfoLevel)

	handler := api.NewHandler(hiveSvc, query.NewService(db, zap.NewNop()), feed.NewHub(1, zap.NewNop()), db,
		&logger.Logger{Logger: zap.New(core)})
	server := httptest.NewServer(api.NewRouter(handler, nil, nil, nil))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/hives", "application/json", nil)
	require.NoError(t, err)
	var creds models.HiveCredentials
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&creds))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/hives/"+creds.Identifier, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for op, msg := range map[string]string{
		"create_hive": "hive created via API",
		"delete_hive": "hive deleted via API",
	} {
		entries := logs.FilterMessage(msg).FilterField(zap.String("operation", op)).All()
		require.Len(t, entries, 1, op)
		assert.Equal(t, creds.Identifier, entries[0].ContextMap()["hive"])
	}
	assert.Empty(t, logs.FilterField(zap.String("password", creds.Password)).All())
}
