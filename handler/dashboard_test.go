package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/RCRA/domain/entity"
	"github.com/pyama86/RCRA/handler"
	"github.com/pyama86/RCRA/remediation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDashboard(repo *mockRepo) *gin.Engine {
	pipeline := handler.NewPipeline(repo, nil, nil,
		remediation.NewExecutor(&mockFunctions{config: entity.FunctionConfig{Timeout: 30}}, &mockAlarms{}))
	return handler.NewDashboard(repo, pipeline, nil, 30).Router()
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var payload map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	}
	return w, payload
}

func seedIncident(repo *mockRepo, id string, createdAt time.Time, severity entity.Severity, tags ...string) *entity.Incident {
	incident := &entity.Incident{
		ID:          id,
		CreatedAt:   createdAt,
		LogGroup:    testLogGroup,
		RawMessage:  "Task timed out after 30.00 seconds",
		Fingerprint: entity.NewFingerprint("Function timed out while calling upstream"),
		Analysis: entity.Analysis{
			Summary:  "Function timed out while calling upstream",
			Severity: severity,
			Tags:     tags,
		},
		Status: entity.StatusOpen,
		Remediation: &entity.Remediation{
			Eligible:    true,
			ActionTaken: entity.ActionAutoRemediated,
			Scenario:    entity.ScenarioLambdaTimeout,
		},
	}
	repo.incidents[id] = incident
	return incident
}

func TestListIncidentsFiltersBySeverity(t *testing.T) {
	repo := newMockRepo()
	now := time.Now().UTC()
	seedIncident(repo, "inc-1", now.Add(-time.Hour), entity.SeverityHigh, "timeout")
	seedIncident(repo, "inc-2", now.Add(-2*time.Hour), entity.SeverityLow, "noise")

	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/incidents?severity=HIGH", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), payload["count"])

	incidents := payload["incidents"].([]any)
	require.Len(t, incidents, 1)
	first := incidents[0].(map[string]any)
	assert.Equal(t, "inc-1", first["incidentId"])
	assert.Equal(t, "HIGH", first["severity"])
}

func TestListIncidentsHonorsLimit(t *testing.T) {
	repo := newMockRepo()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedIncident(repo, "inc-"+string(rune('a'+i)), now.Add(-time.Duration(i)*time.Hour), entity.SeverityMedium)
	}

	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/incidents?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), payload["count"])
}

func TestListIncidentsTruncatesOnRuneBoundary(t *testing.T) {
	repo := newMockRepo()
	incident := seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	incident.RawMessage = strings.Repeat("あ", 250)

	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/incidents", "")
	require.Equal(t, http.StatusOK, w.Code)

	first := payload["incidents"].([]any)[0].(map[string]any)
	raw := first["rawMessage"].(string)
	assert.True(t, utf8.ValidString(raw))
	assert.Equal(t, strings.Repeat("あ", 200), raw)
}

func TestGetIncidentNotFound(t *testing.T) {
	router := newTestDashboard(newMockRepo())
	w, _ := doRequest(t, router, http.MethodGet, "/api/incidents/inc-missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAcknowledgeIncident(t *testing.T) {
	repo := newMockRepo()
	incident := seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	router := newTestDashboard(repo)

	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/acknowledge", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.StatusInProgress, incident.Status)

	// IN_PROGRESSからの再確認は競合
	w, _ = doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/acknowledge", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveIncident(t *testing.T) {
	repo := newMockRepo()
	incident := seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	router := newTestDashboard(repo)

	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/resolve",
		`{"resolved_by":"alice","notes":"raised the timeout"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.StatusResolved, incident.Status)
	require.NotNil(t, incident.Resolution)
	assert.Equal(t, "alice", incident.Resolution.ResolvedBy)
	assert.Equal(t, "raised the timeout", incident.Resolution.Notes)

	// RESOLVEDは終端状態
	w, _ = doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/resolve",
		`{"resolved_by":"bob"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResolveIncidentRequiresResolvedBy(t *testing.T) {
	repo := newMockRepo()
	seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	router := newTestDashboard(repo)

	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/resolve", `{"notes":"no author"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveIncidentRunsRemediation(t *testing.T) {
	repo := newMockRepo()
	incident := seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	incident.Remediation.ActionTaken = entity.ActionApprovalRequired
	router := newTestDashboard(repo)

	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/approve", `{"approved_by":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.ActionAutoRemediated, incident.Remediation.ActionTaken)
	assert.Equal(t, "alice", incident.Remediation.ApprovedBy)
}

func TestApproveIncidentConflictWhenNotBlocked(t *testing.T) {
	repo := newMockRepo()
	seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	router := newTestDashboard(repo)

	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/approve", `{"approved_by":"alice"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveIncidentStoreFailure(t *testing.T) {
	repo := newMockRepo()
	incident := seedIncident(repo, "inc-1", time.Now().UTC(), entity.SeverityHigh)
	incident.Remediation.ActionTaken = entity.ActionApprovalRequired
	repo.saveErr = fmt.Errorf("dynamodb unavailable")
	router := newTestDashboard(repo)

	// 保存失敗は前提条件違反ではないので409ではなく500
	w, _ := doRequest(t, router, http.MethodPost, "/api/incidents/inc-1/approve", `{"approved_by":"alice"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatistics(t *testing.T) {
	repo := newMockRepo()
	now := time.Now().UTC()
	seedIncident(repo, "inc-1", now.Add(-time.Hour), entity.SeverityCritical, "timeout", "database")
	seedIncident(repo, "inc-2", now.Add(-2*time.Hour), entity.SeverityHigh, "timeout")
	seedIncident(repo, "inc-3", now.Add(-48*time.Hour), entity.SeverityLow, "noise")

	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/statistics", "")
	require.Equal(t, http.StatusOK, w.Code)

	overview := payload["overview"].(map[string]any)
	assert.Equal(t, float64(3), overview["totalIncidents"])
	assert.Equal(t, float64(2), overview["incidents24h"])
	assert.Equal(t, float64(3), overview["remediationEligible"])
	// (4+3+1)/3 = 2.67 → HIGH
	assert.Equal(t, "HIGH", overview["avgSeverity"])

	breakdown := payload["severityBreakdown"].(map[string]any)
	assert.Equal(t, float64(1), breakdown["CRITICAL"])
	assert.Equal(t, float64(1), breakdown["HIGH"])
	assert.Equal(t, float64(0), breakdown["MEDIUM"])

	topTags := payload["topTags"].([]any)
	require.NotEmpty(t, topTags)
	first := topTags[0].(map[string]any)
	assert.Equal(t, "timeout", first["tag"])
	assert.Equal(t, float64(2), first["count"])

	recent := payload["recentIncidents"].([]any)
	assert.Len(t, recent, 3)
}

func TestStatisticsEmptyStore(t *testing.T) {
	router := newTestDashboard(newMockRepo())
	w, payload := doRequest(t, router, http.MethodGet, "/api/statistics", "")
	require.Equal(t, http.StatusOK, w.Code)

	overview := payload["overview"].(map[string]any)
	assert.Equal(t, float64(0), overview["totalIncidents"])
	assert.Equal(t, "N/A", overview["avgSeverity"])
}

func TestForecastEndpoint(t *testing.T) {
	repo := newMockRepo()
	now := time.Now().UTC()
	// 3日連続でインシデントを発生させ回帰に足るデータを作る
	for day := 1; day <= 3; day++ {
		for n := 0; n < day; n++ {
			id := "inc-" + string(rune('a'+day)) + string(rune('0'+n))
			seedIncident(repo, id, now.AddDate(0, 0, -4+day).Add(time.Duration(n)*time.Minute), entity.SeverityMedium)
		}
	}

	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/forecast", "")
	require.Equal(t, http.StatusOK, w.Code)

	result := payload["forecast"].(map[string]any)
	assert.Equal(t, "increasing", result["trend"])
	predictions := result["predictions"].([]any)
	assert.Len(t, predictions, 7)

	history := payload["history"].([]any)
	assert.Len(t, history, 3)
}

func TestCriticalFunctionConfig(t *testing.T) {
	repo := newMockRepo()
	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/config/critical-functions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, payload["functions"])

	w, payload = doRequest(t, router, http.MethodPost, "/api/config/critical-functions/orders-api", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"orders-api"}, payload["functions"])
	assert.Equal(t, []string{"orders-api"}, repo.criticalFunctions)

	// 重複追加は冪等
	w, payload = doRequest(t, router, http.MethodPost, "/api/config/critical-functions/orders-api", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"orders-api"}, payload["functions"])

	w, payload = doRequest(t, router, http.MethodPut, "/api/config/critical-functions",
		`{"functions":["payments-api","orders-api"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"payments-api", "orders-api"}, repo.criticalFunctions)

	w, _ = doRequest(t, router, http.MethodDelete, "/api/config/critical-functions/payments-api", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"orders-api"}, repo.criticalFunctions)
}

func TestScenarioPolicyConfig(t *testing.T) {
	repo := newMockRepo()
	router := newTestDashboard(repo)

	w, payload := doRequest(t, router, http.MethodGet, "/api/config/scenario-policies", "")
	require.Equal(t, http.StatusOK, w.Code)
	policies := payload["policies"].(map[string]any)
	assert.Equal(t, true, policies["lambdaTimeout"])
	assert.Equal(t, false, policies["throttling"])

	w, _ = doRequest(t, router, http.MethodPut, "/api/config/scenario-policies",
		`{"policies":{"lambdaTimeout":false,"throttling":true}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, repo.policies[entity.ScenarioLambdaTimeout])
	assert.True(t, repo.policies[entity.ScenarioThrottling])
}
