package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/Conceptual-Machines/magda-variations/internal/stream"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret"

type testServer struct {
	router *gin.Engine
	svc    *services.VariationService
}

// setupTestRouter wires the router over in-memory stores and the chord arranger.
func setupTestRouter(t *testing.T, authMode string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment:        "test",
		AuthMode:           authMode,
		JWTSecret:          testJWTSecret,
		CORSAllowedOrigins: []string{"http://daw.local"},
	}
	canon := canonical.NewMemoryStore()
	registry := prometheus.NewRegistry()
	recorder := metrics.Multi{metrics.NewPrometheusMetrics(registry)}

	svc := services.NewVariationService(services.Deps{
		Store:     variation.NewMemoryStore(),
		Canonical: canon,
		Events:    stream.NewBroadcaster(time.Second),
		Generator: generator.NewArranger(),
		Metrics:   recorder,
	}, services.Settings{PhraseBars: 1, BeatsPerBar: 4, GenerationTimeout: 5 * time.Second})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	router := SetupRouter(Dependencies{
		Config:     cfg,
		Variations: svc,
		Canonical:  canon,
		Metrics:    recorder,
		Gatherer:   registry,
		Version:    "test",
	})
	return &testServer{router: router, svc: svc}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type sseFrame struct {
	id    string
	event string
	env   models.EventEnvelope
}

// readFrames parses an SSE body, skipping heartbeats.
func readFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" && cur.event != string(models.EventHeartbeat) {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.env))
		}
	}
	return frames
}

// createProject makes an empty project and returns its state id.
func (s *testServer) createProject(t *testing.T, id string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/projects", gin.H{"projectId": id, "name": "Song"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	project := decode[canonical.Project](t, w)
	return project.StateID
}

// proposeAndStream proposes over an omitted scope and reads the stream to the end.
func (s *testServer) proposeAndStream(t *testing.T, projectID, base string) (services.ProposeResponse, []sseFrame) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/variation/propose", gin.H{
		"projectId":   projectID,
		"baseStateId": base,
		"intent":      "C whole",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[services.ProposeResponse](t, w)

	w = s.do(t, http.MethodGet, resp.StreamURL, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	return resp, readFrames(t, w.Body.String())
}

func TestVariationFlow_ProposeStreamCommit(t *testing.T) {
	s := setupTestRouter(t, "none")
	base := s.createProject(t, "p1")
	assert.Equal(t, "1", base)

	resp, frames := s.proposeAndStream(t, "p1", base)
	assert.Equal(t, "p1", resp.ProjectID)
	assert.Equal(t, "/variation/stream?variationId="+resp.VariationID+"&fromSequence=0", resp.StreamURL)

	require.Len(t, frames, 3)
	assert.Equal(t, []string{"meta", "phrase", "done"}, []string{frames[0].event, frames[1].event, frames[2].event})
	for i, f := range frames {
		assert.Equal(t, strconv.Itoa(i+1), f.id)
		assert.Equal(t, int64(i+1), f.env.Sequence)
		assert.Equal(t, resp.VariationID, f.env.VariationID)
	}
	phrase, ok := frames[1].env.Payload.(models.PhrasePayload)
	require.True(t, ok)
	done, ok := frames[2].env.Payload.(models.DonePayload)
	require.True(t, ok)
	assert.Equal(t, models.DoneReady, done.Status)
	assert.Equal(t, 1, done.PhraseCount)
	assert.Equal(t, 3, done.NoteCounts.Added)

	w := s.do(t, http.MethodGet, "/variation/"+resp.VariationID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[models.Variation](t, w)
	assert.Equal(t, models.StatusReady, v.Status)
	require.Len(t, v.Phrases, 1)

	commit := gin.H{
		"projectId":         "p1",
		"baseStateId":       base,
		"variationId":       resp.VariationID,
		"acceptedPhraseIds": []string{phrase.Phrase.PhraseID},
	}
	w = s.do(t, http.MethodPost, "/variation/commit", commit)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.CommitResult](t, w)
	assert.Equal(t, "2", result.NewStateID)
	require.Len(t, result.UpdatedRegions, 1)
	require.NotNil(t, result.UpdatedRegions[0].Creation)
	assert.Len(t, result.UpdatedRegions[0].Notes, 3)

	w = s.do(t, http.MethodPost, "/variation/commit", commit)
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, variation.ReasonAlreadyCommitted, body["code"])
	assert.NotEmpty(t, body["request_id"])

	w = s.do(t, http.MethodGet, "/projects/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	project := decode[canonical.Project](t, w)
	assert.Equal(t, "2", project.StateID)
	assert.Len(t, project.Regions, 1)
}

func TestVariationStream_LateJoin(t *testing.T) {
	s := setupTestRouter(t, "none")
	base := s.createProject(t, "p1")
	resp, full := s.proposeAndStream(t, "p1", base)
	require.Len(t, full, 3)

	t.Run("fromSequence query", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/variation/stream?variationId="+resp.VariationID+"&fromSequence=1", nil)
		frames := readFrames(t, w.Body.String())
		require.Len(t, frames, 2)
		assert.Equal(t, "2", frames[0].id)
		assert.Equal(t, full[1].env.Payload, frames[0].env.Payload)
	})

	t.Run("Last-Event-ID header", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/variation/stream?variationId="+resp.VariationID, nil, "Last-Event-ID", "2")
		frames := readFrames(t, w.Body.String())
		require.Len(t, frames, 1)
		assert.Equal(t, "done", frames[0].event)
	})

	t.Run("past the end", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/variation/stream?variationId="+resp.VariationID+"&fromSequence=3", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, readFrames(t, w.Body.String()))
	})
}

func TestVariationDiscard_Endpoint(t *testing.T) {
	s := setupTestRouter(t, "none")
	base := s.createProject(t, "p1")
	resp, _ := s.proposeAndStream(t, "p1", base)

	discard := gin.H{"projectId": "p1", "variationId": resp.VariationID}
	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/variation/discard", discard)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode[map[string]any](t, w)["ok"])
	}

	w := s.do(t, http.MethodPost, "/variation/commit", gin.H{
		"projectId": "p1", "baseStateId": base, "variationId": resp.VariationID, "acceptedPhraseIds": []string{"x"},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, variation.ReasonNotReady, decode[map[string]any](t, w)["code"])

	w = s.do(t, http.MethodGet, "/projects/p1", nil)
	assert.Equal(t, "1", decode[canonical.Project](t, w).StateID)
}

func TestVariationEndpoints_Errors(t *testing.T) {
	s := setupTestRouter(t, "none")
	base := s.createProject(t, "p1")

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name: "propose unknown project", method: http.MethodPost, path: "/variation/propose",
			body:       gin.H{"projectId": "nope", "baseStateId": "1", "intent": "C"},
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "propose stale base", method: http.MethodPost, path: "/variation/propose",
			body:       gin.H{"projectId": "p1", "baseStateId": "7", "intent": "C"},
			wantStatus: http.StatusConflict, wantCode: variation.ReasonStaleBase,
		},
		{
			name: "propose empty intent", method: http.MethodPost, path: "/variation/propose",
			body:       gin.H{"projectId": "p1", "baseStateId": base, "intent": "  "},
			wantStatus: http.StatusBadRequest, wantCode: "bad_request",
		},
		{
			name: "propose missing base", method: http.MethodPost, path: "/variation/propose",
			body:       gin.H{"projectId": "p1", "intent": "C"},
			wantStatus: http.StatusBadRequest, wantCode: "bad_request",
		},
		{
			name: "stream without id", method: http.MethodGet, path: "/variation/stream",
			wantStatus: http.StatusBadRequest, wantCode: "bad_request",
		},
		{
			name: "stream bad fromSequence", method: http.MethodGet, path: "/variation/stream?variationId=v&fromSequence=-1",
			wantStatus: http.StatusBadRequest, wantCode: "bad_request",
		},
		{
			name: "stream unknown variation", method: http.MethodGet, path: "/variation/stream?variationId=missing",
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "get unknown variation", method: http.MethodGet, path: "/variation/missing",
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "commit unknown variation", method: http.MethodPost, path: "/variation/commit",
			body:       gin.H{"projectId": "p1", "baseStateId": base, "variationId": "missing", "acceptedPhraseIds": []string{"a"}},
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "discard unknown variation", method: http.MethodPost, path: "/variation/discard",
			body:       gin.H{"projectId": "p1", "variationId": "missing"},
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "unknown project", method: http.MethodGet, path: "/projects/nope",
			wantStatus: http.StatusNotFound, wantCode: "not_found",
		},
		{
			name: "duplicate project", method: http.MethodPost, path: "/projects",
			body:       gin.H{"projectId": "p1", "name": "Again"},
			wantStatus: http.StatusConflict, wantCode: "project_exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[map[string]any](t, w)["code"])
		})
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthModes(t *testing.T) {
	valid := signToken(t, testJWTSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	admin := signToken(t, testJWTSecret, jwt.MapClaims{"sub": "ops", "role": models.RoleAdmin, "exp": time.Now().Add(time.Hour).Unix()})
	expired := signToken(t, testJWTSecret, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})
	forged := signToken(t, "other-secret", jwt.MapClaims{"sub": "u1"})

	tests := []struct {
		name       string
		mode       string
		method     string
		path       string
		headers    []string
		wantStatus int
	}{
		{"none allows anonymous", "none", http.MethodGet, "/projects/p0", nil, http.StatusNotFound},
		{"none blocks admin", "none", http.MethodPost, "/api/admin/sweep", nil, http.StatusForbidden},
		{"gateway requires header", "gateway", http.MethodGet, "/projects/p0", nil, http.StatusUnauthorized},
		{"gateway trusts header", "gateway", http.MethodGet, "/projects/p0", []string{"X-User-ID", "u1"}, http.StatusNotFound},
		{"gateway admin role", "gateway", http.MethodPost, "/api/admin/sweep", []string{"X-User-ID", "ops", "X-User-Role", "admin"}, http.StatusOK},
		{"jwt missing token", "jwt", http.MethodGet, "/projects/p0", nil, http.StatusUnauthorized},
		{"jwt valid token", "jwt", http.MethodGet, "/projects/p0", []string{"Authorization", "Bearer " + valid}, http.StatusNotFound},
		{"jwt query token", "jwt", http.MethodGet, "/variation/stream?variationId=x&access_token=" + valid, nil, http.StatusNotFound},
		{"jwt expired token", "jwt", http.MethodGet, "/projects/p0", []string{"Authorization", "Bearer " + expired}, http.StatusUnauthorized},
		{"jwt wrong secret", "jwt", http.MethodGet, "/projects/p0", []string{"Authorization", "Bearer " + forged}, http.StatusUnauthorized},
		{"jwt user is not admin", "jwt", http.MethodGet, "/api/admin/variations", []string{"Authorization", "Bearer " + valid}, http.StatusForbidden},
		{"jwt admin", "jwt", http.MethodGet, "/api/admin/variations", []string{"Authorization", "Bearer " + admin}, http.StatusOK},
		{"health is public", "jwt", http.MethodGet, "/health", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestRouter(t, tt.mode)
			w := s.do(t, tt.method, tt.path, nil, tt.headers...)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestAdminListVariations(t *testing.T) {
	s := setupTestRouter(t, "gateway")
	admin := []string{"X-User-ID", "ops", "X-User-Role", models.RoleAdmin}

	w := s.do(t, http.MethodPost, "/projects", gin.H{"projectId": "p1", "name": "Song"}, admin...)
	require.Equal(t, http.StatusCreated, w.Code)
	w = s.do(t, http.MethodPost, "/variation/propose", gin.H{"projectId": "p1", "baseStateId": "1", "intent": "C"}, admin...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[services.ProposeResponse](t, w)
	s.do(t, http.MethodGet, resp.StreamURL, nil, admin...)

	w = s.do(t, http.MethodGet, "/api/admin/variations?project_id=p1&status=ready", nil, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), body["total"])

	w = s.do(t, http.MethodGet, "/api/admin/variations?project_id=other", nil, admin...)
	assert.Equal(t, float64(0), decode[map[string]any](t, w)["total"])
}

func TestOperationalEndpoints(t *testing.T) {
	s := setupTestRouter(t, "none")
	base := s.createProject(t, "p1")
	s.proposeAndStream(t, "p1", base)

	w := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, w)["status"])

	w = s.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[map[string]any](t, w)
	variations, ok := stats["variations"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, generator.ArrangerName, variations["generator"])

	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `variations_proposals_total{outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), `variations_api_requests_total{endpoint="/variation/propose",status="200"} 1`)
}

func TestRequestTrackingAndCORS(t *testing.T) {
	s := setupTestRouter(t, "none")

	w := s.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "upstream-1")
	assert.Equal(t, "upstream-1", w.Header().Get("X-Request-ID"))

	w = s.do(t, http.MethodGet, "/health", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	w = s.do(t, http.MethodOptions, "/variation/propose", nil, "Origin", "http://daw.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://daw.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.do(t, http.MethodGet, "/health", nil, "Origin", "http://elsewhere.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
