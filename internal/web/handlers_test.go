package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/telemetry"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/tensor"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

type row = [detect.RowWidth]float32

// stubModel returns two fixed detections for every frame.
type stubModel struct {
	mu   sync.Mutex
	rows []row
}

func (m *stubModel) InputSize() (int, int) { return 32, 32 }

func (m *stubModel) Infer(ctx context.Context, input *tensor.Tensor, arena *tensor.Arena) (*tensor.Tensor, *tensor.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	boxes := arena.New(1, len(m.rows), detect.RowWidth)
	scores := arena.New(1, len(m.rows), 1)
	for i, r := range m.rows {
		copy(boxes.Data[i*detect.RowWidth:], r[:])
		scores.Data[i] = r[detect.RowClassScore]
	}
	return boxes, scores, nil
}

func box(cx, cy, score float32) row {
	return row{cx - 0.05, cy - 0.05, cx + 0.05, cy + 0.05, 1, score}
}

type statusMap map[string]*service.ServiceStatus

func (m statusMap) GetAllStatuses() map[string]*service.ServiceStatus { return m }

type apiFixture struct {
	server *Server
	mgr    *runs.Manager
	src    *video.MemorySource
}

// setupAPIServer wires a run manager over n blank 64x64 frames at 10 fps.
func setupAPIServer(t *testing.T, n int) *apiFixture {
	t.Helper()

	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = image.NewRGBA(image.Rect(0, 0, 64, 64))
	}
	src := video.NewMemorySource(frames, 10)
	model := &stubModel{rows: []row{box(0.5, 0.5, 0.9), box(0.2, 0.2, 0.8)}}

	pcfg := pipeline.DefaultConfig()
	pcfg.SeekTimeout = time.Second
	pcfg.SettleDelay = 0

	log := logger.NewNopLogger()
	mgr := runs.NewManager(runs.Config{Pipeline: pcfg, VideoPath: "memory://test"}, model, src, nil, log)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Stop(ctx)
	})

	server := NewServer(&config.WebConfig{Enabled: true, Host: "127.0.0.1"}, log)
	gin.SetMode(gin.TestMode)
	server.SetRunService(mgr)
	server.setupRoutes()

	return &apiFixture{server: server, mgr: mgr, src: src}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	w := httptest.NewRecorder()
	f.server.router.ServeHTTP(w, req)
	return w
}

// completedRun starts a batch run over the whole video and waits for it.
func (f *apiFixture) completedRun(t *testing.T) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var st runs.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.NotEmpty(t, st.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.mgr.Wait(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, state.RunCompleted, done.Status)
	return st.ID
}

func TestHandleHealth(t *testing.T) {
	f := setupAPIServer(t, 3)

	w := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "web-server", resp["service"])

	w = f.do(t, http.MethodGet, "/api/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleHealth_WithChecks(t *testing.T) {
	f := setupAPIServer(t, 3)

	hm := health.NewManager(logger.NewNopLogger(), nil)
	hm.RegisterChecker(health.NewStorageChecker(t.TempDir()))
	f.server.SetHealthReporter(hm)

	w := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Contains(t, report.Checks, "storage")

	hm.RegisterChecker(health.NewFileChecker("model", filepath.Join(t.TempDir(), "missing.onnx")))

	w = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/api/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var ready struct {
		Ready bool `json:"ready"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ready))
	assert.False(t, ready.Ready)
}

func TestHandleStatus(t *testing.T) {
	f := setupAPIServer(t, 6)

	failed := service.NewServiceStatus("state")
	failed.SetError(assert.AnError)
	f.server.SetStatusProvider(statusMap{
		"runs":  f.mgr.GetStatus(),
		"state": failed,
	})
	f.server.SetVersion("1.2.3")

	w := f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status   string                   `json:"status"`
		Version  string                   `json:"version"`
		Services []service.StatusSnapshot `json:"services"`
		Video    video.Info               `json:"video"`
		Labels   []string                 `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	require.Len(t, resp.Services, 2)
	assert.Equal(t, "runs", resp.Services[0].Name)
	assert.Equal(t, service.StatusRunning, resp.Services[0].Status)
	assert.Equal(t, "state", resp.Services[1].Name)
	assert.NotEmpty(t, resp.Services[1].Error)
	assert.Equal(t, 10.0, resp.Video.FPS)
	assert.Equal(t, timeline.DefaultLabels, resp.Labels)
}

func TestHandleMetrics(t *testing.T) {
	f := setupAPIServer(t, 6)

	w := f.do(t, http.MethodGet, "/api/metrics", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.server.SetMetricsProvider(telemetry.NewCollector(&config.TelemetryConfig{Enabled: false}, logger.NewNopLogger(), f.mgr, nil))
	f.completedRun(t)

	w = f.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var m telemetry.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.Application.Runs)
	assert.Equal(t, 0, m.Application.ActiveRuns)
	assert.Equal(t, 5, m.Application.FramesProcessed)
	assert.Equal(t, 10, m.Application.Detections)
	assert.Equal(t, 1, m.Application.RunsByStatus[state.RunCompleted])
	assert.Positive(t, m.System.Goroutines)
}

func TestHandleRuns_NotAvailable(t *testing.T) {
	server := NewServer(&config.WebConfig{Enabled: true}, logger.NewNopLogger())
	server.setupRoutes()

	for _, path := range []string{"/api/runs", "/api/runs/abc", "/api/runs/abc/scene?t=0"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestHandleStartRun_Completes(t *testing.T) {
	f := setupAPIServer(t, 6)
	id := f.completedRun(t)

	w := f.do(t, http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var st runs.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, id, st.ID)
	assert.Equal(t, pipeline.ModeBatch, st.Mode)
	assert.Equal(t, state.RunCompleted, st.Status)
	assert.Equal(t, 5, st.Stats.Frames)
	assert.Equal(t, 10, st.Stats.Detections)
	assert.InDelta(t, 1.0, st.Stats.Progress, 1e-9)
}

func TestHandleStartRun_InvalidRequest(t *testing.T) {
	f := setupAPIServer(t, 3)

	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown mode", gin.H{"mode": "turbo"}},
		{"negative frame skip", gin.H{"frame_skip": -1}},
		{"negative start", gin.H{"start": -0.5}},
		{"track without run", gin.H{"track": gin.H{"time": 0.1, "detection_id": 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleStartRun_TrackSelection(t *testing.T) {
	f := setupAPIServer(t, 6)
	detectID := f.completedRun(t)

	w := f.do(t, http.MethodPost, "/api/runs", gin.H{
		"track": gin.H{"run_id": detectID, "time": 0.1, "detection_id": 7},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/api/runs", gin.H{
		"track": gin.H{"run_id": "missing", "time": 0.1, "detection_id": 0},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/runs", gin.H{
		"mode":  "realtime",
		"start": 0.1,
		"track": gin.H{"run_id": detectID, "time": 0.1, "detection_id": 0},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var st runs.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, pipeline.ModeRealtime, st.Mode)
	require.NotNil(t, st.Seed)
	assert.InDelta(t, 32, st.Seed.X, 1e-3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.mgr.Wait(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, done.Status)
	assert.NotEmpty(t, done.TrackID)
}

func TestHandleStartRun_Conflict(t *testing.T) {
	f := setupAPIServer(t, 40)
	f.src.SeekDelay = 50 * time.Millisecond

	w := f.do(t, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var first runs.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

	w = f.do(t, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodDelete, "/api/runs/"+first.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/runs/"+first.ID+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := f.mgr.Wait(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, state.RunStopped, done.Status)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	f := setupAPIServer(t, 3)

	for _, path := range []string{
		"/api/runs/missing",
		"/api/runs/missing/frame?t=0",
		"/api/runs/missing/scene?t=0",
		"/api/runs/missing/frames/0/detections",
	} {
		w := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	w := f.do(t, http.MethodPost, "/api/runs/missing/stop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListRuns(t *testing.T) {
	f := setupAPIServer(t, 3)

	w := f.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var empty struct {
		Runs  []runs.Status `json:"runs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Equal(t, 0, empty.Count)

	first := f.completedRun(t)
	second := f.completedRun(t)

	w = f.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Runs  []runs.Status `json:"runs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.ElementsMatch(t, []string{first, second}, []string{resp.Runs[0].ID, resp.Runs[1].ID})
}

func TestHandleDeleteRun(t *testing.T) {
	f := setupAPIServer(t, 3)
	id := f.completedRun(t)

	w := f.do(t, http.MethodDelete, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/api/runs/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetFrame(t *testing.T) {
	f := setupAPIServer(t, 6)
	id := f.completedRun(t)

	type frameResp struct {
		RunID   string               `json:"run_id"`
		Frame   timeline.FrameResult `json:"frame"`
		Markers []timeline.Marker    `json:"markers"`
	}

	w := f.do(t, http.MethodGet, "/api/runs/"+id+"/frame?t=0.15", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp frameResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.RunID)
	assert.Equal(t, 1, resp.Frame.Index)
	assert.InDelta(t, 0.1, resp.Frame.Time, 1e-9)
	assert.Len(t, resp.Frame.Detections, 2)
	require.Len(t, resp.Markers, 2)
	assert.Nil(t, resp.Markers[0].Box)

	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/frame?t=0.16&mode=nearest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = frameResp{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Frame.Index)

	// Past the end the last frame stays shown.
	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/frame?t=9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = frameResp{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Frame.Index)
}

func TestHandleGetFrame_InvalidQuery(t *testing.T) {
	f := setupAPIServer(t, 3)
	id := f.completedRun(t)

	for _, query := range []string{"", "?t=abc", "?t=-1", "?t=0.1&mode=bogus"} {
		w := f.do(t, http.MethodGet, "/api/runs/"+id+"/frame"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestHandleGetScene(t *testing.T) {
	f := setupAPIServer(t, 6)
	id := f.completedRun(t)

	w := f.do(t, http.MethodGet, "/api/runs/"+id+"/scene?t=0.45&boxes=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var scene timeline.Scene
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scene))
	assert.Equal(t, 4, scene.FrameIndex)
	assert.Len(t, scene.Trail, 10)
	require.Len(t, scene.Markers, 2)
	assert.NotNil(t, scene.Markers[0].Box)
	assert.Equal(t, "object", scene.Markers[0].Label)

	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/scene?t=0.15", nil)
	require.Equal(t, http.StatusOK, w.Code)
	scene = timeline.Scene{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scene))
	assert.Len(t, scene.Trail, 4)
	require.Len(t, scene.Markers, 2)
	assert.Nil(t, scene.Markers[0].Box)

	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/scene?t=0.1&boxes=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetDetections(t *testing.T) {
	f := setupAPIServer(t, 6)
	id := f.completedRun(t)

	w := f.do(t, http.MethodGet, "/api/runs/"+id+"/frames/1/detections", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Index      int               `json:"index"`
		Time       float64           `json:"time"`
		Detections []timeline.Marker `json:"detections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Index)
	assert.InDelta(t, 0.1, resp.Time, 1e-9)
	require.Len(t, resp.Detections, 2)
	assert.Equal(t, 0, resp.Detections[0].ID)
	assert.Equal(t, 1, resp.Detections[1].ID)
	assert.InDelta(t, 32, resp.Detections[0].X, 1e-3)
	assert.Equal(t, "object 90.0%", resp.Detections[0].Caption)
	assert.NotNil(t, resp.Detections[0].Box)

	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/frames/9/detections", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/runs/"+id+"/frames/abc/detections", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
