package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/api/dto"
	"github.com/cuongbtq/detect-pipeline/internal/api/handler"
	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/queue"
	"github.com/cuongbtq/detect-pipeline/internal/results"
	"github.com/cuongbtq/detect-pipeline/internal/storage"
	"github.com/cuongbtq/detect-pipeline/internal/submitter"
	"github.com/cuongbtq/detect-pipeline/shared/logger"
)

const botToken = "123:abc"

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingUpdates struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	err     error
}

func (r *recordingUpdates) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.err
}

type recordingNotifier struct {
	notified []string
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, summary *domain.PredictionSummary) error {
	n.notified = append(n.notified, summary.JobID)
	return n.err
}

type failingStore struct {
	storage.ObjectStore
}

func (failingStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return &domain.StorageError{Key: key, Err: errors.New("bucket unreachable")}
}

type testServer struct {
	engine   *gin.Engine
	store    *storage.MemoryStore
	queue    *queue.MemoryQueue
	results  *results.MemoryStore
	updates  *recordingUpdates
	notifier *recordingNotifier
}

func newTestServer(t *testing.T, mutate func(*handler.Dependencies)) *testServer {
	t.Helper()

	ts := &testServer{
		store:    storage.NewMemoryStore(),
		queue:    queue.NewMemoryQueue(queue.MemoryConfig{VisibilityTimeout: time.Minute}),
		results:  results.NewMemoryStore(),
		updates:  &recordingUpdates{},
		notifier: &recordingNotifier{},
	}
	deps := &handler.Dependencies{
		Logger: logger.NewDiscard(),
		Submitter: submitter.New(&submitter.Config{
			Logger: logger.NewDiscard(),
			Store:  ts.store,
			Queue:  ts.queue,
		}),
		Results:        ts.results,
		Updates:        ts.updates,
		ResultNotifier: ts.notifier,
		BotToken:       botToken,
		MaxUploadBytes: 1 << 20,
	}
	if mutate != nil {
		mutate(deps)
	}

	ts.engine = SetupRouter(deps, Options{ServiceName: "api-service", MetricsHandler: promhttp.Handler()})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, image []byte, requesterRef string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if image != nil {
		part, err := w.CreateFormFile("image", "cat.jpg")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	if requesterRef != "" {
		require.NoError(t, w.WriteField("requester_ref", requesterRef))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func summaryFor(jobID, requester string, completedAt time.Time) *domain.PredictionSummary {
	return &domain.PredictionSummary{
		JobID:        jobID,
		InputRef:     "photos/" + jobID + ".jpg",
		OutputRef:    "predicted_images/" + jobID + "/" + jobID + ".jpg",
		RequesterRef: requester,
		Detections:   domain.Detections{{ClassLabel: "person", CenterX: 0.5, CenterY: 0.5, Width: 0.2, Height: 0.6}},
		CompletedAt:  completedAt,
	}
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		check      func(ctx context.Context) error
		wantStatus int
		wantBody   string
	}{
		{name: "no check", wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "check passes", check: func(ctx context.Context) error { return nil }, wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "check fails", check: func(ctx context.Context) error { return errors.New("db down") }, wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(d *handler.Dependencies) { d.HealthCheck = tt.check })

			rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
			assert.Equal(t, "api-service", body["service"])
		})
	}
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := ts.do(req)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(uploadRequest(t, []byte("jpeg bytes"), "42"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp dto.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, err := ulid.ParseStrict(resp.JobID)
	require.NoError(t, err)

	data, ok := ts.store.Get("photos/" + resp.JobID + ".jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg bytes"), data)

	depth, err := ts.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateJob_BadRequests(t *testing.T) {
	tests := []struct {
		name         string
		image        []byte
		requesterRef string
	}{
		{name: "missing image", requesterRef: "42"},
		{name: "missing requester", image: []byte("jpeg bytes")},
		{name: "empty image", image: []byte{}, requesterRef: "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)

			rec := ts.do(uploadRequest(t, tt.image, tt.requesterRef))
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			depth, err := ts.queue.Depth(context.Background())
			require.NoError(t, err)
			assert.Zero(t, depth)
		})
	}
}

func TestCreateJob_TooLarge(t *testing.T) {
	ts := newTestServer(t, func(d *handler.Dependencies) { d.MaxUploadBytes = 64 })

	rec := ts.do(uploadRequest(t, bytes.Repeat([]byte("x"), 4096), "42"))
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	assert.Empty(t, ts.store.Keys())
}

func TestCreateJob_StoreFailure(t *testing.T) {
	var q *queue.MemoryQueue
	ts := newTestServer(t, func(d *handler.Dependencies) {
		q = queue.NewMemoryQueue(queue.MemoryConfig{VisibilityTimeout: time.Minute})
		d.Submitter = submitter.New(&submitter.Config{
			Logger: logger.NewDiscard(),
			Store:  failingStore{},
			Queue:  q,
		})
	})

	rec := ts.do(uploadRequest(t, []byte("jpeg bytes"), "42"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestGetPrediction(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ulid.Make().String()
	completedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ts.results.Put(context.Background(), summaryFor(jobID, "42", completedAt)))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.PredictionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, "2024-01-01T12:00:00Z", resp.CompletedAt)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "person", resp.Detections[0].Class)
	assert.NotEmpty(t, resp.OutputRef)
}

func TestGetPrediction_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/not-a-ulid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions/"+ulid.Make().String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPredictions(t *testing.T) {
	ts := newTestServer(t, nil)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		id := ulid.Make().String()
		ids = append(ids, id)
		require.NoError(t, ts.results.Put(context.Background(), summaryFor(id, "42", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, ts.results.Put(context.Background(), summaryFor(ulid.Make().String(), "7", base)))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions?requester_ref=42&page_size=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page dto.ListPredictionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Predictions, 2)
	assert.Equal(t, ids[2], page.Predictions[0].JobID)
	assert.Equal(t, ids[1], page.Predictions[1].JobID)
	require.NotEmpty(t, page.NextCursor)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions?requester_ref=42&page_size=2&cursor="+page.NextCursor, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	page = dto.ListPredictionsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Predictions, 1)
	assert.Equal(t, ids[0], page.Predictions[0].JobID)
	assert.Empty(t, page.NextCursor)
}

func TestListPredictions_InvalidCursor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions?cursor=!!!!", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/predictions?cursor=bm9waXBl", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook(t *testing.T) {
	update := `{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hi"}}`

	tests := []struct {
		name        string
		path        string
		body        string
		handlerErr  error
		wantStatus  int
		wantUpdates int
	}{
		{name: "valid token", path: "/telegram/" + botToken, body: update, wantStatus: http.StatusOK, wantUpdates: 1},
		{name: "wrong token", path: "/telegram/nope", body: update, wantStatus: http.StatusNotFound},
		{name: "bad body", path: "/telegram/" + botToken, body: "{", wantStatus: http.StatusBadRequest},
		{name: "handler failure is acknowledged", path: "/telegram/" + botToken, body: update, handlerErr: errors.New("boom"), wantStatus: http.StatusOK, wantUpdates: 1},
		{name: "load test", path: "/loadTest", body: update, wantStatus: http.StatusOK, wantUpdates: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.updates.err = tt.handlerErr

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := ts.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			require.Len(t, ts.updates.updates, tt.wantUpdates)
			if tt.wantUpdates > 0 {
				assert.Equal(t, int64(42), ts.updates.updates[0].Message.Chat.ID)
				assert.Equal(t, "hi", ts.updates.updates[0].Message.Text)
			}
		})
	}
}

func TestResults(t *testing.T) {
	ts := newTestServer(t, nil)
	jobID := ulid.Make().String()
	require.NoError(t, ts.results.Put(context.Background(), summaryFor(jobID, "42", time.Now())))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/results?predictionId="+jobID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{jobID}, ts.notifier.notified)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/results", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/results?predictionId=unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.notifier.err = domain.NewTransientError(errors.New("telegram down"))
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/results?predictionId="+jobID, nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBotRoutesDisabled(t *testing.T) {
	ts := newTestServer(t, func(d *handler.Dependencies) {
		d.Updates = nil
	})

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/telegram/"+botToken, strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/results?predictionId=x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
