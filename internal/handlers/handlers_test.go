package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/model/modeltest"
	"github.com/Brownie44l1/lesion-api/internal/observer"
	"github.com/Brownie44l1/lesion-api/internal/pipeline"
	"github.com/Brownie44l1/lesion-api/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	router  *gin.Engine
	opener  *modeltest.Opener
	metrics *observer.MetricsObserver
}

func newTestServer(t *testing.T, opener *modeltest.Opener) *testServer {
	t.Helper()
	loader := model.NewLoader(opener.Open, true)
	p := pipeline.New(loader)

	pub := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	pub.Subscribe(metrics)

	sess := session.New(p, pub)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})

	h := NewHandler(p, sess, loader, metrics, Options{RequestTimeout: 5 * time.Second})
	return &testServer{router: NewRouter(h), opener: opener, metrics: metrics}
}

func brightnessOpener() *modeltest.Opener {
	return &modeltest.Opener{Engine: &modeltest.Engine{
		Meta:    modeltest.LesionMetadata(),
		RunFunc: modeltest.BrightnessRun,
	}}
}

func pngOf(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 224, 224))
	for y := 0; y < 224; y++ {
		for x := 0; x < 224; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, method, path, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, "lesion.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

var lightSkin = color.RGBA{225, 190, 175, 255}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, brightnessOpener())

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "loaded", body["model"])
	assert.Equal(t, []interface{}{"benign", "malignant"}, body["classes"])
}

func TestHealth_ModelUnavailable(t *testing.T) {
	srv := newTestServer(t, &modeltest.Opener{Err: errors.New("missing")})

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]interface{}](t, rec)["model"])
}

func TestPredictFromImage(t *testing.T) {
	srv := newTestServer(t, brightnessOpener())

	rec := srv.do(uploadRequest(t, http.MethodPost, "/predict/image", "image", pngOf(t, lightSkin)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decode[model.Classification](t, rec)
	assert.Equal(t, "benign", result.Label)
	assert.Len(t, result.Predictions, 2)
}

func TestPredictFromImage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opener   *modeltest.Opener
		req      func(t *testing.T) *http.Request
		wantCode int
		wantType string
	}{
		{
			name:   "missing field",
			opener: brightnessOpener(),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, http.MethodPost, "/predict/image", "file", pngOf(t, lightSkin))
			},
			wantCode: http.StatusBadRequest,
			wantType: "validation",
		},
		{
			name:   "corrupt image",
			opener: brightnessOpener(),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, http.MethodPost, "/predict/image", "image", []byte("not a png"))
			},
			wantCode: http.StatusBadRequest,
			wantType: "decode",
		},
		{
			name:   "model missing",
			opener: &modeltest.Opener{Err: errors.New("no such file")},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, http.MethodPost, "/predict/image", "image", pngOf(t, lightSkin))
			},
			wantCode: http.StatusServiceUnavailable,
			wantType: "model_load",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.opener)
			rec := srv.do(tt.req(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantType, decode[ErrorResponse](t, rec).Type)
		})
	}
}

func TestPredictRawTensor(t *testing.T) {
	srv := newTestServer(t, &modeltest.Opener{Engine: &modeltest.Engine{
		Meta:   modeltest.LesionMetadata(),
		Scores: []float32{0.2, 0.8},
	}})

	payload, err := json.Marshal(model.PredictionRequest{Image: make([]float32, 3*224*224)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := srv.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "malignant", decode[model.Classification](t, rec).Label)

	short := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{"image":[0.1,0.2]}`)))
	short.Header.Set("Content-Type", "application/json")
	rec = srv.do(short)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Message, "expected 150528 values, got 2")

	bad := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte(`{`)))
	bad.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, srv.do(bad).Code)
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t, brightnessOpener())

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	initial := decode[SessionResponse](t, rec)
	assert.Equal(t, session.NoImage, initial.Image)
	assert.Equal(t, "No Image Selected", initial.Placeholder)
	assert.False(t, initial.CanPredict)

	rec = srv.do(httptest.NewRequest(http.MethodPost, "/session/predict", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(uploadRequest(t, http.MethodPut, "/session/image", "image", pngOf(t, lightSkin)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	selected := decode[SessionResponse](t, rec)
	assert.Equal(t, session.ImageSelected, selected.Image)
	assert.Equal(t, "lesion.png", selected.ImageName)
	assert.True(t, selected.CanPredict)

	rec = srv.do(httptest.NewRequest(http.MethodPost, "/session/predict", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	classified := decode[SessionResponse](t, rec)
	assert.Equal(t, session.Classified, classified.Classification)
	assert.Equal(t, "benign", classified.Label)
	assert.Equal(t, "Classification: benign", classified.Caption)

	rec = srv.do(uploadRequest(t, http.MethodPut, "/session/image", "image", []byte("corrupt")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	after := decode[SessionResponse](t, rec)
	assert.Equal(t, "benign", after.Label)
	assert.Equal(t, "decode", after.LastErrorType)

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[observer.Metrics](t, rec)
	assert.Equal(t, int64(1), metrics.ClassificationsComplete)
	assert.Equal(t, int64(1), metrics.ImagesRejected)
}

func TestSessionPredict_ModelMissingKeepsState(t *testing.T) {
	srv := newTestServer(t, &modeltest.Opener{Err: errors.New("no such file")})

	rec := srv.do(uploadRequest(t, http.MethodPut, "/session/image", "image", pngOf(t, lightSkin)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodPost, "/session/predict", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[SessionResponse](t, rec)
	assert.Empty(t, st.Label)
	assert.Equal(t, session.NotClassified, st.Classification)
	assert.Equal(t, "model_load", st.LastErrorType)
}

func TestSelectImage_CanceledRequestLeavesSessionEmpty(t *testing.T) {
	srv := newTestServer(t, brightnessOpener())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := uploadRequest(t, http.MethodPut, "/session/image", "image", pngOf(t, lightSkin)).WithContext(ctx)
	require.NotPanics(t, func() { srv.do(req) })

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.NoImage, decode[SessionResponse](t, rec).Image)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, brightnessOpener())

	rec := srv.do(httptest.NewRequest(http.MethodOptions, "/predict/image", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
