package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/lesion-api/internal/acquisition"
	apperrors "github.com/Brownie44l1/lesion-api/internal/errors"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/observer"
	"github.com/Brownie44l1/lesion-api/internal/preprocess"
	"github.com/Brownie44l1/lesion-api/internal/session"
)

type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*model.Classification, error)
	ClassifyTensor(ctx context.Context, input []float32) (*model.Classification, error)
}

type Session interface {
	State(ctx context.Context) (session.State, error)
	Select(ctx context.Context, src acquisition.Source) (session.State, error)
	PredictAndWait(ctx context.Context) (session.State, error)
}

type MetadataSource interface {
	Metadata() (model.Metadata, error)
}

type MetricsSource interface {
	GetMetrics() observer.Metrics
}

type Options struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Handler struct {
	classifier Classifier
	session    Session
	models     MetadataSource
	metrics    MetricsSource
	opts       Options
}

func NewHandler(classifier Classifier, sess Session, models MetadataSource, metrics MetricsSource, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = 10 << 20
	}
	return &Handler{
		classifier: classifier,
		session:    sess,
		models:     models,
		metrics:    metrics,
		opts:       opts,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

type SessionResponse struct {
	session.State
	CanPredict  bool   `json:"can_predict"`
	Placeholder string `json:"placeholder,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

func newSessionResponse(st session.State) SessionResponse {
	return SessionResponse{
		State:       st,
		CanPredict:  st.CanPredict(),
		Placeholder: st.Placeholder(),
		Caption:     st.Caption(),
	}
}

func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "healthy"}
	if meta, err := h.models.Metadata(); err != nil {
		body["model"] = "unavailable"
	} else {
		body["model"] = "loaded"
		body["classes"] = meta.Classes
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetMetrics())
}

// Predict classifies a raw, already preprocessed input tensor.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewValidationError("invalid JSON", err))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	result, err := h.classifier.ClassifyTensor(ctx, req.Image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PredictFromImage decodes a multipart "image" upload and classifies it
// without touching the session.
func (h *Handler) PredictFromImage(c *gin.Context) {
	img, name, ok := h.readUpload(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	started := time.Now()
	result, err := h.classifier.Classify(ctx, img)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"filename":           name,
		"label":              result.Label,
		"confidence":         result.Confidence,
		"processing_time_ms": time.Since(started).Milliseconds(),
	}).Info("Image classified")
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSession(c *gin.Context) {
	st, err := h.session.State(c.Request.Context())
	if err != nil {
		respondError(c, apperrors.NewInternalError("session unavailable", err))
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(st))
}

// SelectImage makes the uploaded image the session's current image.
func (h *Handler) SelectImage(c *gin.Context) {
	data, name, ok := readUploadBytes(c)
	if !ok {
		return
	}

	st, err := h.session.Select(c.Request.Context(), acquisition.ReaderSource{Name: name, Reader: bytes.NewReader(data)})
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			respondError(c, apperrors.NewInternalError("session unavailable", err))
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(st))
}

// PredictSession classifies the session's current image and returns the
// state after the outcome is applied. Classification failures are reported
// in the state, not as an HTTP error, since they leave the label intact.
func (h *Handler) PredictSession(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RequestTimeout)
	defer cancel()

	st, err := h.session.PredictAndWait(ctx)
	switch {
	case errors.Is(err, session.ErrNoImage), errors.Is(err, session.ErrBusy):
		respondError(c, apperrors.NewConflictError(err.Error(), err))
		return
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   http.StatusText(http.StatusGatewayTimeout),
			Message: "classification still running",
		})
		return
	case err != nil:
		respondError(c, apperrors.NewInternalError("session unavailable", err))
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(st))
}

func (h *Handler) readUpload(c *gin.Context) (image.Image, string, bool) {
	data, name, ok := readUploadBytes(c)
	if !ok {
		return nil, "", false
	}
	img, err := preprocess.DecodeBytes(data)
	if err != nil {
		respondError(c, err)
		return nil, "", false
	}
	return img, name, true
}

// readUploadBytes buffers the multipart "image" field so nothing reads the
// request after the handler returns.
func readUploadBytes(c *gin.Context) ([]byte, string, bool) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		respondError(c, apperrors.NewValidationError("no image file provided, use 'image' as the form field name", err))
		return nil, "", false
	}
	defer file.Close()

	logger.WithFields(logrus.Fields{
		"filename": header.Filename,
		"size":     header.Size,
	}).Debug("Received file")

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, apperrors.NewValidationError("failed to read upload", err))
		return nil, "", false
	}
	return data, header.Filename, true
}

func respondError(c *gin.Context, err error) {
	code := apperrors.GetStatusCode(err)
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"error_type":  apperrors.TypeOf(err),
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	var appErr *apperrors.AppError
	msg := err.Error()
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Type:    string(apperrors.TypeOf(err)),
		Message: msg,
	})
}
