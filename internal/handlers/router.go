package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), enableCORS(), requestSizeLimiter(h.opts.MaxRequestBodySize))

	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)
	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)

	r.GET("/session", h.GetSession)
	r.PUT("/session/image", h.SelectImage)
	r.POST("/session/predict", h.PredictSession)

	return r
}

func enableCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
