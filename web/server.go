package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"LiveDet/engine"
	iface "LiveDet/interface"
	"LiveDet/logger"
	"LiveDet/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Session is the part of session.Session the control API drives.
type Session interface {
	Status() session.Status
	Play(ctx context.Context) error
	Pause()
	SwitchCamera(ctx context.Context) error
	Screenshot() (session.Screenshot, error)
	Gallery() *session.Gallery
	Frame() ([]byte, error)
}

// Model is the part of engine.Handle the control API reports and reloads.
type Model interface {
	Load(ctx context.Context) error
	State() int
	Err() error
	Describe() string
}

type modelStatus struct {
	State  string `json:"state"`
	Source string `json:"source"`
	Error  string `json:"error,omitempty"`
}

func describeModel(m Model) modelStatus {
	st := modelStatus{State: engine.StateName(m.State()), Source: m.Describe()}
	if err := m.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// lifecycleError maps a camera failure to 503 with the user-facing notice.
func lifecycleError(c *gin.Context, s Session, err error) {
	var cae *iface.CameraAccessError
	if errors.As(err, &cae) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "notice": s.Status().Notice})
		return
	}
	if errors.Is(err, session.ErrClosed) {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// NewRouter builds the control API. requests, when set, counts every request.
func NewRouter(s Session, m Model, hub *Hub, requests prometheus.Counter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())
	if requests != nil {
		r.Use(func(c *gin.Context) {
			requests.Inc()
			c.Next()
		})
	}

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"session": s.Status(),
			"model":   describeModel(m),
		}})
	})
	r.POST("/api/play", func(c *gin.Context) {
		if err := s.Play(c.Request.Context()); err != nil {
			lifecycleError(c, s, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.Status()})
	})
	r.POST("/api/pause", func(c *gin.Context) {
		s.Pause()
		c.JSON(http.StatusOK, gin.H{"data": s.Status()})
	})
	r.POST("/api/camera/switch", func(c *gin.Context) {
		if err := s.SwitchCamera(c.Request.Context()); err != nil {
			lifecycleError(c, s, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": s.Status()})
	})
	r.POST("/api/screenshot", func(c *gin.Context) {
		shot, err := s.Screenshot()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": shot})
	})
	r.GET("/api/screenshots", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.Gallery().List()})
	})
	r.GET("/api/screenshots/:id", func(c *gin.Context) {
		shot, ok := s.Gallery().Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screenshot not found"})
			return
		}
		c.Data(http.StatusOK, "image/png", shot.PNG)
	})
	r.GET("/api/frame.png", func(c *gin.Context) {
		b, err := s.Frame()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", b)
	})
	r.POST("/api/model/reload", func(c *gin.Context) {
		if err := m.Load(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "data": describeModel(m)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": describeModel(m)})
	})
	r.GET("/ws/detections", func(c *gin.Context) {
		hub.ServeHTTP(c.Writer, c.Request)
	})
	return r
}
