package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"LiveDet/logger"
	"LiveDet/session"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics 汇总帧循环与进程的 prometheus 指标，同时实现 session.Observer
type Metrics struct {
	Registry *prometheus.Registry

	Frames       prometheus.Counter
	FrameErrors  *prometheus.CounterVec
	Detections   prometheus.Counter
	FrameSeconds prometheus.Histogram
	FPS          prometheus.Gauge
	LoopState    prometheus.Gauge
	HTTPTotal    prometheus.Counter
	GRPCTotal    prometheus.Counter

	memUsage prometheus.Gauge
	cpuUsage prometheus.Gauge

	meter *FPSMeter
}

func New(c clock.Clock) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livedet_frames_total",
			Help: "Frames rendered by the loop",
		}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livedet_frame_errors_total",
			Help: "Frames dropped, by failing stage",
		}, []string{"stage"}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livedet_detections_total",
			Help: "Detections drawn over all frames",
		}),
		FrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "livedet_frame_seconds",
			Help:    "Time spent on read, infer, decode and render of one frame",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livedet_fps",
			Help: "Frames per second over the last second",
		}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livedet_loop_state",
			Help: "Session state: 0 idle, 1 camera requested, 2 streaming, 3 detecting, 4 stopped, 5 error",
		}),
		HTTPTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of control API requests processed",
		}),
		GRPCTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC requests processed",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "memory_usage_Megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
		meter: NewFPSMeter(time.Second, c),
	}
	m.Registry.MustRegister(m.Frames, m.FrameErrors, m.Detections, m.FrameSeconds,
		m.FPS, m.LoopState, m.HTTPTotal, m.GRPCTotal, m.memUsage, m.cpuUsage)
	return m
}

func (m *Metrics) OnState(s session.State) {
	m.LoopState.Set(float64(s))
	if !s.Active() {
		m.FPS.Set(0)
	}
}

func (m *Metrics) OnFrame(r session.FrameResult) {
	m.FrameSeconds.Observe(r.Duration.Seconds())
	if r.Err != nil {
		m.FrameErrors.WithLabelValues(r.Stage).Inc()
		return
	}
	m.Frames.Inc()
	m.Detections.Add(float64(len(r.Detections)))
	m.FPS.Set(m.meter.Tick())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) CheckProcessInfo(p *process.Process) {
	MemInfo, err := p.MemoryInfo()
	if err == nil {
		m.memUsage.Set(float64(MemInfo.RSS / 1024 / 1024)) // RSS 换算为 MB
	}
	CPUPercent, err := p.CPUPercent()
	if err == nil {
		m.cpuUsage.Set(math.Round(CPUPercent*100) / 100)
	}
}

// StartMon 在 port 上提供 /metrics，并定时采样进程资源，直到 ctx 结束
func StartMon(ctx context.Context, port int, m *Metrics) {
	pid, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Error("process lookup failed", zap.Error(err))
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server ListenAndServe error", zap.Error(err))
		}
	}()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			m.CheckProcessInfo(pid)
		}
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		logger.Log().Error("metrics server Shutdown error", zap.Error(err))
	}
}

// FPSMeter 统计滑动窗口内的帧数
type FPSMeter struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	stamps []time.Time
}

func NewFPSMeter(window time.Duration, c clock.Clock) *FPSMeter {
	if c == nil {
		c = clock.New()
	}
	return &FPSMeter{clock: c, window: window}
}

// Tick 记录一帧并返回当前帧率
func (f *FPSMeter) Tick() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	f.stamps = append(f.stamps, now)
	cut := 0
	for cut < len(f.stamps) && now.Sub(f.stamps[cut]) >= f.window {
		cut++
	}
	f.stamps = f.stamps[cut:]
	return float64(len(f.stamps)) / f.window.Seconds()
}
