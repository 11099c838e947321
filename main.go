package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "LiveDet/Adhoc"
	"LiveDet/camera"
	"LiveDet/canvas"
	"LiveDet/config"
	"LiveDet/engine"
	backend "LiveDet/gRPC"
	iface "LiveDet/interface"
	"LiveDet/logger"
	"LiveDet/monitor"
	"LiveDet/session"
	"LiveDet/web"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 是 Google DNS，这里只是为了建立路由路径得到本地出口 IP
	// 实际并没有真正的物理连接，所以不需要联网也可以（只要有路由表）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func newCamera(cfg config.CameraConfig) iface.Camera {
	if cfg.Source == "file" {
		return &camera.File{Path: cfg.File}
	}
	return &camera.Device{Indexes: cfg.Devices}
}

func main() {
	path := "config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Mode, cfg.Log.File); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if cfg.Log.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.Log()
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println(" HTTP    Port:", cfg.HTTPPort)
	fmt.Println(" gRPC    Port:", cfg.RPCPort)
	fmt.Println(" Metrics Port:", cfg.MetricsPort)
	fmt.Println(" Model       :", cfg.Model.ManifestURL)
	fmt.Println(strings.Repeat("#", 64))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	model := engine.NewHandle(&engine.ManifestLoader{
		URL:      cfg.Model.ManifestURL,
		CacheDir: cfg.Model.CacheDir,
		UseGPU:   cfg.Model.UseGPU,
		Timeout:  time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
	})
	loaded := model.LoadAsync(ctx)
	go func() {
		if err := <-loaded; err != nil {
			log.Warn("detection disabled until the model is reloaded", zap.Error(err))
		}
	}()

	metrics := monitor.New(nil)
	hs, health := backend.NewHealth()
	hub := web.NewHub()

	cadence, err := session.NewCadence(cfg.Loop.Cadence, cfg.Loop.RefreshHz,
		time.Duration(cfg.Loop.IntervalMs)*time.Millisecond, nil)
	if err != nil {
		logger.Fatal("invalid cadence", zap.Error(err))
	}
	sess := session.New(session.Options{
		Model:       model,
		Camera:      newCamera(cfg.Camera),
		Surface:     canvas.New(0, 0),
		Cadence:     cadence,
		Constraints: cfg.Camera.Constraints,
		Threshold:   cfg.Threshold,
		Gallery:     session.NewGallery(cfg.GalleryCapacity),
		Observers:   []session.Observer{metrics, health, hub},
	})
	if err := sess.Start(ctx); err != nil {
		log.Warn("camera not started", zap.String("notice", sess.Notice()), zap.Error(err))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(ctx, cfg.MetricsPort, metrics)
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
	if err != nil {
		logger.Fatal("gRPC listen failed", zap.Int("port", cfg.RPCPort), zap.Error(err))
	}
	grpcServer := backend.StartGRPCServer(lis, hs, metrics.GRPCTotal)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: web.NewRouter(sess, model, hub, metrics.HTTPTotal),
	}
	go func() {
		log.Info("control API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control API stopped", zap.Error(err))
			stop()
		}
	}()

	if cfg.Registry.Enabled {
		ip := cfg.AdvertiseAddress
		if ip == "" {
			if ip, err = GetOutboundIP(); err != nil {
				log.Warn("failed to get outbound IP", zap.Error(err))
			}
		}
		regCfg := adhoc.RegServerConfig{Interval: time.Duration(cfg.Registry.IntervalSeconds) * time.Second}
		regCfg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, &wg, regCfg, ip, cfg.HTTPPort, sess.Status)
	} else {
		log.Info("registry disabled, skipping registration")
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := sess.Close(); err != nil {
		log.Warn("session close", zap.Error(err))
	}
	hub.Close()
	shutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdown); err != nil {
		log.Warn("control API shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	wg.Wait()
	if err := model.Close(); err != nil {
		log.Warn("model close", zap.Error(err))
	}
	log.Info("Safely exited")
}
