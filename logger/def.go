package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu sync.RWMutex
	log   *zap.Logger
	sugar *zap.SugaredLogger
)

// FileOptions 配置滚动日志文件（与 stdout 同时输出），Path 为空时不写文件
type FileOptions struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// InitProduction 初始化一个 production logger（供 main 调用）
func InitProduction(file FileOptions) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(cfg, file)
}

// InitDevelopment 初始化一个 development logger（更友好地输出到控制台）
func InitDevelopment(file FileOptions) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return build(cfg, file)
}

func build(cfg zap.Config, file FileOptions) error {
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	if file.Path != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   file.Path,
			MaxSize:    file.MaxSizeMB,
			MaxBackups: file.MaxBackups,
			MaxAge:     file.MaxAgeDays,
		})
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotated, cfg.Level)
		l = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}
	setLogger(l)
	return nil
}

// Init 按 mode 选择 production 或 development logger
func Init(mode string, file FileOptions) error {
	if mode == "development" {
		return InitDevelopment(file)
	}
	return InitProduction(file)
}

// setLogger 内部设置并替换 zap 全局 logger（可使 zap.L()/zap.S() 返回相同实例）
func setLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	zap.ReplaceGlobals(l)
	if log != nil {
		_ = log.Sync()
	}
	log = l
	sugar = l.Sugar()
}

// Use 安装一个已构建好的 logger（主要供测试使用）
func Use(l *zap.Logger) {
	setLogger(l)
}

// Log 返回 *zap.Logger（非 nil）
func Log() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		return log
	}
	// 如果还没初始化，返回 zap 的全局（可能是 noop）
	return zap.L()
}

// S 返回 *zap.SugaredLogger（非 nil）
func S() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	if sugar != nil {
		return sugar
	}
	return zap.S()
}

// Sync flush logs
func Sync() {
	logMu.RLock()
	defer logMu.RUnlock()
	if log != nil {
		_ = log.Sync()
	}
}

// Fatal 记录错误后退出（用于 main 启动失败）
func Fatal(msg string, fields ...zap.Field) {
	Log().Error(msg, fields...)
	Sync()
	os.Exit(1)
}
