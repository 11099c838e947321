package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LiveDet/logger"
	"LiveDet/session"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Facing    string `json:"facingMode"`
	Frames    uint64 `json:"frames"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port     int
	Addr     string
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

// SendAliveMessage 每隔 interval 向注册中心上报会话状态，直到 ctx 结束
// ip 和 port 为对外公布的控制 API 地址
func SendAliveMessage(ctx context.Context, wg *sync.WaitGroup, cfg RegServerConfig, ip string, port int, status func() session.Status) {
	defer wg.Done()
	interval := cfg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	url := fmt.Sprintf("http://%s:%d/api/register", cfg.Addr, cfg.Port)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second) // 总超时
	id := uuid.NewString()
	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
			}
		}()
		// 构造请求体
		st := status()
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:        id,
			IP:        ip,
			Port:      port,
			SessionID: st.ID,
			State:     st.State,
			Facing:    string(st.Facing),
			Frames:    st.Frames,
			TimeStamp: time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).     // 可以直接传 struct，resty 会 JSON 编码
			SetResult(&respBody). // 2xx 自动反序列化到 respBody
			Post(url)
		if err != nil {
			if ctx.Err() == nil {
				logger.Log().Error("heartbeat request error", zap.String("url", url), zap.Error(err))
			}
			return
		}
		// 检查 HTTP 状态码
		if resp.IsError() {
			logger.Log().Error("registry returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			logger.Log().Warn("registry rejected heartbeat", zap.String("id", id))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
