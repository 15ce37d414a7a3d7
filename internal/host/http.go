package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"WebdevReplay/internal/protocol"
)

// EventRequest REST提交的请求体
type EventRequest struct {
	Payload  json.RawMessage        `json:"payload"`
	Protocol map[string]interface{} `json:"protocol,omitempty"`
}

// HTTPConfig HTTP端口配置
type HTTPConfig struct {
	BaseURL        string
	ContentPackage string
	Protocol       map[string]interface{}
	Timeout        time.Duration
	QueueSize      int
	Client         *http.Client
}

// HTTPPort 通过REST接口提交事件
type HTTPPort struct {
	config *HTTPConfig
	client *http.Client
	*dispatcher
}

// NewHTTPPort 创建HTTP端口
func NewHTTPPort(config *HTTPConfig) *HTTPPort {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	p := &HTTPPort{config: config, client: client}
	p.dispatcher = newDispatcher("http", config.ContentPackage, config.Protocol, config.QueueSize, p.post)
	return p
}

func (p *HTTPPort) post(env *protocol.Envelope) error {
	payload, err := json.Marshal(env.Message)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	body, err := json.Marshal(EventRequest{Payload: payload, Protocol: env.Protocol})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s%s/%s/%s",
		strings.TrimRight(p.config.BaseURL, "/"),
		protocol.EventsPathPrefix,
		url.PathEscape(env.ContentPackage),
		env.Message.Event())

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("host returned %s", resp.Status)
	}
	return nil
}

// Close 排空队列
func (p *HTTPPort) Close() error {
	p.dispatcher.close()
	return nil
}

// Stats 投递统计
func (p *HTTPPort) Stats() Stats {
	return p.dispatcher.stats()
}
