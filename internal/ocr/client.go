// Package ocr recognizes math exam papers through Tencent Cloud EduPaperOCR.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mathqa/backend/internal/config"
	"mathqa/backend/internal/logger"
	"mathqa/backend/internal/metrics"

	"github.com/go-resty/resty/v2"
)

const (
	service        = "ocr"
	apiVersion     = "2018-11-19"
	action         = "EduPaperOCR"
	requestTimeout = 30 * time.Second

	successMessage = "OCR识别成功"
)

var ErrMissingCredentials = errors.New("请在环境变量中设置 TENCENT_SECRET_ID 和 TENCENT_SECRET_KEY")

var defaultConfig = map[string]any{"task_type": 1, "is_structuralization": true}

// Request is the body of a recognition call. Config is passed to the cloud
// API as its extended configuration; nil selects the default.
type Request struct {
	ImageBase64 string         `json:"image_base64"`
	Config      map[string]any `json:"config,omitempty"`
}

type Position struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type TextItem struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
}

// Response reports failures in-band through Success and Message.
type Response struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	TextItems []TextItem     `json:"text_items,omitempty"`
	Angle     float64        `json:"angle,omitempty"`
}

type Client struct {
	http      *resty.Client
	secretID  string
	secretKey string
	region    string
	endpoint  string
	host      string

	archive       Archiver
	archivePrefix string

	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = resty.NewWithClient(hc).SetTimeout(requestTimeout)
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithArchive stores every decoded upload under prefix before recognition.
func WithArchive(a Archiver, prefix string) Option {
	return func(c *Client) {
		c.archive = a
		c.archivePrefix = prefix
	}
}

func NewClient(cfg config.Config, m *metrics.Metrics, log *logger.Logger, opts ...Option) (*Client, error) {
	secretID := strings.TrimSpace(cfg.TencentSecretID)
	secretKey := strings.TrimSpace(cfg.TencentSecretKey)
	if secretID == "" || secretKey == "" {
		return nil, ErrMissingCredentials
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.TencentOCREndpoint), "/")
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid TENCENT_OCR_ENDPOINT %q", cfg.TencentOCREndpoint)
	}

	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		http:      resty.New().SetTimeout(requestTimeout),
		secretID:  secretID,
		secretKey: secretKey,
		region:    cfg.TencentRegion,
		endpoint:  endpoint,
		host:      parsed.Host,
		metrics:   m,
		log:       log.Component("ocr"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check reports whether the client can serve requests.
func (c *Client) Check() error {
	if c == nil {
		return ErrMissingCredentials
	}
	return nil
}

// Recognize runs OCR over one uploaded image. PDF uploads with a text layer
// are answered locally. All failures are reported in the Response.
func (c *Client) Recognize(ctx context.Context, userID int64, req Request) Response {
	imageBase64 := stripDataURL(req.ImageBase64)
	decoded, decodeErr := base64.StdEncoding.DecodeString(imageBase64)
	if decodeErr == nil {
		c.archiveUpload(ctx, userID, decoded)
		if bytes.HasPrefix(decoded, []byte("%PDF")) {
			resp := recognizePDF(decoded)
			c.metrics.RecordOCR("pdf")
			return resp
		}
	}

	resp, outcome := c.callCloud(ctx, imageBase64, req.Config)
	c.metrics.RecordOCR(outcome)
	if !resp.Success {
		c.log.Warn().Str("outcome", outcome).Str("message", resp.Message).Msg("ocr recognition failed")
	}
	return resp
}

type cloudRequest struct {
	ImageBase64 string `json:"ImageBase64"`
	Config      string `json:"Config"`
}

type cloudResult struct {
	Error *struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Error"`
	EduPaperInfos []struct {
		DetectedText string   `json:"DetectedText"`
		Itemcoord    Position `json:"Itemcoord"`
	} `json:"EduPaperInfos"`
	Angle float64 `json:"Angle"`
}

func (c *Client) callCloud(ctx context.Context, imageBase64 string, extra map[string]any) (Response, string) {
	if extra == nil {
		extra = defaultConfig
	}
	configJSON, err := json.Marshal(extra)
	if err != nil {
		return failure("未知错误: %v", err), "encode_error"
	}
	payload, err := json.Marshal(cloudRequest{ImageBase64: imageBase64, Config: string(configJSON)})
	if err != nil {
		return failure("未知错误: %v", err), "encode_error"
	}

	ts := c.now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", authorization(c.secretID, c.secretKey, service, c.host, payload, ts)).
		SetHeader("Content-Type", jsonContentType).
		SetHeader("Host", c.host).
		SetHeader("X-TC-Action", action).
		SetHeader("X-TC-Timestamp", strconv.FormatInt(ts.Unix(), 10)).
		SetHeader("X-TC-Version", apiVersion).
		SetHeader("X-TC-Region", c.region).
		SetBody(payload).
		Post(c.endpoint)
	if err != nil {
		return failure("网络请求错误: %v", err), "transport_error"
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return failure("HTTP状态错误: %d - %s", resp.StatusCode(), resp.Status()), "status_error"
	}

	var envelope struct {
		Response json.RawMessage `json:"Response"`
	}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return failure("JSON解析错误: %v", err), "decode_error"
	}
	if len(envelope.Response) == 0 {
		envelope.Response = json.RawMessage("{}")
	}

	var result cloudResult
	if err := json.Unmarshal(envelope.Response, &result); err != nil {
		return failure("JSON解析错误: %v", err), "decode_error"
	}
	if result.Error != nil {
		code, message := result.Error.Code, result.Error.Message
		if code == "" {
			code = "Unknown"
		}
		if message == "" {
			message = "未知错误"
		}
		return failure("腾讯云API错误: %s (Code: %s)", message, code), "api_error"
	}

	var data map[string]any
	if err := json.Unmarshal(envelope.Response, &data); err != nil {
		return failure("JSON解析错误: %v", err), "decode_error"
	}

	items := make([]TextItem, 0, len(result.EduPaperInfos))
	for _, info := range result.EduPaperInfos {
		if strings.TrimSpace(info.DetectedText) == "" {
			continue
		}
		items = append(items, TextItem{Text: info.DetectedText, Position: info.Itemcoord})
	}

	return Response{
		Success:   true,
		Message:   successMessage,
		Data:      data,
		TextItems: items,
		Angle:     result.Angle,
	}, "ok"
}

func failure(format string, args ...any) Response {
	return Response{Success: false, Message: fmt.Sprintf(format, args...)}
}

func stripDataURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "data:") {
		if idx := strings.Index(trimmed, ";base64,"); idx >= 0 {
			return trimmed[idx+len(";base64,"):]
		}
	}
	return trimmed
}
