package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/getcharzp/go-autolabel"
	jsoniter "github.com/json-iterator/go"
)

const (
	// HealthTimeout 健康检查与模型信息请求超时
	HealthTimeout = 5 * time.Second
	// PredictTimeout 推理请求超时
	PredictTimeout = 30 * time.Second
	// JPEGQuality 上传图片的 JPEG 质量
	JPEGQuality = 90

	maxErrorBody = 64 << 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PredictRequest POST /predict 请求体
type PredictRequest struct {
	ImageBase64   string  `json:"image_base64"`
	ConfThreshold float32 `json:"conf_threshold"`
	IOUThreshold  float32 `json:"iou_threshold"`
}

// PredictResponse POST /predict 响应体
type PredictResponse struct {
	Detections      []WireDetection `json:"detections"`
	InferenceTimeMs float64         `json:"inference_time_ms"`
}

// WireDetection 响应中的检测结果, bbox 长度在转换时校验
type WireDetection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"`
	Angle      *float32  `json:"angle,omitempty"`
}

// toDetections bbox 必须恰好 4 个值, 否则整个响应视为异常
func toDetections(wire []WireDetection) ([]autolabel.Detection, error) {
	dets := make([]autolabel.Detection, 0, len(wire))
	for i, w := range wire {
		if len(w.BBox) != 4 {
			return nil, autolabel.Errorf(autolabel.KindBackendProtocol, "decode response",
				"detection %d: bbox has %d values, want 4", i, len(w.BBox))
		}
		dets = append(dets, autolabel.Detection{
			ClassID:    w.ClassID,
			ClassName:  w.ClassName,
			Confidence: w.Confidence,
			Box:        [4]float32{w.BBox[0], w.BBox[1], w.BBox[2], w.BBox[3]},
			Angle:      w.Angle,
		})
	}
	return dets, nil
}

// Remote 远程推理服务客户端
//
// 不做任何重试, 失败直接返回给调用方
type Remote struct {
	baseURL       string
	httpClient    *http.Client
	confThreshold float32
	iouThreshold  float32
}

// RemoteOption Remote 可选参数
type RemoteOption func(*Remote)

// WithHTTPClient 使用指定的 http.Client (便于复用连接)
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.httpClient = c
		}
	}
}

// NewRemote 创建远程后端
func NewRemote(baseURL string, confThreshold, iouThreshold float32, opts ...RemoteOption) *Remote {
	r := &Remote{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{},
		confThreshold: confThreshold,
		iouThreshold:  iouThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BaseURL 服务地址
func (r *Remote) BaseURL() string {
	return r.baseURL
}

// Infer 编码为 JPEG(90) + base64 后调用 /predict
func (r *Remote) Infer(ctx context.Context, img image.Image) ([]autolabel.Detection, time.Duration, error) {
	encoded, err := EncodeJPEGBase64(img)
	if err != nil {
		return nil, 0, autolabel.NewError(autolabel.KindInput, "encode image", err)
	}

	body, err := json.Marshal(PredictRequest{
		ImageBase64:   encoded,
		ConfThreshold: r.confThreshold,
		IOUThreshold:  r.iouThreshold,
	})
	if err != nil {
		return nil, 0, autolabel.NewError(autolabel.KindInput, "encode request", err)
	}

	var resp PredictResponse
	if err := r.do(ctx, http.MethodPost, "/predict", body, PredictTimeout, &resp); err != nil {
		return nil, 0, err
	}

	dets, err := toDetections(resp.Detections)
	if err != nil {
		return nil, 0, err
	}
	elapsed := time.Duration(resp.InferenceTimeMs * float64(time.Millisecond))
	return dets, elapsed, nil
}

// Health GET /health, 2xx 视为可用
func (r *Remote) Health(ctx context.Context) error {
	err := r.do(ctx, http.MethodGet, "/health", nil, HealthTimeout, nil)
	var se *autolabel.StatusError
	if errors.As(err, &se) {
		return autolabel.NewError(autolabel.KindBackendUnavailable, "health", se)
	}
	return err
}

// ModelInfo GET /model_info
func (r *Remote) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	if err := r.do(ctx, http.MethodGet, "/model_info", nil, HealthTimeout, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// do 发送请求; out 为空时忽略响应体
func (r *Remote) do(ctx context.Context, method, path string, body []byte, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return autolabel.NewError(autolabel.KindBackendUnavailable, "request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return autolabel.NewError(autolabel.KindBackendUnavailable, "request",
			fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return autolabel.NewError(autolabel.KindBackendProtocol, "request", &autolabel.StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(text)),
		})
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return autolabel.NewError(autolabel.KindBackendProtocol, "decode response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return autolabel.NewError(autolabel.KindBackendProtocol, "decode response", err)
	}
	return nil
}

// EncodeJPEGBase64 图片 -> JPEG(90) -> base64
func EncodeJPEGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
