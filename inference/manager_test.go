package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/getcharzp/go-autolabel"
	"github.com/getcharzp/go-autolabel/annotation"
	"github.com/getcharzp/go-autolabel/backend"
	"github.com/getcharzp/go-autolabel/yolo"
	"github.com/getcharzp/go-autolabel/yolo/yolotest"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var fixedNow = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

type memoryStore struct {
	mu    sync.Mutex
	saved map[string][]annotation.Record
	err   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[string][]annotation.Record)}
}

func (s *memoryStore) Save(_ context.Context, imagePath string, records []annotation.Record) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[imagePath] = records
	return nil
}

func (s *memoryStore) Load(_ context.Context, imagePath string) ([]annotation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[imagePath], nil
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.Set(0, 0, color.RGBA{A: 255})
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestManager(rt *yolotest.Runtime, store annotation.Store, opts ...Option) *Manager {
	base := []Option{
		WithEngineCache(backend.NewEngineCache(backend.WithRuntime(rt))),
		WithStore(store),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
	}
	return NewManager(append(base, opts...)...)
}

func TestInferSingle_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detections":[
			{"class_id":1,"class_name":"car","confidence":0.9,"bbox":[-5,10,50,400]},
			{"class_id":0,"class_name":"ship","confidence":0.8,"bbox":[40,30,20,10],"angle":90}],
			"inference_time_ms":7}`))
	}))
	defer srv.Close()

	path := writePNG(t, t.TempDir(), "a.png", 100, 80)
	store := newMemoryStore()
	m := newTestManager(&yolotest.Runtime{}, store)

	res, err := m.InferSingle(context.Background(), path, Config{Mode: Remote{Endpoint: srv.URL, ConfThreshold: 0.25, IOUThreshold: 0.45}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ImagePath != path || res.InferenceTimeMs != 7 {
		t.Errorf("结果错误: %+v", res)
	}
	if len(res.Annotations) != 2 {
		t.Fatalf("标注数 = %d", len(res.Annotations))
	}

	rect := res.Annotations[0]
	if rect.Type != annotation.TypeRectangle || rect.X != 0 || rect.Y != 10 || rect.Width != 50 || rect.Height != 70 {
		t.Errorf("普通框转换错误: %+v", rect)
	}
	if rect.ID != "id-1" || rect.Label != "car" || !rect.Visible || rect.Created != "2026-03-01T08:30:00Z" {
		t.Errorf("标注元信息错误: %+v", rect)
	}

	rot := res.Annotations[1]
	if rot.Type != annotation.TypeRotatedRectangle || rot.X != 30 || rot.Y != 25 {
		t.Errorf("旋转框左上角错误: %+v", rot)
	}
	if rot.Rotation == nil || math.Abs(*rot.Rotation-math.Pi/2) > 1e-6 {
		t.Errorf("旋转角应为弧度: %v", rot.Rotation)
	}

	if saved := store.saved[path]; len(saved) != 2 {
		t.Fatalf("保存的标注数 = %d", len(saved))
	}
}

func TestInferSingle_RemoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal failure", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := writePNG(t, dir, "a.png", 32, 32)
	m := NewManager(WithStore(annotation.NewFileStore()))

	_, err := m.InferSingle(context.Background(), path, Config{Mode: Remote{Endpoint: srv.URL}})
	if !errors.Is(err, autolabel.ErrBackendProtocol) {
		t.Fatalf("期望协议错误, 实际 %v", err)
	}
	var se *autolabel.StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 || se.Body != "internal failure" {
		t.Fatalf("错误应包含状态码与响应体: %v", err)
	}
	if _, err := os.Stat(annotation.FilePath(path)); !os.IsNotExist(err) {
		t.Fatal("失败时不应写入标注文件")
	}
}

func TestInferSingle_RemoteBadBBoxNotSaved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"detections":[{"class_id":0,"class_name":"a","confidence":0.9,"bbox":[1,2,3]}],"inference_time_ms":1}`))
	}))
	defer srv.Close()

	store := newMemoryStore()
	m := newTestManager(&yolotest.Runtime{}, store)
	path := writePNG(t, t.TempDir(), "a.png", 32, 32)

	_, err := m.InferSingle(context.Background(), path, Config{Mode: Remote{Endpoint: srv.URL}})
	if !errors.Is(err, autolabel.ErrBackendProtocol) {
		t.Fatalf("期望协议错误, 实际 %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatalf("异常响应不应保存标注: %+v", store.saved)
	}
}

func TestInferSingle_MissingImage(t *testing.T) {
	store := newMemoryStore()
	m := newTestManager(&yolotest.Runtime{}, store)

	_, err := m.InferSingle(context.Background(), filepath.Join(t.TempDir(), "nope.png"), Config{Mode: Local{ModelPath: "m.onnx"}})
	if !errors.Is(err, autolabel.ErrInput) {
		t.Fatalf("期望输入错误, 实际 %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatal("不应保存标注")
	}
}

func TestInferSingle_Local(t *testing.T) {
	rt := &yolotest.Runtime{
		Output: func(*yolo.Tensor) (*yolo.Tensor, error) {
			return yolotest.AnchorTensor([][]float32{
				yolotest.Row(320, 320, 64, 64, 80, 2, 0.9),
			}), nil
		},
	}
	store := newMemoryStore()
	m := newTestManager(rt, store)
	path := writePNG(t, t.TempDir(), "a.png", 640, 640)
	cfg := Config{Mode: Local{ModelPath: "m.onnx", ConfThreshold: 0.25, IOUThreshold: 0.45}}

	for i := 0; i < 2; i++ {
		res, err := m.InferSingle(context.Background(), path, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Annotations) != 1 || res.Annotations[0].Label != "car" {
			t.Fatalf("标注错误: %+v", res.Annotations)
		}
		if a := res.Annotations[0]; a.X != 288 || a.Y != 288 || a.Width != 64 {
			t.Errorf("坐标错误: %+v", a)
		}
	}
	if rt.Opens() != 1 {
		t.Fatalf("相同配置应只加载一次模型, Opens = %d", rt.Opens())
	}
}

func TestInferSingle_SaveError(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk full")
	m := newTestManager(&yolotest.Runtime{}, store)
	path := writePNG(t, t.TempDir(), "a.png", 16, 16)

	_, err := m.InferSingle(context.Background(), path, Config{Mode: Local{ModelPath: "m.onnx"}})
	var ae *autolabel.Error
	if !errors.As(err, &ae) || ae.Stage != "save annotations" {
		t.Fatalf("期望保存阶段错误, 实际 %v", err)
	}
}

func TestInferSingle_UnsupportedMode(t *testing.T) {
	m := newTestManager(&yolotest.Runtime{}, newMemoryStore())
	path := writePNG(t, t.TempDir(), "a.png", 16, 16)

	_, err := m.InferSingle(context.Background(), path, Config{})
	if !errors.Is(err, autolabel.ErrUnsupported) {
		t.Fatalf("期望不支持错误, 实际 %v", err)
	}
}

func TestInferBatch_ClampsSlice(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, writePNG(t, dir, fmt.Sprintf("%d.png", i), 16, 16))
	}
	rt := &yolotest.Runtime{}
	store := newMemoryStore()
	m := newTestManager(rt, store)

	res, err := m.InferBatch(context.Background(), paths, 3, 10, Config{Mode: Local{ModelPath: "m.onnx"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 0 || len(res.Results) != 2 {
		t.Fatalf("批量结果错误: %+v", res)
	}
	if res.Results[0].ImagePath != paths[3] || res.Results[1].ImagePath != paths[4] {
		t.Errorf("结果顺序错误: %s, %s", res.Results[0].ImagePath, res.Results[1].ImagePath)
	}
	if rt.Runs() != 2 {
		t.Errorf("Runs = %d, want 2", rt.Runs())
	}
	if _, ok := store.saved[paths[2]]; ok {
		t.Error("范围外的图片不应被处理")
	}
}

func TestInferBatch_ContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "a.png", 16, 16),
		filepath.Join(dir, "missing.png"),
		writePNG(t, dir, "c.png", 16, 16),
	}
	logger, hook := test.NewNullLogger()
	m := newTestManager(&yolotest.Runtime{}, newMemoryStore(), WithLogger(logger))

	res, err := m.InferBatch(context.Background(), paths, 0, CountAll().Resolve(len(paths), 0), Config{Mode: Local{ModelPath: "m.onnx"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.SuccessCount != 2 || res.ErrorCount != 1 {
		t.Fatalf("success=%d error=%d", res.SuccessCount, res.ErrorCount)
	}
	if res.SuccessCount+res.ErrorCount != len(paths) {
		t.Fatal("计数之和应等于处理数量")
	}

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["image_path"] == paths[1] && e.Data["stage"] == "load image" {
			warned = true
		}
	}
	if !warned {
		t.Error("失败的图片应记录警告日志")
	}
}

func TestInferBatch_CanceledKeepsPartialResult(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 4; i++ {
		paths = append(paths, writePNG(t, dir, fmt.Sprintf("%d.png", i), 16, 16))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt := &yolotest.Runtime{}
	rt.Output = func(*yolo.Tensor) (*yolo.Tensor, error) {
		if rt.Runs() == 2 {
			cancel()
		}
		return &yolo.Tensor{Shape: []int64{1, 84, 0}}, nil
	}
	store := newMemoryStore()
	m := newTestManager(rt, store)

	res, err := m.InferBatch(ctx, paths, 0, len(paths), Config{Mode: Local{ModelPath: "m.onnx"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}
	if res == nil {
		t.Fatal("取消时应返回已处理部分的结果")
	}
	if res.SuccessCount != 2 || len(res.Results) != 2 || res.ErrorCount != 0 {
		t.Fatalf("部分结果错误: %+v", res)
	}
	if res.Results[1].ImagePath != paths[1] || len(store.saved) != 2 {
		t.Errorf("已保存 %d 张, 结果 %+v", len(store.saved), res.Results)
	}
	if res.TotalTimeMs <= 0 {
		t.Errorf("TotalTimeMs 未设置: %v", res.TotalTimeMs)
	}
}

func TestInferBatch_OutOfRange(t *testing.T) {
	m := newTestManager(&yolotest.Runtime{}, newMemoryStore())
	paths := []string{"a.png", "b.png"}

	for _, tc := range []struct{ start, count int }{{5, 3}, {2, 1}, {0, 0}, {0, -1}} {
		res, err := m.InferBatch(context.Background(), paths, tc.start, tc.count, Config{Mode: Local{ModelPath: "m.onnx"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Results) != 0 || res.SuccessCount+res.ErrorCount != 0 {
			t.Errorf("start=%d count=%d 应不处理任何图片: %+v", tc.start, tc.count, res)
		}
	}
}

func TestClearEngineCache(t *testing.T) {
	rt := &yolotest.Runtime{}
	m := newTestManager(rt, newMemoryStore())
	path := writePNG(t, t.TempDir(), "a.png", 16, 16)
	cfg := Config{Mode: Local{ModelPath: "m.onnx"}}

	if _, err := m.InferSingle(context.Background(), path, cfg); err != nil {
		t.Fatal(err)
	}
	if n := m.ClearEngineCache(); n != 1 {
		t.Fatalf("ClearEngineCache = %d", n)
	}
	if rt.Destroyed() != 1 {
		t.Fatal("空闲引擎应被销毁")
	}
	if _, err := m.InferSingle(context.Background(), path, cfg); err != nil {
		t.Fatal(err)
	}
	if rt.Opens() != 2 {
		t.Fatalf("清空后应重新加载, Opens = %d", rt.Opens())
	}
}

func TestInspectModel(t *testing.T) {
	rt := &yolotest.Runtime{
		InputShape: []int64{1, 3, 1024, 1024},
		Names:      `{0: 'plane', 1: 'ship', 2: 'storage tank'}`,
	}
	m := newTestManager(rt, newMemoryStore())

	info, err := m.InspectModel(Local{ModelPath: "obb.onnx"})
	if err != nil {
		t.Fatal(err)
	}
	if info.ModelPath != "obb.onnx" || info.InputSize != [2]int{1024, 1024} || len(info.ClassNames) != 3 {
		t.Errorf("模型信息错误: %+v", info)
	}
	if info.ClassNames[2] != "storage tank" {
		t.Errorf("类别名错误: %v", info.ClassNames)
	}
}

func TestRemoteHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			return
		}
		_, _ = w.Write([]byte(`{"model_name":"m","class_names":["x"],"input_size":[640,640]}`))
	}))
	defer srv.Close()

	m := NewManager()
	if err := m.RemoteHealth(context.Background(), Remote{Endpoint: srv.URL}); err != nil {
		t.Fatal(err)
	}
	info, err := m.RemoteModelInfo(context.Background(), Remote{Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if info.ModelName != "m" {
		t.Errorf("模型信息错误: %+v", info)
	}
}
