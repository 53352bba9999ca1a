package annotation

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePNG 在临时目录写入一张纯色 PNG 并返回路径
func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	path := filepath.Join(dir, "sample.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func TestFilePath(t *testing.T) {
	got := FilePath(filepath.Join("data", "imgs", "cat.01.jpg"))
	want := filepath.Join("data", "imgs", "cat.01.json")
	if got != want {
		t.Fatalf("FilePath = %q, want %q", got, want)
	}
}

func TestIsImageFile(t *testing.T) {
	for _, p := range []string{"a.jpg", "b.JPEG", "c.png", "d.webp", "e.TIF"} {
		if !IsImageFile(p) {
			t.Errorf("%s should be an image", p)
		}
	}
	for _, p := range []string{"a.json", "b", "c.txt"} {
		if IsImageFile(p) {
			t.Errorf("%s should not be an image", p)
		}
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	imgPath := writePNG(t, dir, 40, 30)
	store := NewFileStore()
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	rot := math.Pi / 6
	records := []Record{
		{ID: "a", Type: TypeRectangle, X: 1, Y: 2, Width: 3, Height: 4, Label: "cat", Visible: true},
		{ID: "b", Type: TypeRotatedRectangle, X: 5, Y: 6, Width: 7, Height: 8, Rotation: &rot, Label: "ship", Visible: true},
	}
	if err := store.Save(ctx, imgPath, records); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(FilePath(imgPath))
	if err != nil {
		t.Fatal(err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatal(err)
	}
	if file.Version != FileVersion || file.ImageWidth != 40 || file.ImageHeight != 30 {
		t.Fatalf("unexpected file header: %+v", file)
	}
	if file.Created != "2026-01-02T03:04:05Z" {
		t.Fatalf("created = %q", file.Created)
	}

	loaded, err := store.Load(ctx, imgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 || loaded[1].Rotation == nil || *loaded[1].Rotation != rot {
		t.Fatalf("unexpected records: %+v", loaded)
	}

	// 覆盖写入
	if err := store.Save(ctx, imgPath, nil); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.Load(ctx, imgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected overwrite to clear records, got %d", len(loaded))
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	records, err := NewFileStore().Load(context.Background(), filepath.Join(t.TempDir(), "none.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty slice, got %#v", records)
	}
}

func TestFileStore_LoadLegacyArray(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "old.jpg")
	legacy := `[{"id":"x","type":"rectangle","x":1,"y":1,"width":2,"height":2,"label":"dog","visible":true}]`
	if err := os.WriteFile(FilePath(imgPath), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	records, err := NewFileStore().Load(context.Background(), imgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Label != "dog" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(FilePath(imgPath), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore().Load(context.Background(), imgPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRecord_Corners(t *testing.T) {
	r := Record{Type: TypeRectangle, X: 10, Y: 20, Width: 30, Height: 40}
	c := r.Corners()
	if c[0] != [2]float64{10, 20} || c[2] != [2]float64{40, 60} {
		t.Fatalf("unexpected corners: %v", c)
	}

	quarter := math.Pi / 2
	rr := Record{Type: TypeRotatedRectangle, X: 0, Y: 0, Width: 20, Height: 10, Rotation: &quarter}
	rc := rr.Corners()
	// 绕中心 (10,5) 旋转 90°: 左上角 (-10,-5) -> (5,-10) + 中心
	if math.Abs(rc[0][0]-15) > 1e-9 || math.Abs(rc[0][1]+5) > 1e-9 {
		t.Fatalf("unexpected rotated corner: %v", rc[0])
	}
}

func TestDraw(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 50, 50))
	records := []Record{
		{Type: TypeRectangle, X: 10, Y: 10, Width: 20, Height: 20, Label: "cat", Visible: true},
		{Type: TypeRectangle, X: 0, Y: 40, Width: 5, Height: 5, Label: "hidden", Visible: false},
	}
	out := Draw(src, records, nil, 3)

	want := LabelColor("cat")
	if got := out.RGBAAt(20, 10); got != want {
		t.Fatalf("top edge pixel = %v, want %v", got, want)
	}
	if got := out.RGBAAt(20, 20); got != (color.RGBA{}) {
		t.Fatalf("interior pixel should be untouched, got %v", got)
	}
	if got := out.RGBAAt(2, 40); got != (color.RGBA{}) {
		t.Fatalf("hidden record should not be drawn, got %v", got)
	}
	if src.RGBAAt(20, 10) != (color.RGBA{}) {
		t.Fatal("Draw must not modify the source image")
	}
}
