package annotation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// FileVersion 标注文件格式版本
const FileVersion = "1.0"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// File 标注文件内容
type File struct {
	Version     string   `json:"version"`
	ImagePath   string   `json:"image_path"`
	ImageWidth  int      `json:"image_width"`
	ImageHeight int      `json:"image_height"`
	Annotations []Record `json:"annotations"`
	Created     string   `json:"created"`
	Modified    string   `json:"modified"`
}

// FileStore 将标注以 JSON 保存在图片旁边
type FileStore struct {
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore 创建文件存储
func NewFileStore() *FileStore {
	return &FileStore{now: time.Now}
}

// Save 覆盖写入标注文件
//
// 图片尺寸通过解码文件头获得, 读取失败时记为 0
func (s *FileStore) Save(ctx context.Context, imagePath string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}

	width, height := imageSize(imagePath)
	now := s.now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(File{
		Version:     FileVersion,
		ImagePath:   imagePath,
		ImageWidth:  width,
		ImageHeight: height,
		Annotations: records,
		Created:     now,
		Modified:    now,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal annotations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := FilePath(imagePath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write annotation file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace annotation file: %w", err)
	}
	return nil
}

// Load 读取标注文件, 兼容旧的纯数组格式
func (s *FileStore) Load(ctx context.Context, imagePath string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(FilePath(imagePath))
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err == nil {
		if file.Annotations == nil {
			return []Record{}, nil
		}
		return file.Annotations, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse annotation file: %w", err)
	}
	return records, nil
}

func imageSize(path string) (int, int) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
