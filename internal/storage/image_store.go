// internal/storage/image_store.go
package storage

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ImageKeyPrefix 是图像存储键的保留命名空间
//
// 实体的 image_url 字段要么持有原始图像数据（data: URL），要么持有
// 一个以该前缀开头的不透明存储键。原始数据的编码（data: URL）永远
// 不会以 "image-" 开头，所以前缀判定是无歧义的。
const ImageKeyPrefix = "image-"

// IsImageKey 判断 image_url 字段值是否为存储键而非原始数据
func IsImageKey(value string) bool {
	return strings.HasPrefix(value, ImageKeyPrefix)
}

// ImageKeyFor 返回实体对应的图像存储键
func ImageKeyFor(entityID string) string {
	return ImageKeyPrefix + entityID
}

// EncodeRawPayload 把base64图像数据编码为 data: URL 形式的原始负载
//
// data: URL 以 "data:" 开头，落在保留前缀命名空间之外。
func EncodeRawPayload(mimeType, base64Data string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64Data
}

// DecodeRawPayload 解析 data: URL 原始负载，返回MIME类型和二进制数据
func DecodeRawPayload(payload string) (string, []byte, error) {
	if !strings.HasPrefix(payload, "data:") {
		return "", nil, fmt.Errorf("不是有效的图像数据负载")
	}

	rest := payload[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", nil, fmt.Errorf("图像数据负载缺少base64标记")
	}

	mimeType := rest[:sep]
	data, err := base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return "", nil, fmt.Errorf("解码图像数据失败: %w", err)
	}

	return mimeType, data, nil
}

// ImageStore 提供按键存取的二进制图像存储
type ImageStore struct {
	baseDir string

	// 并发控制
	keyLocks sync.Map // key -> *sync.RWMutex
}

// NewImageStore 创建图像存储
func NewImageStore(baseDir string) (*ImageStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建图像存储目录失败: %w", err)
	}
	return &ImageStore{baseDir: baseDir}, nil
}

func (s *ImageStore) getKeyLock(key string) *sync.RWMutex {
	value, _ := s.keyLocks.LoadOrStore(key, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (s *ImageStore) pathFor(key string) string {
	// 键本身已经是 "image-<entityID>" 形式，直接作为文件名
	return filepath.Join(s.baseDir, key+".bin")
}

// Put 写入图像数据
func (s *ImageStore) Put(key string, data []byte) error {
	if !IsImageKey(key) {
		return fmt.Errorf("非法的图像存储键: %s", key)
	}

	lock := s.getKeyLock(key)
	lock.Lock()
	defer lock.Unlock()

	fullPath := s.pathFor(key)
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("写入图像失败: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("写入图像失败: %w", err)
	}

	return nil
}

// Get 读取图像数据
func (s *ImageStore) Get(key string) ([]byte, error) {
	if !IsImageKey(key) {
		return nil, fmt.Errorf("非法的图像存储键: %s", key)
	}

	lock := s.getKeyLock(key)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil, fmt.Errorf("读取图像失败: %w", err)
	}
	return data, nil
}

// Exists 检查键是否存在
func (s *ImageStore) Exists(key string) bool {
	_, err := os.Stat(s.pathFor(key))
	return err == nil
}

// Delete 删除图像，键不存在时为无操作
func (s *ImageStore) Delete(key string) error {
	if !IsImageKey(key) {
		return fmt.Errorf("非法的图像存储键: %s", key)
	}

	lock := s.getKeyLock(key)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除图像失败: %w", err)
	}
	return nil
}

// DeleteAll 删除一组键对应的图像，返回第一个遇到的错误
func (s *ImageStore) DeleteAll(keys []string) error {
	var firstErr error
	for _, key := range keys {
		if err := s.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
