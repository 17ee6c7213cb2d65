package workflow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes 与服务端上传限制一致
const DefaultMaxBytes = 16 << 20

// Input 任意来源的原始图片数据：文件选择、拖放、粘贴
type Input struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ClipboardItem 剪贴板中的一项
type ClipboardItem struct {
	Type string
	Name string
	Data []byte
}

// Source 把各种输入统一校验并解码为 Asset
type Source struct {
	// MaxBytes 为 0 表示不限制
	MaxBytes int64
}

func NewSource(maxBytes int64) *Source {
	return &Source{MaxBytes: maxBytes}
}

// Submit 校验 MIME 后解码，失败时不产生任何副作用
func (s *Source) Submit(ctx context.Context, in Input) (*Asset, error) {
	mimeType := in.MIMEType
	if strings.TrimSpace(mimeType) == "" {
		mimeType = mimetype.Detect(in.Data).String()
	}
	if !IsImageType(mimeType) {
		return nil, &SourceError{Name: in.Name, MIMEType: mimeType, Err: ErrInvalidFileType}
	}
	if s.MaxBytes > 0 && int64(len(in.Data)) > s.MaxBytes {
		return nil, &SourceError{Name: in.Name, MIMEType: mimeType, Err: ErrTooLarge}
	}

	img, err := decode(ctx, in.Data)
	if err != nil {
		return nil, &SourceError{Name: in.Name, MIMEType: mimeType, Err: err}
	}

	asset, err := NewAsset(img)
	if err != nil {
		return nil, &SourceError{Name: in.Name, MIMEType: mimeType, Err: err}
	}
	return asset, nil
}

type decoded struct {
	img image.Image
	err error
}

// decode 异步解码，ctx 取消时立即返回
func decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan decoded, 1)
	go func() {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		ch <- decoded{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, d.err)
		}
		return d.img, nil
	}
}

// IsImageType MIME 是否属于 image 类别
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// FileInput 文件选择：读取文件，MIME 按扩展名推断，推断不出时留空由 Submit 嗅探
func FileInput(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read file: %w", err)
	}
	return Input{
		Name:     filepath.Base(path),
		MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
		Data:     data,
	}, nil
}

// DropInput 拖放：只取第一个文件
func DropInput(files []Input) (Input, error) {
	if len(files) == 0 {
		return Input{}, ErrNoInput
	}
	return files[0], nil
}

// ClipboardInput 粘贴：按顺序找第一个图片项，其它类型忽略
func ClipboardInput(items []ClipboardItem) (Input, error) {
	for _, item := range items {
		if strings.Contains(item.Type, "image") {
			return Input{Name: item.Name, MIMEType: item.Type, Data: item.Data}, nil
		}
	}
	return Input{}, ErrNoInput
}
