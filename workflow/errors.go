package workflow

import (
	"errors"
	"fmt"

	"github.com/chaos-io/cutout/rembg"
)

var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrDecode          = errors.New("decode image")
	ErrTooLarge        = errors.New("file too large")
	// ErrNoInput 拖放或粘贴里没有可用图片，静默忽略
	ErrNoInput = errors.New("no image in input")

	// ErrProcessing 与 rembg.ErrProcessing 相同，方便调用方只依赖本包
	ErrProcessing = rembg.ErrProcessing

	ErrBusy              = errors.New("an image is already being processed")
	ErrNotReady          = errors.New("no processed image")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSuperseded        = errors.New("request superseded")
)

// SourceError 输入校验或解码失败
type SourceError struct {
	Name     string
	MIMEType string
	Err      error
}

func (e *SourceError) Error() string {
	name := e.Name
	if name == "" {
		name = "input"
	}
	if e.MIMEType != "" {
		return fmt.Sprintf("%s (%s): %v", name, e.MIMEType, e.Err)
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
