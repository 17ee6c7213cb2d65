// Package rembg 对接远程抠图服务
package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
)

type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// ErrProcessing 远程处理失败：网络错误、非 2xx、响应无法解码
var ErrProcessing = errors.New("background removal failed")

type ProcessingError struct {
	// StatusCode 为 0 表示没有拿到 HTTP 响应
	StatusCode int
	Err        error
}

func (e *ProcessingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status %d: %v", ErrProcessing, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrProcessing, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }

// DefaultRemBG 原样返回，用于本地调试或没有可用后端时
type DefaultRemBG struct{}

func NewDefaultRemBG() *DefaultRemBG {
	return &DefaultRemBG{}
}

func (d *DefaultRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &ProcessingError{Err: errors.New("nil image")}
	}
	return img, nil
}
