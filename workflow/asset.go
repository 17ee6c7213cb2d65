package workflow

import (
	"fmt"
	"image"
)

// Asset 已解码的图片，创建后不再修改
type Asset struct {
	width  int
	height int
	pixels image.Image
}

func NewAsset(img image.Image) (*Asset, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, b.Dx(), b.Dy())
	}
	return &Asset{width: b.Dx(), height: b.Dy(), pixels: img}, nil
}

func (a *Asset) Width() int { return a.width }

func (a *Asset) Height() int { return a.height }

// Pixels 只读句柄，调用方不得修改
func (a *Asset) Pixels() image.Image { return a.pixels }

func (a *Asset) String() string {
	return fmt.Sprintf("%dx%d", a.width, a.height)
}
