// Package imgutil 图片转换和缩放的小工具
package imgutil

import (
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ToNRGBA 转为 NRGBA，方便统一处理像素
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HasUsefulAlpha 检查 alpha 通道是否真的包含透明信息
// 只要存在非 255（非完全不透明），就认为“已有抠图”
func HasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// FitScale 计算放进 maxW x maxH 的缩放比例，0 表示该方向不限制
func FitScale(w, h, maxW, maxH int) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	scale := math.Inf(1)
	if maxW > 0 {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if math.IsInf(scale, 1) {
		return 1
	}
	return scale
}

// FitWithin 等比缩放到 maxW x maxH 以内（小图会被放大）
func FitWithin(img image.Image, maxW, maxH int) image.Image {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	scale := FitScale(w, h, maxW, maxH)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))
	return ResizeTo(img, newW, newH)
}

// ResizeTo 缩放到指定尺寸，尺寸不变时原样返回
func ResizeTo(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
}

var (
	checkerLight = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	checkerDark  = color.NRGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}
)

// Checkerboard 透明背景提示用的棋盘格
func Checkerboard(w, h, cell int) *image.NRGBA {
	if cell <= 0 {
		cell = 10
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := checkerLight
			if (x/cell+y/cell)%2 == 1 {
				c = checkerDark
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
