package util

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeImage 解码内存中的图片，返回格式名
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}
	return image.Decode(bytes.NewReader(data))
}

// EncodePNG 无损编码，用于上传和导出
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(w, img)
}

// PNGBytes 把图片编码成 PNG 字节
func PNGBytes(img image.Image) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := EncodePNG(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
