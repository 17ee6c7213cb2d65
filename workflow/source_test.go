package workflow

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageType(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{mime: "image/png", want: true},
		{mime: "image/jpeg", want: true},
		{mime: " IMAGE/WEBP ", want: true},
		{mime: "image/svg+xml", want: true},
		{mime: "text/plain", want: false},
		{mime: "application/pdf", want: false},
		{mime: "imagefoo", want: false},
		{mime: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, IsImageType(tt.mime))
		})
	}
}

func TestSource_Submit(t *testing.T) {
	s := NewSource(DefaultMaxBytes)

	asset, err := s.Submit(context.Background(), jpegInput(t, 800, 600))
	require.NoError(t, err)
	assert.Equal(t, 800, asset.Width())
	assert.Equal(t, 600, asset.Height())
	assert.Equal(t, "800x600", asset.String())
}

func TestSource_Submit_SniffsMissingType(t *testing.T) {
	s := NewSource(0)

	asset, err := s.Submit(context.Background(), Input{Name: "clip", Data: pngBytes(t, solid(7, 5, color.NRGBA{A: 255}))})
	require.NoError(t, err)
	assert.Equal(t, 7, asset.Width())

	_, err = s.Submit(context.Background(), Input{Name: "clip", Data: []byte("plain words")})
	assert.ErrorIs(t, err, ErrInvalidFileType)
}

func TestSource_Submit_Errors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		ctx     context.Context
		source  *Source
		input   Input
		wantErr error
	}{
		{
			name:    "非图片类型",
			ctx:     context.Background(),
			source:  NewSource(0),
			input:   textInput(),
			wantErr: ErrInvalidFileType,
		},
		{
			name:    "声明为图片但数据损坏",
			ctx:     context.Background(),
			source:  NewSource(0),
			input:   Input{Name: "broken.png", MIMEType: "image/png", Data: []byte("\x89PNG garbage")},
			wantErr: ErrDecode,
		},
		{
			name:    "超过大小限制",
			ctx:     context.Background(),
			source:  NewSource(10),
			input:   Input{Name: "big.png", MIMEType: "image/png", Data: make([]byte, 11)},
			wantErr: ErrTooLarge,
		},
		{
			name:    "解码前已取消",
			ctx:     cancelled,
			source:  NewSource(0),
			input:   jpegInput(t, 4, 4),
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := tt.source.Submit(tt.ctx, tt.input)
			assert.Nil(t, asset)
			assert.ErrorIs(t, err, tt.wantErr)

			var se *SourceError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.input.Name, se.Name)
		})
	}
}

func TestFileInput(t *testing.T) {
	dir := t.TempDir()

	jpg := filepath.Join(dir, "photo.JPG")
	require.NoError(t, os.WriteFile(jpg, jpegInput(t, 3, 2).Data, 0o644))
	in, err := FileInput(jpg)
	require.NoError(t, err)
	assert.Equal(t, "photo.JPG", in.Name)
	assert.Equal(t, "image/jpeg", in.MIMEType)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	in, err = FileInput(txt)
	require.NoError(t, err)
	assert.False(t, IsImageType(in.MIMEType))

	_, err = FileInput(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestDropInput(t *testing.T) {
	first := Input{Name: "a.png"}
	got, err := DropInput([]Input{first, {Name: "b.png"}})
	require.NoError(t, err)
	assert.Equal(t, first, got)

	_, err = DropInput(nil)
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestClipboardInput(t *testing.T) {
	items := []ClipboardItem{
		{Type: "text/plain", Data: []byte("caption")},
		{Type: "text/html", Data: []byte("<img>")},
		{Type: "image/png", Name: "first.png", Data: []byte{1}},
		{Type: "image/jpeg", Name: "second.jpg", Data: []byte{2}},
	}

	got, err := ClipboardInput(items)
	require.NoError(t, err)
	assert.Equal(t, "first.png", got.Name)
	assert.Equal(t, "image/png", got.MIMEType)

	_, err = ClipboardInput(items[:2])
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestNewAsset(t *testing.T) {
	_, err := NewAsset(nil)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = NewAsset(solid(0, 5, color.NRGBA{}))
	assert.ErrorIs(t, err, ErrDecode)

	a, err := NewAsset(solid(2, 3, color.NRGBA{}))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Width())
	assert.Equal(t, 3, a.Height())
	assert.NotNil(t, a.Pixels())
}
