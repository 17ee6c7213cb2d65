package workflow

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func jpegInput(t *testing.T, w, h int) Input {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, solid(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255}), nil))
	return Input{Name: "photo.jpg", MIMEType: "image/jpeg", Data: buf.Bytes()}
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func textInput() Input {
	return Input{Name: "notes.txt", MIMEType: "text/plain", Data: []byte("hello, not an image")}
}

// fakeRemover 可控的远程处理：release 之前一直阻塞
type fakeRemover struct {
	release chan struct{}
	result  func(in image.Image) (image.Image, error)

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
	started     chan struct{}
}

func newFakeRemover() *fakeRemover {
	return &fakeRemover{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
		result: func(in image.Image) (image.Image, error) {
			b := in.Bounds()
			return solid(b.Dx(), b.Dy(), color.NRGBA{B: 255, A: 0}), nil
		},
	}
}

func (f *fakeRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		old := f.maxInflight.Load()
		if n <= old || f.maxInflight.CompareAndSwap(old, n) {
			break
		}
	}
	f.started <- struct{}{}

	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.result(img)
}

// instant 立即返回，不需要 release
func (f *fakeRemover) instant() *fakeRemover {
	close(f.release)
	return f
}

type recorder struct {
	mu      sync.Mutex
	notices []Notice
	busy    []bool
}

func (r *recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Busy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = append(r.busy, busy)
}

func (r *recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *recorder) LastBusy() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.busy) == 0 {
		return false, false
	}
	return r.busy[len(r.busy)-1], true
}

func newTestController(remover *fakeRemover) (*Controller, *recorder) {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	rec := &recorder{}
	c := NewController(remover, Options{
		Notifier: rec,
		Logger:   log,
		View:     RenderOptions{StaticOpacity: DefaultStaticOpacity, CheckerCell: 4},
	})
	return c, rec
}
