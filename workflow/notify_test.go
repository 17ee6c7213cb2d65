package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chaos-io/cutout/rembg"
	"github.com/stretchr/testify/assert"
)

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   string
		silent bool
	}{
		{name: "nil", err: nil, silent: true},
		{name: "no input", err: ErrNoInput, silent: true},
		{name: "invalid type", err: &SourceError{Name: "a.txt", Err: ErrInvalidFileType}, want: "Please select an image file."},
		{name: "too large", err: &SourceError{Name: "a.png", Err: ErrTooLarge}, want: "File too large. Maximum size is 16MB."},
		{name: "decode", err: &SourceError{Name: "a.png", Err: fmt.Errorf("%w: bad", ErrDecode)}, want: "Could not read the image file."},
		{name: "busy", err: fmt.Errorf("submit: %w", ErrBusy), want: "An image is already being processed. Please wait."},
		{name: "processing", err: &rembg.ProcessingError{StatusCode: 500}, want: "Failed to remove background. Please try again."},
		{
			name: "undecodable remote result",
			err:  &rembg.ProcessingError{Err: fmt.Errorf("%w: nil image", ErrDecode)},
			want: "Failed to remove background. Please try again.",
		},
		{name: "cancelled", err: &SourceError{Err: context.Canceled}, want: "Loading the image was cancelled."},
		{name: "not ready", err: ErrNotReady, want: "There is no processed image yet."},
		{name: "other", err: errors.New("disk full"), want: "Something went wrong. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := NoticeFor(tt.err, DefaultMaxBytes)
			if tt.silent {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, LevelError, n.Level)
			assert.Equal(t, tt.want, n.Message)
			assert.Equal(t, tt.err, n.Err)
		})
	}
}
