package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notice 需要让用户看到的提示
type Notice struct {
	Level   Level
	Message string
	Err     error
}

// Notifier 对应界面上的阻塞提示框和加载遮罩
//
// Busy 在控制器持锁时调用，实现不能回调 Controller。
type Notifier interface {
	Notify(n Notice)
	Busy(busy bool)
}

// LogNotifier 没有界面时把提示写进日志
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (l LogNotifier) Notify(n Notice) {
	entry := l.Log.WithField("notice", n.Message)
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	if n.Level == LevelError {
		entry.Warn("user notified")
		return
	}
	entry.Info("user notified")
}

func (l LogNotifier) Busy(busy bool) {
	l.Log.WithField("busy", busy).Debug("loading indicator")
}

// OpaqueResultMessage 处理结果完全不透明时的提示
const OpaqueResultMessage = "No background was detected in this image."

// NoticeFor 把错误翻译成给用户的提示；ok 为 false 表示无需提示
func NoticeFor(err error, maxBytes int64) (Notice, bool) {
	var msg string
	switch {
	case err == nil, errors.Is(err, ErrNoInput):
		return Notice{}, false
	case errors.Is(err, ErrProcessing):
		// 远程结果无法解码同样归为处理失败
		msg = "Failed to remove background. Please try again."
	case errors.Is(err, ErrInvalidFileType):
		msg = "Please select an image file."
	case errors.Is(err, ErrTooLarge):
		msg = fmt.Sprintf("File too large. Maximum size is %dMB.", maxBytes>>20)
	case errors.Is(err, ErrDecode):
		msg = "Could not read the image file."
	case errors.Is(err, ErrBusy):
		msg = "An image is already being processed. Please wait."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg = "Loading the image was cancelled."
	case errors.Is(err, ErrNotReady):
		msg = "There is no processed image yet."
	default:
		msg = "Something went wrong. Please try again."
	}
	return Notice{Level: LevelError, Message: msg, Err: err}, true
}
