package util

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Trace 记录耗时，用法: defer util.Trace(log, "remove background")()
func Trace(log logrus.FieldLogger, msg string) func() {
	start := time.Now()
	return func() {
		log.WithField("elapsed", time.Since(start).String()).Debug(msg)
	}
}
