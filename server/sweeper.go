package server

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper 定时清理闲置会话
type Sweeper struct {
	cron  *cron.Cron
	store *Store
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewSweeper(store *Store, spec string, ttl time.Duration, log logrus.FieldLogger) (*Sweeper, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Sweeper{
		cron:  cron.New(),
		store: store,
		ttl:   ttl,
		log:   log,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("add sweep job %q: %w", spec, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if n := s.store.Sweep(s.ttl); n > 0 {
		s.log.WithFields(logrus.Fields{"expired": n, "remaining": s.store.Len()}).Info("idle sessions swept")
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop 停止调度，返回的 context 在正在执行的清理结束后 Done
func (s *Sweeper) Stop() context.Context { return s.cron.Stop() }
