package server

import (
	"sync"
	"time"

	"github.com/chaos-io/cutout/workflow"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ControllerFactory 为每个会话创建控制器，n 接收该会话的提示
type ControllerFactory func(n workflow.Notifier) *workflow.Controller

// Session 一个浏览器页面对应的工作流
type Session struct {
	ID         string
	Controller *workflow.Controller
	inbox      *inbox

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Notices 取走尚未展示的提示
func (s *Session) Notices() []workflow.Notice { return s.inbox.drain() }

// inbox 会话的 Notifier：提示先攒着，等客户端下次拉取
type inbox struct {
	mu      sync.Mutex
	notices []workflow.Notice
}

func (b *inbox) Notify(n workflow.Notice) {
	b.mu.Lock()
	b.notices = append(b.notices, n)
	b.mu.Unlock()
}

// Busy 加载状态由快照推出，这里不需要记录
func (b *inbox) Busy(bool) {}

func (b *inbox) drain() []workflow.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

type Store struct {
	newController ControllerFactory
	log           logrus.FieldLogger
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore(factory ControllerFactory, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		newController: factory,
		log:           log,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}
}

func (s *Store) Create() *Session {
	box := &inbox{}
	sess := &Session{
		ID:         uuid.NewString(),
		Controller: s.newController(box),
		inbox:      box,
		lastSeen:   s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.WithField("session", sess.ID).Debug("session created")
	return sess
}

// Get 查找会话并刷新活跃时间
func (s *Store) Get(id string) (*Session, bool) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

// Delete 移除会话并取消其进行中的请求
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Controller.Reset()
		s.log.WithField("session", id).Debug("session deleted")
	}
	return ok
}

// Sweep 清理闲置超过 ttl 的会话，返回清理数量
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Controller.Reset()
	}
	return len(expired)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
