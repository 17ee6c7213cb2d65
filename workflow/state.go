package workflow

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

type State int

const (
	Idle State = iota
	Loaded
	Processing
	Ready
	Failed
)

var stateNames = map[State]string{
	Idle:       "idle",
	Loaded:     "loaded",
	Processing: "processing",
	Ready:      "ready",
	Failed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Snapshot 某一时刻控制器状态的只读拷贝
type Snapshot struct {
	State      State
	Original   *Asset
	Processed  *Asset
	Comparison ComparisonState
	// Err 最近一次处理失败的原因，仅 Failed 时非空
	Err error
	// Token 进行中请求的标识，没有请求时为 ksuid.Nil
	Token ksuid.KSUID
}

// Check 校验资源与状态的对应关系
func (s Snapshot) Check() error {
	wantProcessed := s.State == Ready
	if (s.Processed != nil) != wantProcessed {
		return fmt.Errorf("%s: processed present=%t", s.State, s.Processed != nil)
	}
	wantOriginal := s.State != Idle
	if (s.Original != nil) != wantOriginal {
		return fmt.Errorf("%s: original present=%t", s.State, s.Original != nil)
	}
	if s.Comparison.Percent < 0 || s.Comparison.Percent > 100 {
		return fmt.Errorf("comparison percent %v out of range", s.Comparison.Percent)
	}
	return nil
}

// Busy 是否显示加载提示
func (s Snapshot) Busy() bool {
	return s.State == Loaded || s.State == Processing
}
