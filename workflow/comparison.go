package workflow

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chaos-io/cutout/imgutil"
	"golang.org/x/image/draw"
)

const (
	DefaultPercent       = 50.0
	DefaultStaticOpacity = 0.3
)

type PointerKind int

const (
	Mouse PointerKind = iota
	Touch
)

// Point 一个触点
type Point struct {
	ClientX float64 `json:"client_x"`
	ClientY float64 `json:"client_y"`
}

// PointerEvent 鼠标或触摸事件；触摸只使用第一个触点
type PointerEvent struct {
	Kind    PointerKind
	ClientX float64
	Touches []Point
}

func MouseAt(x float64) PointerEvent {
	return PointerEvent{Kind: Mouse, ClientX: x}
}

func TouchAt(xs ...float64) PointerEvent {
	ev := PointerEvent{Kind: Touch}
	for _, x := range xs {
		ev.Touches = append(ev.Touches, Point{ClientX: x})
	}
	return ev
}

// X 返回事件的横坐标，没有触点的触摸事件返回 false
func (ev PointerEvent) X() (float64, bool) {
	if ev.Kind == Touch {
		if len(ev.Touches) == 0 {
			return 0, false
		}
		return ev.Touches[0].ClientX, true
	}
	return ev.ClientX, true
}

// Rect 对比容器的包围盒
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PercentAt clamp((x-left)/width*100, 0, 100)；宽度无效时返回 false
func PercentAt(x float64, rect Rect) (float64, bool) {
	if rect.Width <= 0 || math.IsNaN(x) {
		return 0, false
	}
	p := (x - rect.Left) / rect.Width * 100
	return math.Max(0, math.Min(100, p)), true
}

type ComparisonState struct {
	Percent  float64
	Dragging bool
}

// Comparison 分割滑块的状态机：Static <-> Dragging
//
// 不是并发安全的，由 Controller 加锁访问。
type Comparison struct {
	state ComparisonState
}

func NewComparison() *Comparison {
	return &Comparison{state: ComparisonState{Percent: DefaultPercent}}
}

func (c *Comparison) State() ComparisonState { return c.state }

// StartDrag 进入拖动并立即按按下位置计算分界
func (c *Comparison) StartDrag(ev PointerEvent, rect Rect) ComparisonState {
	c.state.Dragging = true
	c.move(ev, rect)
	return c.state
}

// UpdateDrag 仅在拖动中生效
func (c *Comparison) UpdateDrag(ev PointerEvent, rect Rect) ComparisonState {
	if c.state.Dragging {
		c.move(ev, rect)
	}
	return c.state
}

// EndDrag 全局释放，保留最后的位置
func (c *Comparison) EndDrag() ComparisonState {
	c.state.Dragging = false
	return c.state
}

func (c *Comparison) Reset() {
	c.state = ComparisonState{Percent: DefaultPercent}
}

func (c *Comparison) move(ev PointerEvent, rect Rect) {
	x, ok := ev.X()
	if !ok {
		return
	}
	if p, ok := PercentAt(x, rect); ok {
		c.state.Percent = p
	}
}

// OverlayOpacity 透明背景提示：静止时半透明，拖动时隐藏
func (s ComparisonState) OverlayOpacity(static float64) float64 {
	if s.Dragging {
		return 0
	}
	return static
}

// Span 水平区间，单位为百分比
type Span struct {
	From float64
	To   float64
}

func (s Span) Width() float64 { return s.To - s.From }

// Regions before 显示 [0,p]，after 显示 [p,100]，两者恰好铺满容器
type Regions struct {
	Before Span
	After  Span
}

func Clip(percent float64) Regions {
	p := math.Max(0, math.Min(100, percent))
	return Regions{
		Before: Span{From: 0, To: p},
		After:  Span{From: p, To: 100},
	}
}

// BeforeInset CSS clip-path，裁掉右侧
func (r Regions) BeforeInset() string {
	return fmt.Sprintf("inset(0 %s%% 0 0)", formatPercent(100-r.Before.To))
}

// AfterInset CSS clip-path，裁掉左侧
func (r Regions) AfterInset() string {
	return fmt.Sprintf("inset(0 0 0 %s%%)", formatPercent(r.After.From))
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%g", math.Round(p*1000)/1000)
}

// BoundaryColumn 分界所在像素列 c：before 占 [0,c)，after 占 [c,width)
func BoundaryColumn(width int, percent float64) int {
	if width <= 0 {
		return 0
	}
	p := math.Max(0, math.Min(100, percent))
	c := int(math.Round(p / 100 * float64(width)))
	return max(0, min(width, c))
}

type RenderOptions struct {
	// MaxWidth/MaxHeight 显示尺寸上限，0 表示不限制
	MaxWidth      int
	MaxHeight     int
	StaticOpacity float64
	CheckerCell   int
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		MaxWidth:      0,
		MaxHeight:     400,
		StaticOpacity: DefaultStaticOpacity,
		CheckerCell:   10,
	}
}

// Render 合成对比画面：左侧 before，右侧 after（下面垫棋盘格）
// after 为 nil 时右侧只有棋盘格，对应处理中的预览。
func Render(before, after image.Image, st ComparisonState, opt RenderOptions) *image.NRGBA {
	b := imgutil.FitWithin(before, opt.MaxWidth, opt.MaxHeight)
	w, h := b.Bounds().Dx(), b.Bounds().Dy()

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	col := BoundaryColumn(w, st.Percent)

	left := image.Rect(0, 0, col, h)
	draw.Draw(dst, left, b, b.Bounds().Min, draw.Src)

	right := image.Rect(col, 0, w, h)
	if right.Empty() {
		return dst
	}

	if op := st.OverlayOpacity(opt.StaticOpacity); op > 0 {
		checker := imgutil.Checkerboard(w, h, opt.CheckerCell)
		mask := image.NewUniform(color.Alpha{A: uint8(math.Round(math.Min(op, 1) * 255))})
		draw.DrawMask(dst, right, checker, right.Min, mask, image.Point{}, draw.Over)
	}

	if after != nil {
		a := imgutil.ResizeTo(after, w, h)
		draw.Draw(dst, right, a, a.Bounds().Min.Add(right.Min), draw.Over)
	}
	return dst
}
