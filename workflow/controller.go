package workflow

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/chaos-io/cutout/imgutil"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/util"
	"github.com/disintegration/imaging"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

// DownloadName 导出文件名
const DownloadName = "background-removed.png"

type Options struct {
	Source   *Source
	Notifier Notifier
	Logger   logrus.FieldLogger
	View     RenderOptions
}

// Controller 图片工作流状态机
//
//	Idle/Ready/Failed --submit--> Loaded --auto--> Processing --ok--> Ready
//	                                                         \--err--> Failed
//	* --reset--> Idle
//
// Processing 状态本身就是互斥：处理中提交会被拒绝，远程结果只在 token 未变时生效。
type Controller struct {
	remover  rembg.Remover
	source   *Source
	notifier Notifier
	log      logrus.FieldLogger
	view     RenderOptions

	mu         sync.Mutex
	state      State
	original   *Asset
	processed  *Asset
	comparison *Comparison
	lastErr    error
	inflight   *Job
}

func NewController(remover rembg.Remover, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Source == nil {
		opts.Source = NewSource(DefaultMaxBytes)
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Log: opts.Logger}
	}
	if opts.View == (RenderOptions{}) {
		opts.View = DefaultRenderOptions()
	}
	return &Controller{
		remover:    remover,
		source:     opts.Source,
		notifier:   opts.Notifier,
		log:        opts.Logger,
		view:       opts.View,
		comparison: NewComparison(),
	}
}

// Job 一次远程处理，Wait 等待它落地
type Job struct {
	token  ksuid.KSUID
	cancel context.CancelFunc
	done   chan struct{}

	snap Snapshot
	err  error
}

func (j *Job) Token() ksuid.KSUID { return j.token }

func (j *Job) Done() <-chan struct{} { return j.done }

// Wait 返回处理完成后的状态；被 Reset 或新请求取代时返回 ErrSuperseded
func (j *Job) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-j.done:
		return j.snap, j.err
	}
}

func (j *Job) finish(snap Snapshot, err error) {
	j.snap, j.err = snap, err
	close(j.done)
}

// Submit 校验解码输入，成功后进入 Loaded 并立即开始远程处理
//
// 校验或解码失败时状态不变；处理中再次提交返回 ErrBusy。
func (c *Controller) Submit(ctx context.Context, in Input) (*Job, error) {
	if c.Snapshot().State == Processing {
		return nil, c.fail(fmt.Errorf("submit %s: %w", in.Name, ErrBusy))
	}

	asset, err := c.source.Submit(ctx, in)
	if err != nil {
		return nil, c.fail(err)
	}

	c.mu.Lock()
	// 解码期间可能有别的提交抢先进入了 Processing
	if c.state == Processing {
		c.mu.Unlock()
		return nil, c.fail(fmt.Errorf("submit %s: %w", in.Name, ErrBusy))
	}
	c.original = asset
	c.processed = nil
	c.lastErr = nil
	c.comparison.Reset()
	c.state = Loaded
	c.log.WithFields(logrus.Fields{"name": in.Name, "size": asset.String()}).Info("image loaded")

	job := c.startLocked(ctx)
	c.mu.Unlock()
	return job, nil
}

// SubmitFile 文件选择入口
func (c *Controller) SubmitFile(ctx context.Context, path string) (*Job, error) {
	in, err := FileInput(path)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.Submit(ctx, in)
}

// SubmitDrop 拖放入口
func (c *Controller) SubmitDrop(ctx context.Context, files []Input) (*Job, error) {
	in, err := DropInput(files)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.Submit(ctx, in)
}

// SubmitPaste 粘贴入口，没有图片项时静默返回 ErrNoInput
func (c *Controller) SubmitPaste(ctx context.Context, items []ClipboardItem) (*Job, error) {
	in, err := ClipboardInput(items)
	if err != nil {
		return nil, c.fail(err)
	}
	return c.Submit(ctx, in)
}

// Retry 失败后用保留的原图重新处理
func (c *Controller) Retry(ctx context.Context) (*Job, error) {
	c.mu.Lock()
	if c.state != Failed {
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("retry from %s: %w", state, ErrInvalidTransition)
	}
	c.lastErr = nil
	c.comparison.Reset()
	job := c.startLocked(ctx)
	c.mu.Unlock()
	return job, nil
}

// startLocked Loaded/Failed -> Processing，调用方持有锁
func (c *Controller) startLocked(ctx context.Context) *Job {
	// 请求的生命周期不跟随调用方（例如 HTTP 请求），只由 Reset 取消
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{
		token:  ksuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.inflight = job
	c.state = Processing
	// 在锁内发出，保证与结果落地时的 Busy(false) 有先后
	c.notifier.Busy(true)

	go c.process(jobCtx, job, c.original)
	return job
}

func (c *Controller) process(ctx context.Context, job *Job, original *Asset) {
	defer job.cancel()
	log := c.log.WithField("token", job.token.String())
	defer util.Trace(log, "remove background")()

	img, err := c.remover.Remove(ctx, original.Pixels())
	var processed *Asset
	if err == nil {
		processed, err = NewAsset(img)
	}
	if err != nil && !errors.Is(err, ErrProcessing) {
		err = &rembg.ProcessingError{Err: err}
	}

	c.mu.Lock()
	if c.inflight != job || c.state != Processing {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		log.WithError(err).Info("discarding stale result")
		job.finish(snap, ErrSuperseded)
		return
	}
	c.inflight = nil
	if err != nil {
		c.state = Failed
		c.lastErr = err
	} else {
		c.processed = processed
		c.comparison.Reset()
		c.state = Ready
	}
	snap := c.snapshotLocked()
	c.notifier.Busy(false)
	c.mu.Unlock()

	if err != nil {
		log.WithError(err).Warn("background removal failed")
		c.report(err)
		job.finish(snap, err)
		return
	}

	if !imgutil.HasUsefulAlpha(imgutil.ToNRGBA(processed.Pixels())) {
		log.Warn("processed image has no transparent pixels")
		c.notifier.Notify(Notice{Level: LevelInfo, Message: OpaqueResultMessage})
	}
	log.WithField("size", processed.String()).Info("background removed")
	job.finish(snap, nil)
}

// Reset 任意状态回到 Idle，丢弃进行中的请求
func (c *Controller) Reset() {
	c.mu.Lock()
	wasBusy := c.inflight != nil
	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}
	prev := c.state
	c.state = Idle
	c.original = nil
	c.processed = nil
	c.lastErr = nil
	c.comparison.Reset()
	if wasBusy {
		c.notifier.Busy(false)
	}
	c.mu.Unlock()

	c.log.WithField("from", prev.String()).Debug("workflow reset")
}

// Download 把处理结果以 PNG 写入 w，返回文件名
func (c *Controller) Download(w io.Writer) (string, error) {
	c.mu.Lock()
	if c.state != Ready {
		state := c.state
		c.mu.Unlock()
		return "", c.fail(fmt.Errorf("download in %s: %w", state, ErrNotReady))
	}
	img := c.processed.Pixels()
	c.mu.Unlock()

	if err := util.EncodePNG(w, imaging.Clone(img)); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return DownloadName, nil
}

func (c *Controller) StartDrag(ev PointerEvent, rect Rect) ComparisonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comparison.StartDrag(ev, rect)
}

func (c *Controller) UpdateDrag(ev PointerEvent, rect Rect) ComparisonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comparison.UpdateDrag(ev, rect)
}

func (c *Controller) EndDrag() ComparisonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comparison.EndDrag()
}

// Render 当前对比画面；还没有原图时返回 ErrNotReady
func (c *Controller) Render() (*image.NRGBA, error) {
	snap := c.Snapshot()
	if snap.Original == nil {
		return nil, ErrNotReady
	}
	var after image.Image
	if snap.Processed != nil {
		after = snap.Processed.Pixels()
	}
	return Render(snap.Original.Pixels(), after, snap.Comparison, c.view), nil
}

func (c *Controller) View() RenderOptions { return c.view }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      c.state,
		Original:   c.original,
		Processed:  c.processed,
		Comparison: c.comparison.State(),
		Err:        c.lastErr,
	}
	if c.inflight != nil {
		snap.Token = c.inflight.token
	}
	return snap
}

// fail 通知用户后原样返回错误
func (c *Controller) fail(err error) error {
	c.report(err)
	return err
}

func (c *Controller) report(err error) {
	n, ok := NoticeFor(err, c.source.MaxBytes)
	if !ok {
		c.log.WithError(err).Debug("input ignored")
		return
	}
	c.notifier.Notify(n)
}
