package server

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/chaos-io/cutout/util"
	"github.com/chaos-io/cutout/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// formOverhead multipart 边界和头部的余量，图片本身的大小由 Source 检查
	formOverhead = 1 << 20

	SourcePicker = "picker"
	SourceDrop   = "drop"
	SourcePaste  = "paste"

	DropField  = "files"
	PasteField = "items"
)

// SessionHandler 把页面事件（上传、拖放、粘贴、拖动滑块）转给会话的控制器
type SessionHandler struct {
	store     *Store
	maxUpload int64
	log       logrus.FieldLogger
}

func NewSessionHandler(store *Store, maxUpload int64, log logrus.FieldLogger) *SessionHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionHandler{store: store, maxUpload: maxUpload, log: log}
}

func (h *SessionHandler) session(c *gin.Context) (*Session, bool) {
	sess, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	}
	return sess, ok
}

// statusFor 工作流错误对应的 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidFileType):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, workflow.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrBusy),
		errors.Is(err, workflow.ErrNotReady),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrProcessing):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *SessionHandler) abort(c *gin.Context, err error) {
	msg := "Something went wrong. Please try again."
	if n, ok := workflow.NoticeFor(err, h.maxUpload); ok {
		msg = n.Message
	}
	if errors.Is(err, workflow.ErrInvalidTransition) {
		msg = err.Error()
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": msg})
}

func (h *SessionHandler) Create(c *gin.Context) {
	sess := h.store.Create()
	c.JSON(http.StatusCreated, newSessionView(sess, sess.Controller.Snapshot()))
}

func (h *SessionHandler) Get(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSessionView(sess, sess.Controller.Snapshot()))
}

func (h *SessionHandler) Delete(c *gin.Context) {
	if !h.store.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Upload 三种入口：source=picker 取 image 字段，drop 取 files 的第一个，
// paste 取 items 里第一个图片类型的项；wait=true 时等处理结束再返回
func (h *SessionHandler) Upload(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if !limitBody(c, h.maxUpload+formOverhead, tooLargeMessage(h.maxUpload)) {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage(h.maxUpload)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}

	ctx := c.Request.Context()
	var job *workflow.Job
	switch source := c.DefaultQuery("source", SourcePicker); source {
	case SourcePicker:
		files := form.File[ImageField]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
			return
		}
		var in workflow.Input
		if in, err = inputFrom(files[0]); err == nil {
			job, err = sess.Controller.Submit(ctx, in)
		}
	case SourceDrop:
		var inputs []workflow.Input
		if inputs, err = inputsFrom(form.File[DropField]); err == nil {
			job, err = sess.Controller.SubmitDrop(ctx, inputs)
		}
	case SourcePaste:
		var items []workflow.ClipboardItem
		if items, err = clipboardFrom(form.File[PasteField]); err == nil {
			job, err = sess.Controller.SubmitPaste(ctx, items)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown source " + strconv.Quote(source)})
		return
	}

	if errors.Is(err, workflow.ErrNoInput) {
		// 拖放或粘贴里没有图片，什么也不做
		c.JSON(http.StatusOK, newSessionView(sess, sess.Controller.Snapshot()))
		return
	}
	if err != nil {
		h.abort(c, err)
		return
	}
	h.respondJob(c, sess, job)
}

func (h *SessionHandler) Retry(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	job, err := sess.Controller.Retry(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	h.respondJob(c, sess, job)
}

// respondJob 默认立即返回 202；wait=true 时等待结果
func (h *SessionHandler) respondJob(c *gin.Context, sess *Session, job *workflow.Job) {
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		c.JSON(http.StatusAccepted, newSessionView(sess, sess.Controller.Snapshot()))
		return
	}
	if _, err := job.Wait(c.Request.Context()); err != nil && !errors.Is(err, workflow.ErrProcessing) {
		h.abort(c, err)
		return
	}
	// 处理失败也是合法状态，由 state/error 字段体现
	c.JSON(http.StatusOK, newSessionView(sess, sess.Controller.Snapshot()))
}

func (h *SessionHandler) Reset(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.Controller.Reset()
	c.JSON(http.StatusOK, newSessionView(sess, sess.Controller.Snapshot()))
}

type sliderRequest struct {
	Action  string           `json:"action" binding:"required,oneof=start move end"`
	Pointer string           `json:"pointer"`
	ClientX float64          `json:"client_x"`
	Touches []workflow.Point `json:"touches"`
	Rect    workflow.Rect    `json:"rect"`
}

func (r sliderRequest) event() workflow.PointerEvent {
	if r.Pointer == "touch" || len(r.Touches) > 0 {
		return workflow.PointerEvent{Kind: workflow.Touch, Touches: r.Touches}
	}
	return workflow.MouseAt(r.ClientX)
}

func (h *SessionHandler) Slider(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req sliderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var st workflow.ComparisonState
	switch req.Action {
	case "start":
		st = sess.Controller.StartDrag(req.event(), req.Rect)
	case "move":
		st = sess.Controller.UpdateDrag(req.event(), req.Rect)
	case "end":
		st = sess.Controller.EndDrag()
	}
	c.JSON(http.StatusOK, newComparisonView(st, sess.Controller.View().StaticOpacity))
}

func (h *SessionHandler) Preview(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	img, err := sess.Controller.Render()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image loaded"})
		return
	}
	data, err := util.PNGBytes(img)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", data)
}

func (h *SessionHandler) Download(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	buf := &bytes.Buffer{}
	name, err := sess.Controller.Download(buf)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// partType 上传部分的 Content-Type；octet-stream 视为未知，交给 Source 嗅探
func partType(fh *multipart.FileHeader) string {
	t := fh.Header.Get("Content-Type")
	if strings.HasPrefix(t, "application/octet-stream") {
		return ""
	}
	return t
}

func inputFrom(fh *multipart.FileHeader) (workflow.Input, error) {
	data, err := readFormFile(fh)
	if err != nil {
		return workflow.Input{}, err
	}
	return workflow.Input{Name: fh.Filename, MIMEType: partType(fh), Data: data}, nil
}

func inputsFrom(files []*multipart.FileHeader) ([]workflow.Input, error) {
	// 只有第一个会被用到
	if len(files) > 1 {
		files = files[:1]
	}
	inputs := make([]workflow.Input, 0, len(files))
	for _, fh := range files {
		in, err := inputFrom(fh)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func clipboardFrom(files []*multipart.FileHeader) ([]workflow.ClipboardItem, error) {
	items := make([]workflow.ClipboardItem, 0, len(files))
	for _, fh := range files {
		t := fh.Header.Get("Content-Type")
		item := workflow.ClipboardItem{Type: t, Name: fh.Filename}
		if strings.Contains(t, "image") {
			data, err := readFormFile(fh)
			if err != nil {
				return nil, err
			}
			item.Data = data
		}
		items = append(items, item)
	}
	return items, nil
}
