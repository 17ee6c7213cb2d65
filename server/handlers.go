package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/util"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ImageField 上传表单里图片的字段名
const ImageField = "image"

// Handler 单次抠图接口，背后是可替换的 Remover
type Handler struct {
	remover   rembg.Remover
	maxUpload int64
	log       logrus.FieldLogger
}

func NewHandler(remover rembg.Remover, maxUpload int64, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{remover: remover, maxUpload: maxUpload, log: log}
}

func tooLargeMessage(max int64) string {
	return fmt.Sprintf("File too large. Maximum size is %dMB.", max>>20)
}

// limitBody 超限时直接写 413，返回 false
func limitBody(c *gin.Context, max int64, msg string) bool {
	if c.Request.ContentLength > max {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msg})
		return false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
	return true
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (h *Handler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (h *Handler) RemoveBackground(c *gin.Context) {
	if !limitBody(c, h.maxUpload, tooLargeMessage(h.maxUpload)) {
		return
	}

	fh, err := c.FormFile(ImageField)
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": tooLargeMessage(h.maxUpload)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
		return
	}
	if fh.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file selected"})
		return
	}

	log := h.log.WithFields(logrus.Fields{"filename": fh.Filename, "size": fh.Size})
	out, err := h.process(c, fh)
	if err != nil {
		log.WithError(err).Error("remove background failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process image"})
		return
	}

	c.Header("Content-Disposition", `inline; filename="background_removed.png"`)
	c.Data(http.StatusOK, "image/png", out)
}

func (h *Handler) process(c *gin.Context, fh *multipart.FileHeader) ([]byte, error) {
	defer util.Trace(h.log, "remove-background")()

	data, err := readFormFile(fh)
	if err != nil {
		return nil, err
	}
	img, _, err := util.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	out, err := h.remover.Remove(c.Request.Context(), img)
	if err != nil {
		return nil, err
	}
	return util.PNGBytes(out)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}
