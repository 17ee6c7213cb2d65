package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/textproto"

	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/sirupsen/logrus"
)

const (
	FormField    = "image"
	FormFilename = "image.png"
)

// HTTPRemover 把图片 PNG 编码后 POST 给远程服务，响应体即结果 PNG
//
// 一次调用就是一次往返，不重试，不设内部超时（由 ctx 和客户端决定）。
type HTTPRemover struct {
	endpoint string
	cli      nhttp.IClient
	log      logrus.FieldLogger
}

type HTTPOption func(*HTTPRemover)

func WithClient(cli nhttp.IClient) HTTPOption {
	return func(h *HTTPRemover) { h.cli = cli }
}

func WithLogger(log logrus.FieldLogger) HTTPOption {
	return func(h *HTTPRemover) { h.log = log }
}

func NewHTTPRemover(endpoint string, opts ...HTTPOption) *HTTPRemover {
	h := &HTTPRemover{
		endpoint: endpoint,
		cli:      nhttp.NewHTTPClientWithTimeout(0),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	body, contentType, err := encodeForm(img)
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("encode form: %w", err)}
	}

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: h.endpoint,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &data,
	}
	if err := h.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		var statusErr *nhttp.StatusError
		if errors.As(err, &statusErr) {
			return nil, &ProcessingError{StatusCode: statusErr.StatusCode, Err: err}
		}
		return nil, &ProcessingError{Err: err}
	}

	out, format, err := util.DecodeImage(data)
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("decode response: %w", err)}
	}

	h.log.WithFields(logrus.Fields{
		"endpoint": h.endpoint,
		"format":   format,
		"bytes":    len(data),
	}).Debug("background removed")

	return out, nil
}

// encodeForm 生成 multipart 请求体，字段 image，文件名 image.png
func encodeForm(img image.Image) (*bytes.Buffer, string, error) {
	if img == nil {
		return nil, "", errors.New("nil image")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FormField, FormFilename))
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := util.EncodePNG(part, img); err != nil {
		return nil, "", fmt.Errorf("encode png: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}
