package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/url"
	"strings"
	"time"

	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
)

const (
	BiRefNetModel = "BiRefNet"

	// workflow.json 中 LoadImage 节点的占位文件名
	imagePlaceholder = "MyImage.png"
)

//go:embed workflow.json
var workflowData string

// BiRefNetRemBG 通过 ComfyUI 的 BiRefNet 工作流抠图
//
// 流程: 上传图片 -> 提交 prompt -> 轮询 history -> 下载输出图片
type BiRefNetRemBG struct {
	baseURL      string
	workflow     string
	pollInterval time.Duration
	cli          nhttp.IClient
	log          logrus.FieldLogger
}

type BiRefNetOption func(*BiRefNetRemBG)

func WithWorkflow(workflow string) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.workflow = workflow }
}

func WithPollInterval(d time.Duration) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.pollInterval = d }
}

func WithComfyClient(cli nhttp.IClient) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.cli = cli }
}

func WithComfyLogger(log logrus.FieldLogger) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.log = log }
}

func NewBiRefNetRemBG(baseURL string, opts ...BiRefNetOption) *BiRefNetRemBG {
	b := &BiRefNetRemBG{
		baseURL:      strings.TrimRight(baseURL, "/") + "/",
		workflow:     workflowData,
		pollInterval: 500 * time.Millisecond,
		cli:          nhttp.NewHTTPClient(),
		log:          logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := util.PNGBytes(img)
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("encode png: %w", err)}
	}

	name := ksuid.New().String() + ".png"
	uploaded, err := b.uploadImage(ctx, name, data)
	if err != nil {
		return nil, wrapProcessing(err)
	}

	promptID, err := b.prompt(ctx, uploaded)
	if err != nil {
		return nil, wrapProcessing(err)
	}

	out, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, wrapProcessing(err)
	}

	raw, err := b.view(ctx, out)
	if err != nil {
		return nil, wrapProcessing(err)
	}

	result, _, err := util.DecodeImage(raw)
	if err != nil {
		return nil, &ProcessingError{Err: fmt.Errorf("decode output: %w", err)}
	}
	return result, nil
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}%
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, name string, data []byte) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// image 文件字段
	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}

	// 其他字段
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "api/upload/image",
		Method:     "POST",
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		return nil, errors.New("upload image: empty name in response")
	}

	b.log.WithField("name", resp.Name).Debug("image uploaded")
	return resp, nil
}

type promptResp struct {
	PromptID string `json:"prompt_id"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, uploaded *uploadImageResp) (string, error) {
	name := uploaded.Name
	if uploaded.Subfolder != "" {
		name = uploaded.Subfolder + "/" + name
	}
	if !strings.Contains(b.workflow, imagePlaceholder) {
		return "", fmt.Errorf("workflow has no %q placeholder", imagePlaceholder)
	}
	workflow := strings.Replace(b.workflow, imagePlaceholder, name, 1)

	wk := map[string]any{}
	if err := json.Unmarshal([]byte(workflow), &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "api/prompt",
		Method:     "POST",
		Body:       map[string]any{"prompt": wk, "client_id": BiRefNetModel},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt_id")
	}

	b.log.WithField("prompt_id", resp.PromptID).Debug("prompt queued")
	return resp.PromptID, nil
}

type outputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []outputImage `json:"images"`
	} `json:"outputs"`
}

// waitOutput 轮询 history 直到出现输出图片
func (b *BiRefNetRemBG) waitOutput(ctx context.Context, promptID string) (*outputImage, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + "api/history/" + url.PathEscape(promptID),
			Method:     "GET",
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return nil, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return nil, fmt.Errorf("prompt %s failed", promptID)
			}
			for _, out := range entry.Outputs {
				if len(out.Images) > 0 {
					img := out.Images[0]
					return &img, nil
				}
			}
			if entry.Status.Completed {
				return nil, fmt.Errorf("prompt %s completed without images", promptID)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetRemBG) view(ctx context.Context, out *outputImage) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", out.Filename)
	q.Set("subfolder", out.Subfolder)
	q.Set("type", out.Type)

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + "api/view?" + q.Encode(),
		Method:     "GET",
		Response:   &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view output: %w", err)
	}
	return data, nil
}

func wrapProcessing(err error) error {
	if errors.Is(err, ErrProcessing) {
		return err
	}
	var statusErr *nhttp.StatusError
	if errors.As(err, &statusErr) {
		return &ProcessingError{StatusCode: statusErr.StatusCode, Err: err}
	}
	return &ProcessingError{Err: err}
}
