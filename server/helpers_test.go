package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testMaxUpload = 1 << 20

func init() {
	gin.SetMode(gin.TestMode)
}

type removerFunc func(ctx context.Context, img image.Image) (image.Image, error)

func (f removerFunc) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	return f(ctx, img)
}

func failing(status int) rembg.Remover {
	return removerFunc(func(ctx context.Context, img image.Image) (image.Image, error) {
		return nil, &rembg.ProcessingError{StatusCode: status, Err: context.DeadlineExceeded}
	})
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, solid(w, h, color.NRGBA{R: 10, G: 200, B: 90, A: 255})))
	return buf.Bytes()
}

type part struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

type testApp struct {
	router *gin.Engine
	store  *Store
}

func newTestApp(t *testing.T, remover rembg.Remover) *testApp {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := NewStore(func(n workflow.Notifier) *workflow.Controller {
		return workflow.NewController(remover, workflow.Options{
			Source:   workflow.NewSource(testMaxUpload),
			Notifier: n,
			Logger:   log,
		})
	}, log)
	router := InitRoutes(NewHandler(remover, testMaxUpload, log), NewSessionHandler(store, testMaxUpload, log))
	return &testApp{router: router, store: store}
}

func (a *testApp) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) newSession(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeView(t, rec).ID
}

func (a *testApp) upload(t *testing.T, id, query string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	return a.do(t, http.MethodPost, "/sessions/"+id+"/image"+query, body, ct)
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) sessionView {
	t.Helper()
	var v sessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}
