package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twigo/pkg/api"
	"twigo/pkg/config"
	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
)

type call struct {
	method string
	args   api.Args
	media  []byte
}

// endpoint fakes the media upload endpoint
type endpoint struct {
	mu       sync.Mutex
	calls    []call
	finalize map[string]any
	statuses []map[string]any
}

func (e *endpoint) request(_ context.Context, method string, args api.Args) (*api.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := call{method: method, args: args}
	switch m := args["media"].(type) {
	case []byte:
		c.media = append([]byte(nil), m...)
	case io.Reader:
		data, err := io.ReadAll(m)
		if err != nil {
			return nil, err
		}
		c.media = data
	}
	e.calls = append(e.calls, c)

	data := map[string]any{}
	switch args["command"] {
	case CommandInit:
		data["media_id"] = int64(710511363345354753)
		data["media_id_string"] = "710511363345354753"
	case CommandFinalize:
		if e.finalize != nil {
			data["processing_info"] = e.finalize
		}
	case CommandStatus:
		data["processing_info"] = e.statuses[0]
		e.statuses = e.statuses[1:]
	case nil:
		data["media_id_string"] = "1"
	}
	return &api.Response{Data: data}, nil
}

func (e *endpoint) commands() []string {
	var out []string
	for _, c := range e.calls {
		cmd, _ := c.args["command"].(string)
		out = append(out, cmd)
	}
	return out
}

func gif(size int) []byte {
	data := make([]byte, size)
	copy(data, "GIF89a")
	for i := 6; i < size; i++ {
		data[i] = byte(i)
	}
	return data
}

type recorder struct {
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newUploader(e *endpoint, rec *recorder, cfg *config.UploadConfig) *Uploader {
	u := New(e.request, cfg, logger.NewNopLogger())
	u.Sleep = rec.sleep
	return u
}

func TestChunkedUpload(t *testing.T) {
	e := &endpoint{
		finalize: map[string]any{"state": "pending", "check_after_secs": int64(5)},
		statuses: []map[string]any{
			{"state": "in_progress", "check_after_secs": int64(1)},
			{"state": "succeeded"},
		},
	}
	rec := &recorder{}
	u := newUploader(e, rec, nil)

	data := gif(2560)
	resp, err := u.Upload(context.Background(), Bytes{Data: data}, Options{Chunked: true, ChunkSize: 1024})
	require.NoError(t, err)

	assert.Equal(t, []string{
		CommandInit, CommandAppend, CommandAppend, CommandAppend,
		CommandFinalize, CommandStatus, CommandStatus,
	}, e.commands())

	initArgs := e.calls[0].args
	assert.Equal(t, http.MethodPost, e.calls[0].method)
	assert.EqualValues(t, 2560, initArgs["total_bytes"])
	assert.Equal(t, "image/gif", initArgs["media_type"])
	assert.Equal(t, CategoryGIF, initArgs["media_category"])

	var sent []byte
	for i, c := range e.calls[1:4] {
		assert.Equal(t, i, c.args["segment_index"])
		assert.Equal(t, "710511363345354753", c.args["media_id"])
		sent = append(sent, c.media...)
	}
	assert.Equal(t, data, sent)
	assert.Len(t, e.calls[3].media, 512)

	assert.Equal(t, http.MethodGet, e.calls[5].method)
	assert.Equal(t, []time.Duration{5 * time.Second, time.Second}, rec.delays)

	info := resp.Object()["processing_info"].(map[string]any)
	assert.Equal(t, "succeeded", info["state"])
	assert.Equal(t, "710511363345354753", resp.Object()["media_id_string"])
}

func TestChunkedUploadExactMultiple(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, nil)

	resp, err := u.Upload(context.Background(), Bytes{Data: gif(2048)}, Options{Chunked: true, ChunkSize: 1024})
	require.NoError(t, err)
	assert.Equal(t, []string{CommandInit, CommandAppend, CommandAppend, CommandFinalize}, e.commands())
	assert.NotContains(t, resp.Object(), "processing_info")
}

func TestChunkedUploadProcessingFailed(t *testing.T) {
	e := &endpoint{
		finalize: map[string]any{"state": "pending", "check_after_secs": int64(5)},
		statuses: []map[string]any{
			{"state": "failed", "error": map[string]any{"code": int64(1), "name": "InvalidMedia", "message": "test"}},
		},
	}
	rec := &recorder{}
	u := newUploader(e, rec, nil)

	_, err := u.Upload(context.Background(), Bytes{Data: gif(3000)}, Options{Chunked: true, ChunkSize: 1024})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindMediaProcessing))

	var apiErr *errs.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "test", apiErr.Message)
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestUploadSmallMediaInOneRequest(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, &config.UploadConfig{ChunkSize: 1024, SizeLimit: 4096})

	data := gif(4096)
	_, err := u.Upload(context.Background(), Bytes{Data: data}, Options{})
	require.NoError(t, err)

	require.Len(t, e.calls, 1)
	assert.NotContains(t, e.calls[0].args, "command")
	assert.Equal(t, data, e.calls[0].media)
}

func TestUploadLargeMediaIsChunked(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, &config.UploadConfig{ChunkSize: 1024, SizeLimit: 4096})

	_, err := u.Upload(context.Background(), Bytes{Data: gif(4097)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, CommandInit, e.commands()[0])
	assert.Len(t, e.calls, 7)
}

func TestUploadForceChunkedConfig(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, &config.UploadConfig{ChunkSize: 1024, SizeLimit: 4096, ForceChunked: true})

	_, err := u.Upload(context.Background(), Bytes{Data: gif(100)}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{CommandInit, CommandAppend, CommandFinalize}, e.commands())
}

func TestUploadUnsupportedMedia(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, nil)

	_, err := u.Upload(context.Background(), Bytes{Data: []byte("just some text\n")}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.Empty(t, e.calls)
}

func TestUploadProvidedTypeSkipsDetection(t *testing.T) {
	e := &endpoint{}
	u := newUploader(e, &recorder{}, nil)

	_, err := u.Upload(context.Background(), Bytes{Data: []byte("not really a video")}, Options{
		MediaType: "video/mp4",
		Chunked:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", e.calls[0].args["media_type"])
	assert.Equal(t, CategoryVideo, e.calls[0].args["media_category"])
}

func TestUploadStreamSizes(t *testing.T) {
	data := gif(1500)

	tests := []struct {
		name  string
		media Media
	}{
		{"known size", Stream{Reader: bytes.NewBuffer(data), Size: 1500}},
		{"seekable", Stream{Reader: bytes.NewReader(data)}},
		{"buffered", Stream{Reader: io.MultiReader(bytes.NewBuffer(data))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &endpoint{}
			u := newUploader(e, &recorder{}, nil)

			_, err := u.Upload(context.Background(), tt.media, Options{Chunked: true, ChunkSize: 1024})
			require.NoError(t, err)
			assert.EqualValues(t, 1500, e.calls[0].args["total_bytes"])
			assert.Equal(t, append(e.calls[1].media, e.calls[2].media...), data)
		})
	}
}

func TestUploadHTTPBody(t *testing.T) {
	body := &closeRecorder{Reader: bytes.NewReader(bytes.Repeat([]byte{0}, 2000))}
	resp := &http.Response{
		Body:          body,
		ContentLength: -1,
		Header:        http.Header{"Content-Type": []string{"video/mp4"}},
		Request:       &http.Request{URL: &url.URL{Path: "/media/clip.mp4"}},
	}

	e := &endpoint{}
	u := newUploader(e, &recorder{}, nil)

	_, err := u.Upload(context.Background(), HTTPBody{Response: resp}, Options{Chunked: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2000, e.calls[0].args["total_bytes"])
	assert.Equal(t, CategoryVideo, e.calls[0].args["media_category"])
	assert.True(t, body.closed)
}

func TestDetectTypeFromExtension(t *testing.T) {
	src, err := open(Bytes{Data: bytes.Repeat([]byte{0}, 64), Filename: "photo.png"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", src.detectType())
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryGIF, category("image/gif"))
	assert.Equal(t, CategoryImage, category("image/png"))
	assert.Equal(t, CategoryImage, category("IMAGE/JPEG"))
	assert.Equal(t, CategoryVideo, category("video/mp4; codecs=avc1"))
	assert.Equal(t, "", category("text/plain"))
	assert.Equal(t, "", category("application/octet-stream"))
}

func TestAppendErrorStopsUpload(t *testing.T) {
	e := &endpoint{}
	fail := func(ctx context.Context, method string, args api.Args) (*api.Response, error) {
		if args["command"] == CommandAppend && args["segment_index"] == 1 {
			return nil, errs.New(errs.KindInternalServer, "boom")
		}
		return e.request(ctx, method, args)
	}
	u := New(fail, nil, logger.NewNopLogger())

	_, err := u.Upload(context.Background(), Bytes{Data: gif(3000)}, Options{Chunked: true, ChunkSize: 1024})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInternalServer))
	assert.True(t, strings.Contains(err.Error(), "segment 1"))
	assert.NotContains(t, e.commands(), CommandFinalize)
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}
