package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Request is a fully resolved call: method, URL and coerced parameters.
// Requests are built per call and are not reused.
type Request struct {
	Method     string
	URL        string
	Params     url.Values
	Files      map[string]io.Reader
	Options    map[string]any
	SkipParams bool
	Header     http.Header
	// JSON sends Params as a JSON object body instead of a form.
	JSON bool
}

// NewRequest builds a request for path from args. The "_suffix", "_headers",
// "_json" and "_skip_params" options are applied here; others are left in
// Options for the caller.
func NewRequest(method string, path Path, args Args) (*Request, error) {
	s, err := Sanitize(args)
	if err != nil {
		return nil, err
	}

	if suffix, ok := s.Options["suffix"].(string); ok {
		path = path.WithSuffix(suffix)
	}

	req := &Request{
		Method:     strings.ToUpper(method),
		URL:        path.URL(),
		Params:     s.Params,
		Files:      s.Files,
		Options:    s.Options,
		SkipParams: s.SkipParams,
		Header:     make(http.Header),
	}

	switch h := s.Options["headers"].(type) {
	case http.Header:
		for k, v := range h {
			req.Header[k] = append([]string(nil), v...)
		}
	case map[string]string:
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}
	if v, ok := s.Options["json"].(bool); ok {
		req.JSON = v
	}
	if v, ok := s.Options["skip_params"].(bool); ok {
		req.SkipParams = req.SkipParams || v
	}
	return req, nil
}

// Timeout returns the "_timeout" option, if one was given.
func (r *Request) Timeout() (time.Duration, bool) {
	switch v := r.Options["timeout"].(type) {
	case time.Duration:
		return v, true
	case int:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	}
	return 0, false
}

// hasBody reports whether parameters travel in the body.
func (r *Request) hasBody() bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// SignedForm returns the body parameters that belong in an OAuth signature
// base: form-encoded bodies only.
func (r *Request) SignedForm() url.Values {
	if !r.hasBody() || r.JSON || r.SkipParams || len(r.Files) > 0 {
		return nil
	}
	return r.Params
}

// HTTPRequest renders the request for transport. GET-like methods carry
// parameters in the query string; others carry them in a form, JSON or
// multipart body.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url: %w", err)
	}

	var body io.Reader
	contentType := ""

	switch {
	case !r.hasBody():
		if len(r.Params) > 0 {
			q := u.Query()
			for k, v := range r.Params {
				q[k] = v
			}
			u.RawQuery = q.Encode()
		}
	case len(r.Files) > 0:
		buf, ct, err := r.multipartBody()
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case r.JSON:
		fields := make(map[string]string, len(r.Params))
		for k := range r.Params {
			fields[k] = r.Params.Get(k)
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json body: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	default:
		body = strings.NewReader(r.Params.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range r.Header {
		req.Header[k] = append([]string(nil), v...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// multipartBody writes parameters as fields followed by binary parts, in
// sorted key order so that bodies are reproducible.
func (r *Request) multipartBody() (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, r.Params.Get(k)); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	names := make([]string, 0, len(r.Files))
	for k := range r.Files {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		part, err := w.CreateFormFile(name, name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", name, err)
		}
		if _, err := io.Copy(part, r.Files[name]); err != nil {
			return nil, "", fmt.Errorf("failed to write part %s: %w", name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
