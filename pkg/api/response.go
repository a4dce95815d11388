package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
)

// Response is the outcome of a single request. Data holds the decoded JSON
// body (objects as map[string]any, numbers as json.Number), the text of a
// text body, or raw bytes for anything else.
type Response struct {
	Data       any
	Header     http.Header
	URL        string
	StatusCode int
	Request    *Request
}

// Object returns Data as a JSON object, or nil.
func (r *Response) Object() map[string]any {
	m, _ := r.Data.(map[string]any)
	return m
}

// List returns Data as a JSON array, or nil.
func (r *Response) List() []any {
	l, _ := r.Data.([]any)
	return l
}

// Decode re-encodes Data into v.
func (r *Response) Decode(v any) error {
	return Remarshal(r.Data, v)
}

// Remarshal converts decoded JSON into a typed value.
func Remarshal(data any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(v)
}

// ErrTrailingData is returned by DecodeJSON when more input follows the
// first JSON value.
var ErrTrailingData = errors.New("invalid character after top-level JSON value")

// DecodeJSON parses raw as a single JSON value into generic values, keeping
// numbers exact. Anything but whitespace after the value is an error.
func DecodeJSON(raw []byte) (any, error) {
	var data any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return data, nil
}

// Int extracts an integer from a decoded JSON value.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

// String extracts a string from a decoded JSON value. Numbers are rendered
// in decimal.
func String(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	}
	return "", false
}
