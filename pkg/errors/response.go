package errors

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"twigo/pkg/api"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 1 << 20

// FromResponse reads and closes the body of a non-2xx response and turns it
// into a classified error. A structured error in the body decides the kind
// when its code is known.
func FromResponse(resp *http.Response) *Error {
	e := &Error{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Message:    http.StatusText(resp.StatusCode),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		e.URL = resp.Request.URL.String()
	}

	if resp.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if err != nil {
			e.Err = err
		}
		e.Raw = raw
	}

	if len(bytes.TrimSpace(e.Raw)) > 0 {
		if data, err := api.DecodeJSON(e.Raw); err == nil {
			e.Data = data
			if code, msg, ok := extractError(data); ok {
				e.APICode = code
				if msg != "" {
					e.Message = msg
				}
			}
		} else if text := strings.TrimSpace(string(e.Raw)); text != "" {
			e.Message = text
		}
	}

	e.Kind = Classify(e.StatusCode, e.APICode)
	return e
}

// extractError finds the first error object in a decoded body. Both
// {"errors":[{"code":..,"message":..}]} and {"error":{..}} layouts are
// understood, as is a plain {"error":"text"}.
func extractError(data any) (int, string, bool) {
	obj, ok := data.(map[string]any)
	if !ok {
		return 0, "", false
	}
	if list, ok := obj["errors"].([]any); ok && len(list) > 0 {
		return errorFields(list[0])
	}
	switch v := obj["error"].(type) {
	case map[string]any:
		return errorFields(v)
	case string:
		return 0, v, true
	}
	return 0, "", false
}

func errorFields(v any) (int, string, bool) {
	fields, ok := v.(map[string]any)
	if !ok {
		return 0, "", false
	}
	msg, _ := fields["message"].(string)
	switch code := fields["code"].(type) {
	case json.Number:
		n, err := code.Int64()
		if err == nil {
			return int(n), msg, true
		}
	case float64:
		return int(code), msg, true
	}
	return 0, msg, true
}
