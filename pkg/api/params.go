package api

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Args are the keyword arguments of a request. Keys starting with an
// underscore are transport options; every other key becomes a request
// parameter.
type Args map[string]any

// Clone returns a shallow copy of the arguments.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Buffered returns a copy of the arguments in which every io.Reader
// parameter has been read into memory. The copy can build any number of
// requests with identical bodies, which a reader cannot.
func (a Args) Buffered() (Args, error) {
	out := a.Clone()
	for key, value := range a {
		if strings.HasPrefix(key, "_") {
			continue
		}
		r, ok := value.(io.Reader)
		if !ok {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		out[key] = data
	}
	return out, nil
}

// Sanitized is the result of splitting and coercing Args.
type Sanitized struct {
	Params  url.Values
	Files   map[string]io.Reader
	Options map[string]any
	// SkipParams is set when a value is binary. Such requests are sent as
	// multipart bodies whose fields are left out of the signature base.
	SkipParams bool
}

// Sanitize separates transport options from parameters and coerces every
// parameter to its wire form. Nil values are dropped.
func Sanitize(args Args) (*Sanitized, error) {
	s := &Sanitized{
		Params:  make(url.Values),
		Files:   make(map[string]io.Reader),
		Options: make(map[string]any),
	}

	for key, value := range args {
		if name, ok := strings.CutPrefix(key, "_"); ok {
			s.Options[name] = value
			continue
		}
		if value == nil {
			continue
		}

		switch v := value.(type) {
		case io.Reader:
			s.Files[key] = v
			s.SkipParams = true
			continue
		case []byte:
			s.Files[key] = bytes.NewReader(v)
			s.SkipParams = true
			continue
		}

		str, ok, err := FormatValue(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		if ok {
			s.Params.Set(key, str)
		}
	}
	return s, nil
}

// FormatValue renders a single parameter value. Booleans become "true" or
// "false" and lists become comma-joined strings. The second result is false
// for values that must be omitted.
func FormatValue(value any) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case int:
		return strconv.Itoa(v), true, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), true, nil
	case int64:
		return strconv.FormatInt(v, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), true, nil
	case uint64:
		return strconv.FormatUint(v, 10), true, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true, nil
	case fmt.Stringer:
		return v.String(), true, nil
	case []string:
		return strings.Join(v, ","), true, nil
	case []int:
		return joinFormatted(v)
	case []int64:
		return joinFormatted(v)
	case []any:
		return joinFormatted(v)
	default:
		return "", false, fmt.Errorf("unsupported type %T", value)
	}
}

func joinFormatted[T any](items []T) (string, bool, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		str, ok, err := FormatValue(item)
		if err != nil {
			return "", false, err
		}
		if ok {
			parts = append(parts, str)
		}
	}
	return strings.Join(parts, ","), true, nil
}
