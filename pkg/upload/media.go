package upload

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Media categories understood by the upload endpoint
const (
	CategoryImage = "tweet_image"
	CategoryGIF   = "tweet_gif"
	CategoryVideo = "tweet_video"
)

// sniffLen is how much of the payload is inspected to detect its type
const sniffLen = 3072

// ErrUnsupportedMedia is returned for payloads that are not an image, a
// gif or a video
var ErrUnsupportedMedia = errors.New("upload: unsupported media type")

// Media is the payload of an upload: Bytes, Stream or HTTPBody
type Media interface {
	media()
}

// Bytes is an in-memory payload
type Bytes struct {
	Data     []byte
	Filename string
}

// Stream is a payload read from r. A Size of zero or less means unknown;
// it is then found by seeking when r is an io.Seeker, or by buffering.
type Stream struct {
	Reader   io.Reader
	Size     int64
	Filename string
}

// HTTPBody is a payload downloaded from elsewhere. The body is closed when
// the upload ends.
type HTTPBody struct {
	Response *http.Response
}

func (Bytes) media()    {}
func (Stream) media()   {}
func (HTTPBody) media() {}

// source is a payload ready to be read
type source struct {
	reader   *bufio.Reader
	size     int64
	filename string
	// mimeType is a type announced by the origin, if any
	mimeType string
	close    func() error
}

func open(m Media) (*source, error) {
	var (
		r        io.Reader
		size     int64
		filename string
		mimeType string
		closer   func() error
	)

	switch m := m.(type) {
	case Bytes:
		r, size, filename = bytes.NewReader(m.Data), int64(len(m.Data)), m.Filename
	case *Bytes:
		return open(*m)
	case Stream:
		if m.Reader == nil {
			return nil, errors.New("upload: stream has no reader")
		}
		r, size, filename = m.Reader, m.Size, m.Filename
		if size <= 0 {
			if s, ok := m.Reader.(io.Seeker); ok {
				n, err := seekSize(s)
				if err != nil {
					return nil, err
				}
				size = n
			}
		}
	case *Stream:
		return open(*m)
	case HTTPBody:
		resp := m.Response
		if resp == nil || resp.Body == nil {
			return nil, errors.New("upload: http body is empty")
		}
		r, size, closer = resp.Body, resp.ContentLength, resp.Body.Close
		if resp.Request != nil && resp.Request.URL != nil {
			filename = path.Base(resp.Request.URL.Path)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err == nil {
				mimeType = mt
			}
		}
	case *HTTPBody:
		return open(*m)
	default:
		return nil, fmt.Errorf("upload: unknown media %T", m)
	}

	if size <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			if closer != nil {
				closer()
			}
			return nil, fmt.Errorf("upload: failed to read media: %w", err)
		}
		r, size = bytes.NewReader(data), int64(len(data))
	}
	if closer == nil {
		closer = func() error { return nil }
	}

	return &source{
		reader:   bufio.NewReaderSize(r, sniffLen),
		size:     size,
		filename: filename,
		mimeType: mimeType,
		close:    closer,
	}, nil
}

// seekSize returns the bytes left after the current position
func seekSize(s io.Seeker) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("upload: failed to seek media: %w", err)
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("upload: failed to seek media: %w", err)
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("upload: failed to seek media: %w", err)
	}
	return end - cur, nil
}

// detectType sniffs the payload, falling back to the announced type and
// then to the file extension
func (s *source) detectType() string {
	prefix, _ := s.reader.Peek(sniffLen)
	if len(prefix) > 0 {
		detected := mimetype.Detect(prefix)
		if category(detected.String()) != "" {
			return detected.String()
		}
	}
	if s.mimeType != "" {
		return s.mimeType
	}
	if ext := filepath.Ext(s.filename); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			if mt, _, err := mime.ParseMediaType(t); err == nil {
				return mt
			}
		}
	}
	return "application/octet-stream"
}

// category maps a MIME type to a media category, or "" if unsupported
func category(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch {
	case mimeType == "image/gif":
		return CategoryGIF
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	}
	return ""
}
