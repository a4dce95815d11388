package mockapi

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Endpoint paths served by Server, relative to its URL
const (
	HomeTimelinePath = "/api/1.1/statuses/home_timeline.json"
	FollowersPath    = "/api/1.1/followers/ids.json"
	VerifyPath       = "/api/1.1/account/verify_credentials.json"
	FilterPath       = "/stream/1.1/statuses/filter.json"
	UploadPath       = "/upload/1.1/media/upload.json"
	TokenPath        = "/oauth2/token"
)

// BearerToken is the token handed out by the token endpoint
const BearerToken = "AAAAAAAAAAAAAAAAAAAAAMLheAAAAAAA0%2BuSeid%2BULvsea4JtiGRiSDSJSI%3DEUifiRBkKG5E2XzMDjRfl76ZC9Ub0wnz4XsNiRVBChTYbJcE3F"

// ErrorResponse is a canned failure for an endpoint
type ErrorResponse struct {
	Status  int
	Code    int
	Message string
	// Times is how many requests fail before the endpoint recovers; zero
	// means forever
	Times int
	// Reset is sent as X-Rate-Limit-Reset when set
	Reset time.Time
}

// StreamStep is one connection to the streaming endpoint: a non-200 Status
// fails the connect, otherwise Lines are written and the connection is
// closed unless Hold is set.
type StreamStep struct {
	Status int
	Lines  []string
	Hold   bool
}

// Segment is one APPEND received by the upload endpoint
type Segment struct {
	MediaID string
	Index   int
	Data    []byte
}

// Server simulates the REST, streaming and upload APIs
type Server struct {
	server *httptest.Server

	// TimelineSize and PageSize shape the timeline: ids 0..TimelineSize-1,
	// newest first
	TimelineSize int64
	PageSize     int64
	// Processing is the sequence of processing_info states reported after
	// FINALIZE; empty means no processing
	Processing []string
	// FailureMessage is sent with a "failed" processing state
	FailureMessage string

	requestCount  int32
	rateLimitHits int32

	mu          sync.Mutex
	errors      map[string]*ErrorResponse
	requests    []*http.Request
	streamSteps []StreamStep
	connects    int
	segments    []Segment
	statusPolls int
	nextMediaID int64
	hold        chan struct{}
}

// NewServer starts a mock server
func NewServer() *Server {
	m := &Server{
		TimelineSize:   1000,
		PageSize:       10,
		FailureMessage: "InvalidMedia",
		errors:         make(map[string]*ErrorResponse),
		nextMediaID:    710511363345354753,
		hold:           make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(HomeTimelinePath, m.handleTimeline)
	mux.HandleFunc(FollowersPath, m.handleFollowers)
	mux.HandleFunc(VerifyPath, m.handleVerify)
	mux.HandleFunc(FilterPath, m.handleStream)
	mux.HandleFunc(UploadPath, m.handleUpload)
	mux.HandleFunc(TokenPath, m.handleToken)

	m.server = httptest.NewServer(m.record(mux))
	return m
}

// URL returns the base URL of the server
func (m *Server) URL() string {
	return m.server.URL
}

// BaseTemplate returns an API base template pointing at the server
func (m *Server) BaseTemplate() string {
	return m.server.URL + "/{api}/{version}"
}

// Client returns an HTTP client for the server
func (m *Server) Client() *http.Client {
	return m.server.Client()
}

// Close releases held streams and shuts the server down
func (m *Server) Close() {
	m.mu.Lock()
	select {
	case <-m.hold:
	default:
		close(m.hold)
	}
	m.mu.Unlock()
	m.server.CloseClientConnections()
	m.server.Close()
}

func (m *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&m.requestCount, 1)

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		} else if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.requests = append(m.requests, r)
		failure := m.takeError(r.URL.Path)
		m.mu.Unlock()

		if failure != nil {
			m.sendError(w, failure)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// takeError returns the configured failure for path. m.mu must be held.
func (m *Server) takeError(path string) *ErrorResponse {
	e, ok := m.errors[path]
	if !ok {
		return nil
	}
	if e.Times > 0 {
		e.Times--
		if e.Times == 0 {
			delete(m.errors, path)
		}
	}
	out := *e
	return &out
}

func (m *Server) sendError(w http.ResponseWriter, e *ErrorResponse) {
	if e.Status == http.StatusTooManyRequests || e.Code == 88 {
		atomic.AddInt32(&m.rateLimitHits, 1)
	}
	if !e.Reset.IsZero() {
		w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(e.Reset.Unix(), 10))
	}
	body := map[string]any{}
	if e.Code != 0 || e.Message != "" {
		body["errors"] = []map[string]any{{"code": e.Code, "message": e.Message}}
	}
	writeJSON(w, e.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func intParam(r *http.Request, key string) (int64, bool) {
	v := r.Form.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

// handleTimeline pages through the timeline with since_id, max_id and
// count
func (m *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	count := m.PageSize
	if n, ok := intParam(r, "count"); ok && n > 0 {
		count = n
	}
	sinceID, hasSince := intParam(r, "since_id")
	maxID, hasMax := intParam(r, "max_id")

	from := m.TimelineSize - 1
	if hasMax {
		from = min(maxID, from)
	}
	to := from - count
	if hasSince && to < sinceID {
		to = sinceID
	}
	to = max(to, -1)

	tweets := []map[string]any{}
	for id := from; id > to; id-- {
		tweets = append(tweets, map[string]any{
			"id":     id,
			"id_str": strconv.FormatInt(id, 10),
			"text":   fmt.Sprintf("tweet %d", id),
		})
	}
	writeJSON(w, http.StatusOK, tweets)
}

// handleFollowers pages through follower ids with cursors
func (m *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	cursor, _ := intParam(r, "cursor")
	if cursor < 0 {
		cursor = 0
	}
	count := m.PageSize

	ids := []int64{}
	for id := cursor; id < min(cursor+count, m.TimelineSize); id++ {
		ids = append(ids, id)
	}
	next := cursor + count
	if next >= m.TimelineSize {
		next = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ids":                 ids,
		"next_cursor":         next,
		"next_cursor_str":     strconv.FormatInt(next, 10),
		"previous_cursor":     -cursor,
		"previous_cursor_str": strconv.FormatInt(-cursor, 10),
	})
}

func (m *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errors": []map[string]any{{"code": 215, "message": "Bad Authentication data."}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "screen_name": "twigo"})
}

func (m *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Form.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"errors": []map[string]any{{"code": 99, "message": "Unable to verify your credentials"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_type": "bearer", "access_token": BearerToken})
}

// SetStream queues the responses of the next connections to the streaming
// endpoint. Once the queue is empty, connections are held open with no
// data.
func (m *Server) SetStream(steps ...StreamStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamSteps = append(m.streamSteps, steps...)
}

func (m *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.connects++
	step := StreamStep{Hold: true}
	if len(m.streamSteps) > 0 {
		step = m.streamSteps[0]
		m.streamSteps = m.streamSteps[1:]
	}
	m.mu.Unlock()

	if step.Status != 0 && step.Status != http.StatusOK {
		w.WriteHeader(step.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, line := range step.Lines {
		io.WriteString(w, line+"\r\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
	if step.Hold {
		select {
		case <-r.Context().Done():
		case <-m.hold:
		}
	}
}

// handleUpload implements INIT, APPEND, FINALIZE and STATUS, and single
// request uploads without a command
func (m *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	command := r.FormValue("command")
	switch command {
	case "INIT":
		m.mu.Lock()
		id := m.nextMediaID
		m.nextMediaID++
		m.mu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]any{
			"media_id":           id,
			"media_id_string":    strconv.FormatInt(id, 10),
			"expires_after_secs": 86400,
		})

	case "APPEND":
		data, err := formFile(r, "media")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		index, _ := strconv.Atoi(r.FormValue("segment_index"))
		m.mu.Lock()
		m.segments = append(m.segments, Segment{MediaID: r.FormValue("media_id"), Index: index, Data: data})
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	case "FINALIZE":
		id := r.FormValue("media_id")
		resp := map[string]any{"media_id_string": id}
		if info := m.processingInfo(); info != nil {
			resp["processing_info"] = info
		}
		writeJSON(w, http.StatusCreated, resp)

	case "STATUS":
		m.mu.Lock()
		m.statusPolls++
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"media_id_string": r.FormValue("media_id"),
			"processing_info": m.processingInfo(),
		})

	case "":
		data, err := formFile(r, "media")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		m.mu.Lock()
		id := m.nextMediaID
		m.nextMediaID++
		m.segments = append(m.segments, Segment{MediaID: strconv.FormatInt(id, 10), Data: data})
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"media_id":        id,
			"media_id_string": strconv.FormatInt(id, 10),
			"size":            len(data),
		})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": []map[string]any{{"code": 324, "message": "unknown command " + command}},
		})
	}
}

// processingInfo pops the next processing state
func (m *Server) processingInfo() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Processing) == 0 {
		return nil
	}
	state := m.Processing[0]
	if len(m.Processing) > 1 {
		m.Processing = m.Processing[1:]
	}
	info := map[string]any{"state": state}
	switch state {
	case "pending", "in_progress":
		info["check_after_secs"] = 1
	case "failed":
		info["error"] = map[string]any{"code": 1, "name": "InvalidMedia", "message": m.FailureMessage}
	}
	return info
}

func formFile(r *http.Request, name string) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, fmt.Errorf("expected a multipart body, got %q", r.Header.Get("Content-Type"))
	}
	f, _, err := r.FormFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	_, err = io.Copy(&buf, f)
	return buf.Bytes(), err
}

// SetErrorResponse makes requests to path fail
func (m *Server) SetErrorResponse(path string, e ErrorResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[path] = &e
}

// ClearErrorResponse removes a configured failure
func (m *Server) ClearErrorResponse(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errors, path)
}

// Requests returns the requests received so far, optionally filtered by
// path
func (m *Server) Requests(path string) []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*http.Request
	for _, r := range m.requests {
		if path == "" || r.URL.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Segments returns the uploaded chunks
func (m *Server) Segments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Segment(nil), m.segments...)
}

// StatusPolls returns the number of STATUS requests
func (m *Server) StatusPolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusPolls
}

// Connects returns the number of connections made to the streaming
// endpoint
func (m *Server) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// RequestCount returns the total number of requests
func (m *Server) RequestCount() int {
	return int(atomic.LoadInt32(&m.requestCount))
}

// RateLimitHits returns the number of rate limit responses sent
func (m *Server) RateLimitHits() int {
	return int(atomic.LoadInt32(&m.rateLimitHits))
}

// MediaType returns the media type of a request body
func MediaType(r *http.Request) string {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt
}
