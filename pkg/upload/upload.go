package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"twigo/pkg/api"
	"twigo/pkg/config"
	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
	"twigo/pkg/retry"
)

// Upload commands
const (
	CommandInit     = "INIT"
	CommandAppend   = "APPEND"
	CommandFinalize = "FINALIZE"
	CommandStatus   = "STATUS"
)

// Processing states reported in processing_info
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

// defaultCheckAfter is used when processing_info has no check_after_secs
const defaultCheckAfter = time.Second

// Requester sends one request to the media upload endpoint
type Requester func(ctx context.Context, method string, args api.Args) (*api.Response, error)

// Options overrides the configured behaviour of a single upload
type Options struct {
	// MediaType skips type detection when set
	MediaType string
	// Category skips the category mapping when set
	Category string
	// ChunkSize defaults to the configured chunk size
	ChunkSize int
	// Chunked forces the chunked path for small media
	Chunked bool
}

// Uploader sends media to the upload endpoint
type Uploader struct {
	request Requester
	cfg     config.UploadConfig
	log     logger.Logger

	// Sleep replaces retry.Wait between STATUS polls; used by tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates an uploader. A nil cfg uses the defaults.
func New(request Requester, cfg *config.UploadConfig, log logger.Logger) *Uploader {
	if cfg == nil {
		cfg = &config.DefaultConfig().Upload
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Uploader{
		request: request,
		cfg:     *cfg,
		log:     logger.ForComponent(log, "upload"),
		Sleep:   retry.Wait,
	}
}

// Upload sends media and returns the server response. Media larger than the
// size limit, or any media when chunked uploads are forced, goes through
// INIT, APPEND and FINALIZE; the returned response is then the INIT
// response with the final processing_info.
func (u *Uploader) Upload(ctx context.Context, media Media, opts Options) (*api.Response, error) {
	src, err := open(media)
	if err != nil {
		return nil, err
	}
	defer src.close()

	mediaType := opts.MediaType
	if mediaType == "" {
		mediaType = src.detectType()
	}
	cat := opts.Category
	if cat == "" {
		cat = category(mediaType)
		if cat == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mediaType)
		}
	}

	chunked := opts.Chunked || u.cfg.ForceChunked || src.size > u.cfg.SizeLimit
	if !chunked {
		u.log.DebugWithFields("uploading media", map[string]interface{}{
			"size":       src.size,
			"media_type": mediaType,
		})
		data, err := io.ReadAll(src.reader)
		if err != nil {
			return nil, fmt.Errorf("upload: failed to read media: %w", err)
		}
		return u.request(ctx, http.MethodPost, api.Args{"media": data})
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = u.cfg.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = config.DefaultConfig().Upload.ChunkSize
	}
	return u.chunked(ctx, src, mediaType, cat, chunkSize)
}

func (u *Uploader) chunked(ctx context.Context, src *source, mediaType, cat string, chunkSize int) (*api.Response, error) {
	initResp, err := u.request(ctx, http.MethodPost, api.Args{
		"command":        CommandInit,
		"total_bytes":    src.size,
		"media_type":     mediaType,
		"media_category": cat,
	})
	if err != nil {
		return nil, fmt.Errorf("upload init failed: %w", err)
	}

	mediaID, err := responseMediaID(initResp)
	if err != nil {
		return nil, err
	}
	log := u.log.WithFields(map[string]interface{}{
		"media_id":   mediaID,
		"media_type": mediaType,
		"category":   cat,
		"size":       src.size,
	})
	log.Debug("upload initialized")

	segments, err := u.appendChunks(ctx, src, mediaID, chunkSize)
	if err != nil {
		return nil, err
	}
	log.DebugWithFields("media appended", map[string]interface{}{"segments": segments})

	finalResp, err := u.request(ctx, http.MethodPost, api.Args{
		"command":  CommandFinalize,
		"media_id": mediaID,
	})
	if err != nil {
		return nil, fmt.Errorf("upload finalize failed: %w", err)
	}

	info, err := u.waitProcessing(ctx, log, mediaID, processingInfo(finalResp))
	if err != nil {
		return nil, err
	}

	if info != nil {
		if obj := initResp.Object(); obj != nil {
			obj["processing_info"] = info
		}
	}
	log.Info("media uploaded")
	return initResp, nil
}

// appendChunks sends the payload in segments, reading the next segment
// while the current one is in flight. It returns the number of segments.
func (u *Uploader) appendChunks(ctx context.Context, src *source, mediaID string, chunkSize int) (int, error) {
	bufs := [2][]byte{make([]byte, chunkSize), make([]byte, chunkSize)}

	current, err := readChunk(src.reader, bufs[0])
	if err != nil {
		return 0, err
	}

	index := 0
	for len(current) > 0 {
		var next []byte
		g, gctx := errgroup.WithContext(ctx)

		chunk, segment := current, index
		g.Go(func() error {
			_, err := u.request(gctx, http.MethodPost, api.Args{
				"command":       CommandAppend,
				"media_id":      mediaID,
				"segment_index": segment,
				"media":         chunk,
			})
			if err != nil {
				return fmt.Errorf("upload append of segment %d failed: %w", segment, err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			next, err = readChunk(src.reader, bufs[(segment+1)%2])
			return err
		})
		if err := g.Wait(); err != nil {
			return index, err
		}

		current = next
		index++
	}
	return index, nil
}

// readChunk fills buf as far as the payload allows. An empty result means
// the payload is exhausted.
func readChunk(r io.Reader, buf []byte) ([]byte, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("upload: failed to read media: %w", err)
	}
	return buf[:n], nil
}

// waitProcessing polls STATUS until processing succeeds or fails. It
// returns the last processing_info, or nil if the server never sent one.
func (u *Uploader) waitProcessing(ctx context.Context, log logger.Logger, mediaID string, info map[string]any) (map[string]any, error) {
	for info != nil {
		state, _ := info["state"].(string)
		switch state {
		case StateSucceeded:
			return info, nil
		case StateFailed:
			return nil, errs.NewProcessingError(processingMessage(info), info)
		}

		delay := defaultCheckAfter
		if secs, ok := api.Int(info["check_after_secs"]); ok {
			delay = time.Duration(secs) * time.Second
		}
		log.DebugWithFields("media processing", map[string]interface{}{
			"state":       state,
			"check_after": delay.String(),
		})
		if err := u.Sleep(ctx, delay); err != nil {
			return nil, err
		}

		resp, err := u.request(ctx, http.MethodGet, api.Args{
			"command":  CommandStatus,
			"media_id": mediaID,
		})
		if err != nil {
			return nil, fmt.Errorf("upload status failed: %w", err)
		}
		info = processingInfo(resp)
		if info == nil {
			return nil, errs.NewProcessingError("status response has no processing_info", resp.Data)
		}
	}
	return nil, nil
}

func processingInfo(resp *api.Response) map[string]any {
	if resp == nil {
		return nil
	}
	info, _ := resp.Object()["processing_info"].(map[string]any)
	return info
}

func processingMessage(info map[string]any) string {
	if e, ok := info["error"].(map[string]any); ok {
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return "media processing failed"
}

// responseMediaID reads the media id, preferring its string form
func responseMediaID(resp *api.Response) (string, error) {
	obj := resp.Object()
	if id, ok := api.String(obj["media_id_string"]); ok && id != "" {
		return id, nil
	}
	if id, ok := api.Int(obj["media_id"]); ok {
		return strconv.FormatInt(id, 10), nil
	}
	return "", errs.NewDecodeError(nil, errors.New("upload init response has no media_id"))
}
