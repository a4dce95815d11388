package client

import (
	"context"
	"fmt"
	"net/http"

	"twigo/pkg/api"
	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
	"twigo/pkg/pagination"
	"twigo/pkg/stream"
	"twigo/pkg/upload"
)

// Stream opens a streaming endpoint. The connection is established on the
// first call to Next and re-established after failures until it is closed.
func (c *Client) Stream(method string, path api.Path, args api.Args) (*stream.Conn, error) {
	if !path.Streaming() {
		return nil, fmt.Errorf("client: %s is not a streaming endpoint", path)
	}
	if _, err := api.Sanitize(args); err != nil {
		return nil, err
	}
	args, err := args.Buffered()
	if err != nil {
		return nil, err
	}

	log := logger.ForComponent(c.logger, "stream")
	connector := func(ctx context.Context) (*http.Response, error) {
		req, err := api.NewRequest(method, path, args)
		if err != nil {
			return nil, err
		}
		hr, err := c.prepare(ctx, req)
		if err != nil {
			return nil, err
		}
		log.InfoWithFields("connecting to stream", map[string]interface{}{
			"method": method,
			"url":    req.URL,
		})
		return c.streamHTTP.Do(hr)
	}

	opts := stream.OptionsFromConfig(&c.cfg.Stream)
	opts.Logger = log
	return stream.New(connector, opts), nil
}

// Upload sends media to the upload API
func (c *Client) Upload(ctx context.Context, media upload.Media, opts upload.Options) (*api.Response, error) {
	endpoint := c.API("upload").Join("media", "upload")
	request := func(ctx context.Context, method string, args api.Args) (*api.Response, error) {
		return c.Request(ctx, method, endpoint, args)
	}
	return upload.New(request, &c.cfg.Upload, c.logger).Upload(ctx, media, opts)
}

// MediaID returns the id of an uploaded media
func MediaID(resp *api.Response) (string, error) {
	obj := resp.Object()
	if id, ok := api.String(obj["media_id_string"]); ok && id != "" {
		return id, nil
	}
	if id, ok := api.Int(obj["media_id"]); ok {
		return fmt.Sprint(id), nil
	}
	return "", errs.NewDecodeError(nil, fmt.Errorf("response from %s has no media_id", resp.URL))
}

func (c *Client) pageRequest(method string, path api.Path) pagination.Request {
	return func(ctx context.Context, args api.Args) (*api.Response, error) {
		return c.Request(ctx, method, path, args)
	}
}

// MaxID pages backwards through a timeline endpoint
func (c *Client) MaxID(path api.Path, args api.Args) *pagination.MaxID[map[string]any] {
	fetch := pagination.Objects(c.pageRequest(http.MethodGet, path))
	return pagination.NewMaxID(fetch, pagination.ObjectID, args)
}

// SinceID polls a timeline endpoint for items newer than the last page. Set
// "_fill_gaps" in args to page back to the previous newest item, and
// "_force" to return empty pages instead of waiting.
func (c *Client) SinceID(path api.Path, args api.Args) *pagination.SinceID[map[string]any] {
	fetch := pagination.Objects(c.pageRequest(http.MethodGet, path))
	return pagination.NewSinceID(fetch, pagination.ObjectID, args)
}

// Cursor follows next_cursor through a cursored endpoint
func (c *Client) Cursor(path api.Path, args api.Args) *pagination.Cursor[*api.Response] {
	return pagination.NewCursor(c.pageRequest(http.MethodGet, path), pagination.NextCursor, args)
}
