package pagination

import (
	"context"
	"fmt"

	"twigo/pkg/api"
)

// Request performs one API call
type Request func(ctx context.Context, args api.Args) (*api.Response, error)

// Objects adapts a request answering with a JSON array of objects
func Objects(req Request) FetchFunc[map[string]any] {
	return func(ctx context.Context, args api.Args) ([]map[string]any, error) {
		resp, err := req(ctx, args)
		if err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, nil
		}
		list, ok := resp.Data.([]any)
		if !ok {
			return nil, fmt.Errorf("expected a JSON array from %s, got %T", resp.URL, resp.Data)
		}
		items := make([]map[string]any, 0, len(list))
		for _, v := range list {
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected JSON objects from %s, got %T", resp.URL, v)
			}
			items = append(items, obj)
		}
		return items, nil
	}
}

// ObjectID reads the "id" field of a decoded object
func ObjectID(item map[string]any) int64 {
	id, _ := api.Int(item["id"])
	return id
}

// NextCursor reads "next_cursor" from a cursored response. A missing field
// ends the iteration.
func NextCursor(resp *api.Response) int64 {
	n, _ := api.Int(resp.Object()["next_cursor"])
	return n
}
