package pagination

import (
	"context"
	"errors"
	"iter"

	"twigo/pkg/api"
)

// Done is returned by Next when there are no more pages
var Done = errors.New("pagination: no more pages")

// FetchFunc requests one page of items
type FetchFunc[T any] func(ctx context.Context, args api.Args) ([]T, error)

// IDFunc returns the numeric id of an item
type IDFunc[T any] func(item T) int64

// pager is implemented by every iterator
type pager[P any] interface {
	Next(ctx context.Context) (P, error)
}

func all[P any](ctx context.Context, p pager[P]) iter.Seq2[P, error] {
	return func(yield func(P, error) bool) {
		for {
			page, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// flag removes a boolean option from args
func flag(args api.Args, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	delete(args, key)
	b, _ := v.(bool)
	return b
}

// MaxID walks a timeline backwards: after each page max_id is set to the
// last item's id minus one. It stops on an empty page.
type MaxID[T any] struct {
	fetch FetchFunc[T]
	id    IDFunc[T]
	args  api.Args
	done  bool
}

// NewMaxID creates a max_id iterator. args may hold an initial max_id.
func NewMaxID[T any](fetch FetchFunc[T], id IDFunc[T], args api.Args) *MaxID[T] {
	return &MaxID[T]{fetch: fetch, id: id, args: args.Clone()}
}

// Next fetches the next page
func (it *MaxID[T]) Next(ctx context.Context) ([]T, error) {
	if it.done {
		return nil, Done
	}

	page, err := it.fetch(ctx, it.args.Clone())
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		it.done = true
		return nil, Done
	}

	it.args["max_id"] = it.id(page[len(page)-1]) - 1
	return page, nil
}

// All ranges over the remaining pages
func (it *MaxID[T]) All(ctx context.Context) iter.Seq2[[]T, error] {
	return all[[]T](ctx, it)
}

// SinceID follows a timeline forwards: after each page since_id is set to
// the first (newest) item's id.
//
// With FillGaps, the request asks for one id below the boundary so that the
// boundary item comes back once the page reaches it. When it does not, the
// missing range is fetched with max_id requests bounded by the boundary
// before the page is returned. Items at or below the boundary are removed
// from the returned page.
//
// An empty page ends the iteration unless Force is set, in which case it is
// returned and the next call asks again.
type SinceID[T any] struct {
	FillGaps bool
	Force    bool

	fetch    FetchFunc[T]
	id       IDFunc[T]
	args     api.Args
	boundary int64
	bounded  bool
	done     bool
}

// NewSinceID creates a since_id iterator. The "_fill_gaps" and "_force"
// options of args set FillGaps and Force.
func NewSinceID[T any](fetch FetchFunc[T], id IDFunc[T], args api.Args) *SinceID[T] {
	args = args.Clone()
	it := &SinceID[T]{
		FillGaps: flag(args, "_fill_gaps"),
		Force:    flag(args, "_force"),
		fetch:    fetch,
		id:       id,
		args:     args,
	}
	if v, ok := args["since_id"]; ok {
		if n, ok := api.Int(v); ok {
			it.boundary, it.bounded = n, true
		}
	}
	return it
}

// Next fetches the next page
func (it *SinceID[T]) Next(ctx context.Context) ([]T, error) {
	if it.done {
		return nil, Done
	}

	args := it.args.Clone()
	if it.bounded {
		args["since_id"] = it.boundary
		if it.FillGaps {
			args["since_id"] = it.boundary - 1
		}
	}

	page, err := it.fetch(ctx, args)
	if err != nil {
		return nil, err
	}

	if len(page) > 0 {
		if it.FillGaps && it.bounded {
			page, err = it.fillGaps(ctx, page)
			if err != nil {
				return nil, err
			}
		}
		newest := it.id(page[0])
		page = it.above(page)
		if newest > it.boundary || !it.bounded {
			it.boundary, it.bounded = newest, true
		}
	}

	if len(page) == 0 && !it.Force {
		it.done = true
		return nil, Done
	}
	return page, nil
}

// fillGaps extends page downwards until it reaches the boundary or the
// server runs out of items
func (it *SinceID[T]) fillGaps(ctx context.Context, page []T) ([]T, error) {
	last := it.id(page[len(page)-1])
	for last > it.boundary {
		args := it.args.Clone()
		args["since_id"] = it.boundary - 1
		args["max_id"] = last - 1

		more, err := it.fetch(ctx, args)
		if err != nil {
			return nil, err
		}
		if len(more) == 0 {
			break
		}
		next := it.id(more[len(more)-1])
		if next >= last {
			break
		}
		page = append(page, more...)
		last = next
	}
	return page, nil
}

// above keeps the items newer than the boundary
func (it *SinceID[T]) above(page []T) []T {
	if !it.bounded {
		return page
	}
	kept := page[:0:0]
	for _, item := range page {
		if it.id(item) > it.boundary {
			kept = append(kept, item)
		}
	}
	return kept
}

// All ranges over the remaining pages. With Force the sequence only ends
// on error or when the loop breaks.
func (it *SinceID[T]) All(ctx context.Context) iter.Seq2[[]T, error] {
	return all[[]T](ctx, it)
}

// Cursor follows next_cursor values. The first request sends cursor -1
// unless args holds one; iteration stops when the server answers with a
// next cursor of 0.
type Cursor[P any] struct {
	fetch  func(ctx context.Context, args api.Args) (P, error)
	next   func(page P) int64
	args   api.Args
	cursor int64
}

// NewCursor creates a cursor iterator. next extracts the next cursor from a
// page.
func NewCursor[P any](fetch func(ctx context.Context, args api.Args) (P, error), next func(page P) int64, args api.Args) *Cursor[P] {
	args = args.Clone()
	cursor := int64(-1)
	if v, ok := args["cursor"]; ok {
		if n, ok := api.Int(v); ok {
			cursor = n
		}
	}
	return &Cursor[P]{fetch: fetch, next: next, args: args, cursor: cursor}
}

// Next fetches the next page
func (it *Cursor[P]) Next(ctx context.Context) (P, error) {
	var zero P
	if it.cursor == 0 {
		return zero, Done
	}

	args := it.args.Clone()
	args["cursor"] = it.cursor
	page, err := it.fetch(ctx, args)
	if err != nil {
		return zero, err
	}
	it.cursor = it.next(page)
	return page, nil
}

// All ranges over the remaining pages
func (it *Cursor[P]) All(ctx context.Context) iter.Seq2[P, error] {
	return all[P](ctx, it)
}
