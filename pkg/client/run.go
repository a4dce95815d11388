package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"twigo/internal/dispatch"
	"twigo/pkg/api"
	"twigo/pkg/events"
	"twigo/pkg/stream"
)

// recentIDs is how many message ids an event stream remembers to drop
// redeliveries after a reconnect
const recentIDs = 1000

// Task is a long-running job started by Run
type Task func(ctx context.Context) error

// EventStream routes the messages of a streaming endpoint to handlers
type EventStream struct {
	Method string
	Path   api.Path
	Args   api.Args
	// Handlers receives every data message
	Handlers *events.Registry
	// Workers is the number of concurrent handlers, at least one
	Workers int
}

// AddTask registers a task for Run
func (c *Client) AddTask(task Task) {
	c.tasks = append(c.tasks, task)
}

// AddEventStream registers an event stream for Run
func (c *Client) AddEventStream(es EventStream) error {
	if !es.Path.Streaming() {
		return fmt.Errorf("client: %s is not a streaming endpoint", es.Path)
	}
	if es.Handlers == nil {
		return errors.New("client: event stream has no handlers")
	}
	if es.Method == "" {
		es.Method = http.MethodGet
	}
	c.streams = append(c.streams, es)
	return nil
}

// Run runs the registered tasks and event streams until ctx is done or one
// of them fails. Cancellation of ctx is a clean shutdown.
func (c *Client) Run(ctx context.Context) error {
	if len(c.tasks) == 0 && len(c.streams) == 0 {
		return errors.New("client: nothing to run")
	}

	c.logger.InfoWithFields("starting client", map[string]interface{}{
		"tasks":   len(c.tasks),
		"streams": len(c.streams),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range c.tasks {
		g.Go(func() error { return task(gctx) })
	}
	for _, es := range c.streams {
		g.Go(func() error { return c.runEventStream(gctx, es) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	if err != nil {
		c.logger.WithError(err).Error("client stopped")
		return err
	}
	c.logger.Info("client stopped")
	return nil
}

func (c *Client) runEventStream(ctx context.Context, es EventStream) error {
	conn, err := c.Stream(es.Method, es.Path, es.Args)
	if err != nil {
		return err
	}
	defer conn.Close()

	log := c.logger.WithField("stream", es.Path.String())
	pool := dispatch.NewWorkerPool(es.Workers, es.Handlers, dispatch.NewRecentIDs(recentIDs), nil, log)
	pool.Start()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for result := range pool.Results() {
			if result.Err == nil && !result.Duplicate && result.Handler == "" {
				log.DebugWithFields("unhandled message", map[string]interface{}{
					"seq": result.Job.Seq,
				})
			}
		}
	}()

	var seq int64
	err = func() error {
		for ev, err := range conn.All(ctx) {
			if err != nil {
				return err
			}
			switch ev.Type {
			case stream.EventData:
				data := ev.Object()
				if data == nil {
					log.DebugWithFields("skipping non-object message", map[string]interface{}{
						"raw": string(ev.Raw),
					})
					continue
				}
				seq++
				if err := pool.Submit(ctx, dispatch.Job{Data: data, Seq: seq}); err != nil {
					return err
				}
			case stream.EventReconnecting:
				fields := map[string]interface{}{"reconnecting_in": ev.ReconnectingIn.String()}
				if ev.Err != nil {
					log.WithError(ev.Err).WarnWithFields("stream interrupted", fields)
				} else {
					log.InfoWithFields("stream interrupted", fields)
				}
			case stream.EventRestart:
				log.Info("stream restarted")
			}
		}
		return ctx.Err()
	}()

	if err != nil {
		pool.Abort()
	}
	pool.Stop()
	<-drained
	return err
}
