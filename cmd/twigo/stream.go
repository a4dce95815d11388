package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"twigo/pkg/api"
	"twigo/pkg/client"
	"twigo/pkg/events"
	"twigo/pkg/logger"
)

var (
	// Stream command flags
	track     []string
	follow    []string
	locations []string
	language  string
	rawOutput bool
	workers   int
)

var streamCmd = &cobra.Command{
	Use:   "stream [filter|sample]",
	Short: "Print messages from a streaming endpoint",
	Long: `Connect to a streaming endpoint and print every message until interrupted.

The connection is re-established automatically after network failures,
server errors and rate limiting. Reconnection notices are logged.`,
	Example: `  # Follow a keyword
  twigo stream filter --track golang

  # Print raw JSON from the sample stream
  twigo stream sample --raw`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"filter", "sample"},
	RunE:      runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamCmd.Flags().StringSliceVar(&track, "track", nil, "keywords to track")
	streamCmd.Flags().StringSliceVar(&follow, "follow", nil, "user ids to follow")
	streamCmd.Flags().StringSliceVar(&locations, "locations", nil, "bounding boxes as lon,lat pairs")
	streamCmd.Flags().StringVar(&language, "language", "", "only messages in this language")
	streamCmd.Flags().BoolVar(&rawOutput, "raw", false, "print messages as JSON")
	streamCmd.Flags().IntVar(&workers, "workers", 1, "number of concurrent handlers")
}

func runStream(cmd *cobra.Command, args []string) error {
	endpoint := "filter"
	if len(args) > 0 {
		endpoint = args[0]
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	params := api.Args{}
	if len(track) > 0 {
		params["track"] = track
	}
	if len(follow) > 0 {
		params["follow"] = follow
	}
	if len(locations) > 0 {
		params["locations"] = locations
	}
	if language != "" {
		params["language"] = language
	}

	method := http.MethodGet
	if endpoint == "filter" {
		if len(params) == 0 {
			return fmt.Errorf("filter needs at least one of --track, --follow or --locations")
		}
		method = http.MethodPost
	}

	printer := &messagePrinter{raw: rawOutput, log: logger.ForComponent(c.Logger(), "stream")}
	err = c.AddEventStream(client.EventStream{
		Method:   method,
		Path:     c.API("stream").Join("statuses", endpoint),
		Args:     params,
		Handlers: printer.registry(),
		Workers:  workers,
	})
	if err != nil {
		return err
	}

	printInfo("Streaming", "statuses/"+endpoint)
	return c.Run(cmd.Context())
}

// messagePrinter writes stream messages to stdout
type messagePrinter struct {
	raw bool
	log logger.Logger
	mu  sync.Mutex
}

func (p *messagePrinter) registry() *events.Registry {
	if p.raw {
		return events.NewRegistry(events.Handler{Name: "raw", Handle: p.printJSON})
	}
	return events.NewRegistry(
		events.Handler{Name: "tweet", Match: events.Tweet, Handle: p.printTweet},
		events.Handler{Name: "delete", Match: events.Delete, Handle: p.notice("status deleted")},
		events.Handler{Name: "limit", Match: events.Limit, Handle: p.notice("stream limited")},
		events.Handler{Name: "warning", Match: events.Warning, Priority: 1, Handle: p.notice("stall warning")},
		events.Handler{Name: "disconnect", Match: events.Disconnect, Priority: 1, Handle: p.notice("disconnect requested")},
		events.Handler{Name: "other", Handle: p.printJSON},
	)
}

func (p *messagePrinter) printTweet(_ context.Context, data map[string]any) error {
	text, _ := data["text"].(string)
	name := "unknown"
	if user, ok := data["user"].(map[string]any); ok {
		if s, ok := user["screen_name"].(string); ok {
			name = s
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(stdout(), "%s %s\n", cyan("@"+name+":"), strings.ReplaceAll(text, "\n", " "))
	return err
}

func (p *messagePrinter) printJSON(_ context.Context, data map[string]any) error {
	line, err := json.Marshal(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintln(stdout(), string(line))
	return err
}

func (p *messagePrinter) notice(msg string) events.HandlerFunc {
	return func(_ context.Context, data map[string]any) error {
		p.log.InfoWithFields(msg, data)
		return nil
	}
}
