package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"twigo/pkg/api"
)

var (
	// Timeline command flags
	timelineCount int
	timelinePages int
	screenName    string
	sinceID       int64
	timelineJSON  bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline [home|user|mentions]",
	Short: "Page backwards through a timeline",
	Long: `Fetch a timeline newest first, following max_id from page to page.

Rate limits are waited out and the request is retried.`,
	Example: `  # Last 400 tweets of the home timeline
  twigo timeline home --count 200 --pages 2

  # A user's tweets since a known id
  twigo timeline user --screen-name golang --since-id 1234567890`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"home", "user", "mentions"},
	RunE:      runTimeline,
}

func init() {
	rootCmd.AddCommand(timelineCmd)

	timelineCmd.Flags().IntVar(&timelineCount, "count", 200, "items per page")
	timelineCmd.Flags().IntVar(&timelinePages, "pages", 1, "maximum number of pages, 0 for all")
	timelineCmd.Flags().StringVar(&screenName, "screen-name", "", "user for the user timeline")
	timelineCmd.Flags().Int64Var(&sinceID, "since-id", 0, "only items newer than this id")
	timelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "print items as JSON")
}

func runTimeline(cmd *cobra.Command, args []string) error {
	name := "home"
	if len(args) > 0 {
		name = args[0]
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	params := api.Args{"count": timelineCount}
	if name == "user" {
		if screenName == "" {
			return fmt.Errorf("the user timeline needs --screen-name")
		}
		params["screen_name"] = screenName
	}
	if sinceID > 0 {
		params["since_id"] = sinceID
	}

	path := c.API("api").Join("statuses", name+"_timeline")
	pages, items := 0, 0
	for page, err := range c.MaxID(path, params).All(cmd.Context()) {
		if err != nil {
			return err
		}
		for _, item := range page {
			if err := printItem(item); err != nil {
				return err
			}
		}
		items += len(page)
		pages++
		if timelinePages > 0 && pages >= timelinePages {
			break
		}
	}

	printSuccess(fmt.Sprintf("%d items in %d pages", items, pages))
	return nil
}

func printItem(item map[string]any) error {
	if timelineJSON {
		line, err := json.Marshal(item)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout(), string(line))
		return err
	}

	id, _ := api.String(item["id_str"])
	text, _ := item["text"].(string)
	_, err := fmt.Fprintf(stdout(), "%s %s\n", yellow(id), strings.ReplaceAll(text, "\n", " "))
	return err
}
