// Package events routes stream messages to handlers.
//
// A Registry keeps handlers ordered by priority. Each message goes to the
// first handler whose Matcher accepts it, or to the fallback handler
// registered without a matcher.
//
//	reg := events.NewRegistry(
//	    events.Handler{Name: "tweet", Match: events.Tweet, Handle: onTweet},
//	    events.Handler{Name: "follow", Match: events.Event("follow"), Handle: onFollow},
//	)
package events
