// Package stream consumes long-lived streaming endpoints.
//
// A Conn reads newline-delimited JSON from one HTTP response at a time.
// Keep-alive blank lines are skipped. When the connection fails, Next
// returns an EventReconnecting notice instead of an error; the following
// call waits out the delay, reconnects and returns EventRestart. The wait
// depends on the connection state:
//
//	disconnection      0.25s per occurrence, up to 16s
//	reconnection       5s doubling per occurrence, up to 320s
//	enhance your calm  60s doubling per occurrence, uncapped
//
// Only cancellation and connect statuses that retrying cannot fix (such as
// 401 or 403) are returned as errors.
//
//	conn := stream.New(connector, stream.DefaultOptions())
//	for ev, err := range conn.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Type == stream.EventData {
//	        handle(ev.Data)
//	    }
//	}
package stream
