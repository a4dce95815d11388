// Package client is the entry point to the REST, streaming and upload APIs.
//
// A Client binds the configuration to a signer, a retry handler and a rate
// limiter. Endpoints are addressed by API name and path segments:
//
//	c, err := client.New(cfg)
//	timeline := c.API("api").Join("statuses", "home_timeline")
//	resp, err := c.Get(ctx, timeline, api.Args{"count": 200})
//
// Get, Post and Request return *errors.Error on failure after the retry
// handler gave up. Streaming endpoints are opened with Stream; MaxID,
// SinceID and Cursor page through timelines and cursored lists.
//
// Run drives long-lived work: registered tasks and event streams whose
// messages are dispatched to an events.Registry by a worker pool.
package client
