// Package dispatch runs event handlers for stream messages on a fixed set
// of workers, skipping messages redelivered after a reconnect.
package dispatch
