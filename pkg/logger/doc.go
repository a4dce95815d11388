// Package logger provides the structured logger used by every twigo package.
//
// It wraps zerolog behind a small interface so that components can take a
// Logger, tests can swap in a TestLogger or NewNopLogger, and applications can
// configure output once through Initialize.
//
//	err := logger.Initialize(&config.LoggingConfig{Level: "debug", Pretty: true})
//
//	log := logger.GetLogger().WithField("component", "stream")
//	log.WarnWithFields("reconnecting", map[string]interface{}{
//	    "state": "disconnection",
//	    "delay": 250 * time.Millisecond,
//	})
//
// Durations are written in milliseconds and errors as strings.
package logger
