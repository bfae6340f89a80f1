// Package notifier delivers commit notifications to the configured sinks.
//
// # Pipeline
//
// Notify enqueues onto a bounded FIFO queue and returns immediately. A single
// worker drains the queue in order, so notifications for one repository are
// shown in the order they were produced (overflow summary first, then
// commits oldest first). Each notification fans out to every sink; a sink
// failure is retried with jittered exponential backoff and then logged. It
// never blocks other sinks or the discovery cycle that produced it.
//
// A token bucket (golang.org/x/time/rate) bounds how fast notifications hit
// the sinks, so a repository with a burst of commits doesn't flood the desktop.
//
// # History
//
// The service keeps a small in-memory history of delivered notifications.
package notifier
