// Package sinks holds the notifier.Sink implementations: the log, desktop
// notifications over the D-Bus session bus, and Telegram.
package sinks
