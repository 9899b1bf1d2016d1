// Package serverrun owns broker startup and shutdown: logger setup, runtime
// wiring, the HTTP listener, and signal-driven graceful stop.
package serverrun
