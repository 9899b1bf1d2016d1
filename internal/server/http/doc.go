// Package httpserver exposes the broker over a JSON HTTP API: topic
// management, publish and long-poll fetch, and consumer group coordination.
// Routes live in per-area controllers under controllers/.
package httpserver
