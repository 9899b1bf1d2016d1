// Package broker implements the publish and fetch paths over the topic
// registry: key routing, idempotent producer sessions, long-poll fetches
// with optional CEL filtering, and the background retention sweep.
package broker
