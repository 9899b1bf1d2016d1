// Package topic maps topic names to sets of partitions and routes events to
// them. Metadata is durable in the pebble metadata store; the registry
// reopens every known topic on startup.
package topic
