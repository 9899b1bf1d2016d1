// Package runtime assembles a single-node Kiln broker: the pebble metadata
// store, topic registry, broker facade, and consumer group coordinator, plus
// the background sweepers, all opened and closed as one unit.
package runtime
