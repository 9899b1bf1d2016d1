// Package group implements the consumer group coordinator: stop-the-world
// rebalancing behind a counting sync barrier, heartbeat-driven liveness, and
// offset commits made durable in the metadata store. Membership is a
// single-broker in-memory concern; only committed offsets survive a restart.
package group
