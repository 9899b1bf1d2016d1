// Package config loads kiln's broker configuration from JSON files and
// KILN_* environment variables, with documented defaults for segment sizing,
// retention, fetch bounds, producer dedupe, and group coordination timings.
package config
