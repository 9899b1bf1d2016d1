// Package id issues consumer group member identifiers.
//
// An identifier is 32 hex characters: a big-endian millisecond timestamp
// followed by a per-millisecond counter. Lexical order therefore matches
// issue order, which the coordinator relies on when it sorts members for
// partition assignment.
package id
