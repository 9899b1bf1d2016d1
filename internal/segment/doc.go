// Package segment implements the file-backed storage for one partition.
//
// A store is a directory of segment file pairs named by base offset
// (00000000000000000000.log / .index). The log holds CRC-framed payloads and
// the index maps relative offsets to file positions. The active segment rolls
// at a size threshold; sealed segments are immutable and are the unit of
// retention truncation. Opening a store scans the active segment's tail and
// drops any torn frames left by a crash.
package segment
