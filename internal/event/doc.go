// Package event defines Kiln's record type and its on-disk binary encoding.
//
// Records are length-prefixed varint fields followed by a big-endian
// millisecond timestamp and a crc32c trailer. The trailer lets readers detect
// torn or corrupt records cheaply, and the fixed-width timestamp can be read
// without decoding the rest of the record, which the retention sweeper relies
// on.
package event
