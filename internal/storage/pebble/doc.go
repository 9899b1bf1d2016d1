// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// batches, iterators, and minimal metrics hooks. Kiln uses it as the metadata
// store: topic registry records, committed consumer offsets, and producer
// dedupe sessions. Event payloads live in the segment file store, not here.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data/meta",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	_ = db.Set([]byte("k"), []byte("v"))
//	v, _ := db.Get([]byte("k"))
package pebblestore
