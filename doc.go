// Package permafrost implements the write side of a versioned, in-memory,
// columnar dataset framework. Producers stage typed records each cycle and
// publish immutable snapshots plus compact deltas; consumers memory-map the
// blobs and probe records in place.
//
// # Basic Usage
//
// Registering types and staging records:
//
//	engine := permafrost.NewWriteStateEngine()
//	movies, err := engine.AddObjectType(&permafrost.ObjectSchema{
//	    Name: "Movie",
//	    Fields: []permafrost.ObjectField{
//	        {Name: "id", Type: permafrost.FieldInt},
//	        {Name: "title", Type: permafrost.FieldString},
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	credits, err := engine.AddMapType(&permafrost.MapSchema{
//	    Name: "MovieCredits", KeyType: "Movie", ValueType: "Movie",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Publishing a cycle:
//
//	rec := permafrost.NewMapWriteRecord()
//	rec.AddEntry(keyOrdinal, valueOrdinal)
//	if _, err := credits.Add(rec); err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.PrepareForWrite(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.WriteSnapshot(out); err != nil {
//	    log.Fatal(err)
//	}
//	engine.PrepareForNextCycle()
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Public API: engine.go (WriteStateEngine, cycle lifecycle), schema.go,
//     records.go (MapWriteRecord, ObjectWriteRecord)
//   - Configuration: options.go (Option, With* functions)
//   - Type encoders: mapstate.go / mapstate_snapshot.go / mapstate_delta.go
//     (Map), objectstate.go (Object), writestate.go (shared base)
//   - Hash keys: fieldpath.go (late binding), hasher.go (primary-key hasher)
//   - Serialization: blob.go (framing), blobfile.go (mmap file writer)
//   - Primitives: internal/bitarray, internal/varint, internal/popset,
//     internal/bytestore, internal/hashing, internal/bits
//   - Platform: fallocate_*.go, prefault_*.go (OS-specific optimizations)
package permafrost
