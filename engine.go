package permafrost

import (
	"fmt"
	"io"
	"log/slog"

	perrors "github.com/permafrost-db/permafrost/errors"
)

// WriteStateEngine is the producer-side engine: types are registered from
// schemas, records are staged each cycle, and the engine publishes the cycle
// as a snapshot blob plus forward and reverse delta blobs.
//
// Usage:
//
//	engine := permafrost.NewWriteStateEngine(permafrost.WithTypeResharding())
//	keys, err := engine.AddObjectType(keySchema)
//	maps, err := engine.AddMapType(mapSchema)
//
//	// per cycle:
//	ordinal, err := keys.Add(keyRecord)
//	_, err = maps.Add(mapRecord)
//	if err := engine.PrepareForWrite(); err != nil { return err }
//	if err := engine.WriteSnapshot(out); err != nil { return err }
//	if err := engine.WriteDelta(out2); err != nil { return err }
//	engine.PrepareForNextCycle()
//
// Staging and encoding are strictly phased: Add calls fail once
// PrepareForWrite has run, until PrepareForNextCycle starts the next cycle.
type WriteStateEngine struct {
	cfg *engineConfig
	log *slog.Logger

	types map[string]typeWriter
	order []string

	preparedForWrite bool
}

// NewWriteStateEngine creates an engine with the given options.
func NewWriteStateEngine(opts ...Option) *WriteStateEngine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.encodeWorkers < 1 {
		cfg.encodeWorkers = 1
	}
	log := cfg.logger
	if log == nil {
		log = slog.Default()
	}
	return &WriteStateEngine{
		cfg:   cfg,
		log:   log,
		types: make(map[string]typeWriter),
	}
}

// AddObjectType registers an object type and returns its write state.
func (e *WriteStateEngine) AddObjectType(schema *ObjectSchema) (*ObjectTypeWriteState, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	if _, dup := e.types[schema.Name]; dup {
		return nil, fmt.Errorf("%w: %q", perrors.ErrDuplicateType, schema.Name)
	}
	state := newObjectTypeWriteState(e, schema)
	e.types[schema.Name] = state
	e.order = append(e.order, schema.Name)
	return state, nil
}

// AddMapType registers a map type and returns its write state.
func (e *WriteStateEngine) AddMapType(schema *MapSchema) (*MapTypeWriteState, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	if _, dup := e.types[schema.Name]; dup {
		return nil, fmt.Errorf("%w: %q", perrors.ErrDuplicateType, schema.Name)
	}
	state := newMapTypeWriteState(e, schema)
	e.types[schema.Name] = state
	e.order = append(e.order, schema.Name)
	return state, nil
}

// PrepareForWrite freezes staging for the cycle and runs every type's shard
// decision and statistics pass. Must be called before any Write method.
func (e *WriteStateEngine) PrepareForWrite() error {
	if e.preparedForWrite {
		return nil
	}
	e.preparedForWrite = true
	for _, name := range e.order {
		e.types[name].prepareForWrite(e.cfg.allowResharding)
	}
	return nil
}

// PrepareForNextCycle rolls every type into the next cycle: the populated
// set just published becomes the previous cycle and staging reopens.
func (e *WriteStateEngine) PrepareForNextCycle() {
	for _, name := range e.order {
		e.types[name].base().prepareForNextCycle()
	}
	e.preparedForWrite = false
}

// WriteSnapshot calculates and writes a self-contained snapshot blob of the
// current cycle to w.
func (e *WriteStateEngine) WriteSnapshot(w io.Writer) error {
	if !e.preparedForWrite {
		return perrors.ErrCycleNotPrepared
	}

	bw := newBlobWriter(w)
	if err := bw.writeHeader(blobSnapshot, len(e.order)); err != nil {
		return err
	}
	for _, name := range e.order {
		ts := e.types[name]
		if err := ts.calculateSnapshot(); err != nil {
			return fmt.Errorf("calculate snapshot of %q: %w", name, err)
		}
		if err := bw.writeSchema(ts.schema()); err != nil {
			return err
		}
		if err := ts.writeSnapshot(bw); err != nil {
			return fmt.Errorf("write snapshot of %q: %w", name, err)
		}
	}
	return bw.Flush()
}

// WriteDelta calculates and writes the forward delta blob — the transition
// from the previous cycle's state to the current one — to w.
func (e *WriteStateEngine) WriteDelta(w io.Writer) error {
	return e.writeDelta(w, false)
}

// WriteReverseDelta calculates and writes the reverse delta blob — the
// transition from the current cycle's state back to the previous one — to w.
// Across a reshard the reverse delta is encoded under the previously
// published shard count.
func (e *WriteStateEngine) WriteReverseDelta(w io.Writer) error {
	return e.writeDelta(w, true)
}

func (e *WriteStateEngine) writeDelta(w io.Writer, isReverse bool) error {
	if !e.preparedForWrite {
		return perrors.ErrCycleNotPrepared
	}

	kind := blobDelta
	if isReverse {
		kind = blobReverseDelta
	}

	bw := newBlobWriter(w)
	if err := bw.writeHeader(kind, len(e.order)); err != nil {
		return err
	}
	for _, name := range e.order {
		ts := e.types[name]
		base := ts.base()

		from, to := base.prevCyclePopulated, base.currCyclePopulated
		if isReverse {
			from, to = to, from
		}
		if err := ts.calculateDelta(from, to, isReverse); err != nil {
			return fmt.Errorf("calculate %s of %q: %w", kind, name, err)
		}
		if err := bw.writeSchema(ts.schema()); err != nil {
			return err
		}
		if err := ts.writeCalculatedDelta(bw, isReverse, base.deltaMaxShardOrdinals(isReverse)); err != nil {
			return fmt.Errorf("write %s of %q: %w", kind, name, err)
		}
	}
	return bw.Flush()
}

// projectedSnapshotBytes estimates the snapshot blob size from the gathered
// statistics. Valid only after PrepareForWrite.
func (e *WriteStateEngine) projectedSnapshotBytes() int64 {
	total := int64(128) // header and schema slack
	for _, name := range e.order {
		switch ts := e.types[name].(type) {
		case *MapTypeWriteState:
			total += ts.projectedSnapshotBytes()
		case *ObjectTypeWriteState:
			total += ts.projectedSnapshotBytes()
		}
		total += int64(len(name)) + 64
	}
	return total
}
