// Package archiver finalizes batches: it serializes and compresses a batch,
// allocates a free object key and writes the payload once.
package archiver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/keytemplate"
	"github.com/szibis/log-archiver/internal/logging"
	"github.com/szibis/log-archiver/internal/record"
	"github.com/szibis/log-archiver/internal/store"
)

// Emitter archives one batch per call.
type Emitter interface {
	Emit(ctx context.Context, b *record.Batch) error
}

// Config holds archiver configuration.
type Config struct {
	// KeyTemplate lays out object keys; nil selects keytemplate.DefaultFormat.
	KeyTemplate *keytemplate.Template
	// Path is the value of %{path}.
	Path string
	// Hostname is the value of %{hostname}.
	Hostname string
	// HexRandomLength is the number of digits in %{hex_random}.
	HexRandomLength int
	// ReducedRedundancy requests the REDUCED_REDUNDANCY storage class.
	ReducedRedundancy bool
	// ConditionalWrites uses create-if-absent writes when the store supports them.
	ConditionalWrites bool
}

// Archiver is the Emitter writing to an object store. It keeps no state
// between batches and is safe for concurrent use.
type Archiver struct {
	encoder      *format.Encoder
	pipeline     *compression.Pipeline
	allocator    *Allocator
	store        store.Store
	conditional  store.ConditionalWriter
	storageClass store.StorageClass
	logger       *logging.Logger
}

// New creates an Archiver.
func New(cfg Config, serializer format.Serializer, pipeline *compression.Pipeline, st store.Store, logger *logging.Logger) *Archiver {
	tmpl := cfg.KeyTemplate
	if tmpl == nil {
		tmpl = keytemplate.MustParse(keytemplate.DefaultFormat)
	}
	a := &Archiver{
		encoder:  format.NewEncoder(serializer),
		pipeline: pipeline,
		allocator: NewAllocator(tmpl, st, AllocatorConfig{
			Path:            cfg.Path,
			Hostname:        cfg.Hostname,
			HexRandomLength: cfg.HexRandomLength,
		}),
		store:        st,
		storageClass: store.StorageClassStandard,
		logger:       logger,
	}
	if cfg.ReducedRedundancy {
		a.storageClass = store.StorageClassReducedRedundancy
	}
	if cfg.ConditionalWrites {
		if cw, ok := st.(store.ConditionalWriter); ok {
			a.conditional = cw
		}
	}
	return a
}

// Emit archives b. On failure nothing was written and the returned
// *EmitError names the failing stage; temporary files are removed either way.
func (a *Archiver) Emit(ctx context.Context, b *record.Batch) error {
	start := time.Now()

	var encodeErr error
	payload, err := a.pipeline.Build(ctx, func(w io.Writer) error {
		_, encodeErr = a.encoder.Encode(w, b)
		return encodeErr
	})
	if err != nil {
		if encodeErr != nil {
			return a.fail(b, StageEncode, err)
		}
		return a.fail(b, StageCompress, err)
	}
	defer func() {
		if err := payload.Close(); err != nil {
			a.logger.Warn("failed to remove temporary payload files", logging.F(
				"batch_id", b.ID,
				"error", err.Error(),
			))
		}
	}()

	desc := payload.Descriptor()
	req := AllocRequest{TimeSlice: b.ID, Extension: desc.Extension}
	var key string
	for {
		var index int
		key, index, err = a.allocator.Allocate(ctx, req)
		if err != nil {
			return a.fail(b, StageAllocate, err)
		}

		err = a.write(ctx, store.Object{
			Key:          key,
			Body:         payload.Reader(),
			Size:         payload.Size(),
			ContentType:  desc.ContentType,
			StorageClass: a.storageClass,
		})
		if a.conditional != nil && errors.Is(err, store.ErrKeyExists) {
			// Taken between probe and write; keep searching above it.
			writeConflictsTotal.Inc()
			req.StartIndex = index + 1
			continue
		}
		if err != nil {
			return a.fail(b, StageWrite, err)
		}
		break
	}

	streams := streamEstimate(b)
	batchesTotal.Inc()
	recordsTotal.Add(float64(b.Len()))
	payloadBytes.Observe(float64(payload.Size()))
	batchStreams.Observe(float64(streams))
	emitDuration.Observe(time.Since(start).Seconds())

	a.logger.Info("batch archived", logging.F(
		"batch_id", b.ID,
		"key", key,
		"records", b.Len(),
		"streams", streams,
		"raw_bytes", payload.RawSize(),
		"bytes", payload.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	))
	return nil
}

func (a *Archiver) write(ctx context.Context, obj store.Object) error {
	if a.conditional != nil {
		return a.conditional.WriteIfAbsent(ctx, obj)
	}
	return a.store.Write(ctx, obj)
}

func (a *Archiver) fail(b *record.Batch, stage Stage, err error) error {
	emitErrorsTotal.WithLabelValues(string(stage)).Inc()
	return &EmitError{BatchID: b.ID, Stage: stage, Err: err}
}
