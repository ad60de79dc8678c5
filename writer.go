// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package baindex

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// SegmentBuilder turns a stream of one reference's records into the encoded
// index segment for that reference.  Add is called once per record in stream
// order; Finish is called exactly once afterwards and returns the segment
// bytes along with the builder's count of no-coordinate reads.
type SegmentBuilder interface {
	Add(rec *sam.Record, chunk bgzf.Chunk) error
	Finish() ([]byte, uint64, error)
}

// WriteOpts carries the read-only inputs shared by every shard invocation of
// one run.  The hosting framework broadcasts these; a shard never mutates
// them.
type WriteOpts struct {
	// Header is the BAM's header, used as the sequence dictionary.
	Header *sam.Header
	// BAMPath names the source BAM; shard output paths derive from it.
	BAMPath string
	// DataStart is the file offset of the first alignment record, i.e. the
	// end of the compressed header.  Window offsets are relative to it.
	DataStart int64
	// Sizes is the per-reference byte-size table for the record region.
	Sizes []SequenceSize
	// Metrics receives this shard's metric deltas.  May be nil.
	Metrics MetricsSink
	// NewBuilder overrides the segment builder, for tests.  Nil means the
	// standard BAI builder.
	NewBuilder func(ref *sam.Reference, numRefs int) SegmentBuilder
}

// ShardResult is the outcome of one successful shard invocation.
// NoCoordReads is the shard's side output: the downstream merge step sums it
// across shards for the index trailer.
type ShardResult struct {
	Path         string
	NoCoordReads uint64
	Processed    int64
	Skipped      int64
	Elapsed      time.Duration
}

// ShardIndexPath returns the deterministic output path for ref's index
// segment.  Retries of a shard produce the same path and overwrite it.
func ShardIndexPath(bamPath string, ref *sam.Reference) string {
	return fmt.Sprintf("%s-%02d-%s.bai", bamPath, ref.ID(), ref.Name())
}

// WriteShardIndex runs one shard: it resolves the byte window for
// sequenceName, scans that window's records, builds the reference's index
// segment, and writes it to ShardIndexPath.  Any failure aborts the shard
// and is returned for the hosting framework to retry; metric deltas already
// reported are not retracted.
func WriteShardIndex(ctx context.Context, sequenceName string, opts WriteOpts) (ShardResult, error) {
	report(opts.Metrics, &Metrics{ShardsStarted: 1})
	start := time.Now()

	var target *sam.Reference
	for _, ref := range opts.Header.Refs() {
		if ref.Name() == sequenceName {
			target = ref
			break
		}
	}
	if target == nil {
		return ShardResult{}, errors.Errorf("baindex %s: reference not in header of %s", sequenceName, opts.BAMPath)
	}

	window := ResolveWindow(target.ID(), opts.Sizes)
	path := ShardIndexPath(opts.BAMPath, target)
	log.Printf("baindex %s: scanning %s at offset %d (%d references before target), expecting %d bytes",
		sequenceName, opts.BAMPath, window.Offset, window.SkippedSequences, window.ExpectedBytes)

	newBuilder := opts.NewBuilder
	if newBuilder == nil {
		newBuilder = func(ref *sam.Reference, numRefs int) SegmentBuilder {
			return NewBAIBuilder(ref, numRefs)
		}
	}
	builder := newBuilder(target, len(opts.Header.Refs()))

	var processed, skipped int64
	if window.ExpectedBytes > 0 {
		var err error
		if processed, skipped, err = scanWindow(ctx, opts, target, window, builder); err != nil {
			return ShardResult{}, err
		}
	}

	segment, noCoord, err := builder.Finish()
	if err != nil {
		return ShardResult{}, errors.Wrapf(err, "baindex %s: finalizing segment", sequenceName)
	}

	out, err := file.Create(ctx, path)
	if err != nil {
		return ShardResult{}, errors.Wrapf(err, "baindex %s: create %s", sequenceName, path)
	}
	if _, err = out.Writer(ctx).Write(segment); err != nil {
		out.Close(ctx) // the shard already failed; retry rewrites the path
		return ShardResult{}, errors.Wrapf(err, "baindex %s: write %s", sequenceName, path)
	}
	if err = out.Close(ctx); err != nil {
		return ShardResult{}, errors.Wrapf(err, "baindex %s: close %s", sequenceName, path)
	}

	elapsed := time.Since(start)
	delta := &Metrics{ReadsIndexed: processed, NoCoordReads: int64(noCoord), ShardsFinished: 1}
	delta.ShardSeconds.observe(int64(elapsed / time.Second))
	delta.ShardReads.observe(processed)
	report(opts.Metrics, delta)

	log.Printf("baindex %s: wrote %s: %d records, %d no-coordinate, %d skipped, %s",
		sequenceName, path, processed, noCoord, skipped, elapsed)
	return ShardResult{
		Path:         path,
		NoCoordReads: noCoord,
		Processed:    processed,
		Skipped:      skipped,
		Elapsed:      elapsed,
	}, nil
}

// scanWindow opens the BAM at the window's offset and feeds the target's
// records to builder.
func scanWindow(ctx context.Context, opts WriteOpts, target *sam.Reference, window Window, builder SegmentBuilder) (processed, skipped int64, err error) {
	in, err := file.Open(ctx, opts.BAMPath)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "baindex %s: open %s", target.Name(), opts.BAMPath)
	}
	defer file.CloseAndReport(ctx, in, &err)

	base := opts.DataStart + window.Offset
	r := in.Reader(ctx)
	if _, err = r.Seek(base, io.SeekStart); err != nil {
		return 0, 0, errors.Wrapf(err, "baindex %s: seek %s to %d", target.Name(), opts.BAMPath, base)
	}
	sc, err := NewBoundaryScanner(r, base, opts.Header, target)
	if err != nil {
		return 0, 0, err
	}
	defer sc.Close() // nolint: errcheck

	for sc.Scan() {
		if err = builder.Add(sc.Record(), sc.Chunk()); err != nil {
			return 0, 0, errors.Wrapf(err, "baindex %s: indexing record at offset %d", target.Name(), window.Offset)
		}
	}
	if err = sc.Err(); err != nil {
		return 0, 0, err
	}
	return sc.Processed(), sc.Skipped(), nil
}

// ReadHeader reads the BAM header of path and returns it together with the
// file offset of the first alignment record, which anchors the record
// region's relative offsets.  The record region must start on a bgzf block
// boundary, as it does in BAMs composed from separately written header and
// per-reference pieces.  A BAM with no alignment records yields offset 0,
// which no shard will use since every window is then empty.
func ReadHeader(ctx context.Context, path string) (header *sam.Header, dataStart int64, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "baindex: open %s", path)
	}
	defer file.CloseAndReport(ctx, in, &err)

	bg, err := bgzf.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "baindex: bgzf open %s", path)
	}
	defer bg.Close() // nolint: errcheck
	if header, err = sam.NewHeader(nil, nil); err != nil {
		return nil, 0, err
	}
	if err = header.DecodeBinary(bg); err != nil {
		return nil, 0, errors.Wrapf(err, "baindex: decoding header of %s", path)
	}
	// Step one byte into the record region so LastChunk reports the first
	// record's block rather than the tail of the header's.
	var b [1]byte
	if _, err = io.ReadFull(bg, b[:]); err != nil {
		if err == io.EOF {
			return header, 0, nil
		}
		return nil, 0, errors.Wrapf(err, "baindex: reading first record of %s", path)
	}
	begin := bg.LastChunk().Begin
	if begin.Block != 0 {
		return nil, 0, errors.Errorf("baindex: record region of %s does not start on a bgzf block boundary", path)
	}
	return header, begin.File, nil
}

func report(sink MetricsSink, delta *Metrics) {
	if sink != nil {
		sink.Report(delta)
	}
}
