// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package baindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

var baiMagic = [4]byte{'B', 'A', 'I', 0x1}

const (
	// metadataBinNum is the pseudo-bin that carries per-reference metadata
	// (first/last voffset, mapped/unmapped counts) in the .bai format.
	metadataBinNum = 37450

	// linearShift is the width of a linear-index window: 16 kbp.
	linearShift = 14
)

// Bin is one BAI bin and the chunks of records it covers.  Chunks are
// [begin,end) virtual-offset ranges of BAM records.
type Bin struct {
	BinNum uint32
	Chunks []bgzf.Chunk
}

// Metadata is the content of a reference's metadata pseudo-bin.
type Metadata struct {
	UnmappedBegin uint64
	UnmappedEnd   uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// Reference is the index block for a single reference sequence.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Offset
	Meta      Metadata
}

// BAIBuilder accumulates the index block for one reference sequence and
// encodes it as a segment that a downstream step concatenates with the other
// references' segments.  The segment for reference 0 is prefixed with the
// BAI magic and the reference count so that concatenation in reference order
// yields a well-formed index; the merge step appends the file-wide
// no-coordinate count after the last reference.
type BAIBuilder struct {
	ref     *sam.Reference
	numRefs int

	bins        map[uint32][]bgzf.Chunk
	intervals   []bgzf.Offset
	intervalSet []bool
	meta        Metadata
	hasMeta     bool
	noCoord     uint64
	finished    bool
}

// NewBAIBuilder returns a builder for the index segment of ref in a BAM with
// numRefs references.
func NewBAIBuilder(ref *sam.Reference, numRefs int) *BAIBuilder {
	return &BAIBuilder{
		ref:     ref,
		numRefs: numRefs,
		bins:    map[uint32][]bgzf.Chunk{},
	}
}

// Add records one alignment located at chunk.  Records must arrive in
// coordinate order.  A record with no reference is counted as a
// no-coordinate read and not indexed; a record for a different reference is
// an error, since the boundary scan upstream must never deliver one.
func (b *BAIBuilder) Add(rec *sam.Record, chunk bgzf.Chunk) error {
	if b.finished {
		return fmt.Errorf("baindex: Add called after Finish for %s", b.ref.Name())
	}
	if rec.Ref == nil || rec.Ref.ID() < 0 {
		b.noCoord++
		return nil
	}
	if rec.Ref.ID() != b.ref.ID() {
		return fmt.Errorf("baindex: record %s is for reference %s, builder is for %s",
			rec.Name, rec.Ref.Name(), b.ref.Name())
	}

	if rec.Flags&sam.Unmapped != 0 {
		b.meta.UnmappedCount++
	} else {
		b.meta.MappedCount++
	}

	begV := fromOffset(chunk.Begin)
	endV := fromOffset(chunk.End)
	if !b.hasMeta {
		b.meta.UnmappedBegin = begV
		b.meta.UnmappedEnd = endV
		b.hasMeta = true
	} else {
		if begV < b.meta.UnmappedBegin {
			b.meta.UnmappedBegin = begV
		}
		if endV > b.meta.UnmappedEnd {
			b.meta.UnmappedEnd = endV
		}
	}

	// Placed on the reference with no alignment start (pos -1): counted in
	// the metadata above, but there is no interval to bin.
	if rec.Pos < 0 {
		return nil
	}
	beg := rec.Pos
	end := rec.End()
	if end <= beg {
		end = beg + 1
	}

	bin := reg2bin(beg, end)
	chunks := b.bins[bin]
	// Extend the previous chunk rather than appending when the new chunk
	// adjoins or overlaps it, as records from one bgzf block usually do.
	if n := len(chunks); n > 0 && begV <= fromOffset(chunks[n-1].End) {
		if endV > fromOffset(chunks[n-1].End) {
			chunks[n-1].End = chunk.End
		}
	} else {
		b.bins[bin] = append(chunks, chunk)
	}

	for w := beg >> linearShift; w <= (end-1)>>linearShift; w++ {
		for w >= len(b.intervals) {
			b.intervals = append(b.intervals, bgzf.Offset{})
			b.intervalSet = append(b.intervalSet, false)
		}
		if !b.intervalSet[w] {
			b.intervals[w] = chunk.Begin
			b.intervalSet[w] = true
		}
	}
	return nil
}

// Finish encodes the accumulated segment and returns it along with the
// number of no-coordinate reads seen.  Finish must be called exactly once;
// calling it on a builder that saw no records yields a valid empty segment.
func (b *BAIBuilder) Finish() ([]byte, uint64, error) {
	if b.finished {
		return nil, 0, fmt.Errorf("baindex: Finish called twice for %s", b.ref.Name())
	}
	b.finished = true

	ref := Reference{Meta: b.meta}
	for binNum, chunks := range b.bins {
		ref.Bins = append(ref.Bins, Bin{BinNum: binNum, Chunks: chunks})
	}
	sort.Slice(ref.Bins, func(i, j int) bool { return ref.Bins[i].BinNum < ref.Bins[j].BinNum })

	// Fill linear-index gaps with the previous window's offset so a reader
	// landing in an empty window still seeks to a usable position.
	prev := bgzf.Offset{}
	ref.Intervals = b.intervals
	for w := range ref.Intervals {
		if !b.intervalSet[w] {
			ref.Intervals[w] = prev
		} else {
			prev = ref.Intervals[w]
		}
	}

	var buf bytes.Buffer
	if b.ref.ID() == 0 {
		buf.Write(baiMagic[:])
		writeInt32(&buf, int32(b.numRefs))
	}
	writeReference(&buf, ref, b.hasMeta)
	return buf.Bytes(), b.noCoord, nil
}

func writeReference(buf *bytes.Buffer, ref Reference, withMeta bool) {
	nBin := int32(len(ref.Bins))
	if withMeta {
		nBin++
	}
	writeInt32(buf, nBin)
	for _, bin := range ref.Bins {
		writeUint32(buf, bin.BinNum)
		writeInt32(buf, int32(len(bin.Chunks)))
		for _, c := range bin.Chunks {
			writeUint64(buf, fromOffset(c.Begin))
			writeUint64(buf, fromOffset(c.End))
		}
	}
	if withMeta {
		writeUint32(buf, metadataBinNum)
		writeInt32(buf, 2)
		writeUint64(buf, ref.Meta.UnmappedBegin)
		writeUint64(buf, ref.Meta.UnmappedEnd)
		writeUint64(buf, ref.Meta.MappedCount)
		writeUint64(buf, ref.Meta.UnmappedCount)
	}
	writeInt32(buf, int32(len(ref.Intervals)))
	for _, iv := range ref.Intervals {
		writeUint64(buf, fromOffset(iv))
	}
}

// DecodeSegment parses one reference's segment, as produced by
// BAIBuilder.Finish.  withHeader must be true for the reference-0 segment,
// which carries the BAI magic and reference count; numRefs is zero
// otherwise.  Used by the merge step and by tests.
func DecodeSegment(r io.Reader, withHeader bool) (ref Reference, numRefs int32, err error) {
	if withHeader {
		var magic [4]byte
		if _, err = io.ReadFull(r, magic[:]); err != nil {
			return ref, 0, err
		}
		if magic != baiMagic {
			return ref, 0, fmt.Errorf("baindex: invalid magic %v in segment", magic)
		}
		if err = binary.Read(r, binary.LittleEndian, &numRefs); err != nil {
			return ref, 0, err
		}
	}

	var binCount int32
	if err = binary.Read(r, binary.LittleEndian, &binCount); err != nil {
		return ref, 0, err
	}
	for b := int32(0); b < binCount; b++ {
		var binNum uint32
		if err = binary.Read(r, binary.LittleEndian, &binNum); err != nil {
			return ref, 0, err
		}
		var chunkCount int32
		if err = binary.Read(r, binary.LittleEndian, &chunkCount); err != nil {
			return ref, 0, err
		}
		bin := Bin{BinNum: binNum, Chunks: make([]bgzf.Chunk, chunkCount)}
		for c := range bin.Chunks {
			var begin, end uint64
			if err = binary.Read(r, binary.LittleEndian, &begin); err != nil {
				return ref, 0, err
			}
			if err = binary.Read(r, binary.LittleEndian, &end); err != nil {
				return ref, 0, err
			}
			bin.Chunks[c] = bgzf.Chunk{Begin: toOffset(begin), End: toOffset(end)}
		}
		if binNum == metadataBinNum {
			if len(bin.Chunks) != 2 {
				return ref, 0, fmt.Errorf("baindex: metadata bin has %d chunks, want 2", len(bin.Chunks))
			}
			ref.Meta = Metadata{
				UnmappedBegin: fromOffset(bin.Chunks[0].Begin),
				UnmappedEnd:   fromOffset(bin.Chunks[0].End),
				MappedCount:   fromOffset(bin.Chunks[1].Begin),
				UnmappedCount: fromOffset(bin.Chunks[1].End),
			}
		} else {
			ref.Bins = append(ref.Bins, bin)
		}
	}

	var intervalCount int32
	if err = binary.Read(r, binary.LittleEndian, &intervalCount); err != nil {
		return ref, 0, err
	}
	ref.Intervals = make([]bgzf.Offset, intervalCount)
	for i := range ref.Intervals {
		var v uint64
		if err = binary.Read(r, binary.LittleEndian, &v); err != nil {
			return ref, 0, err
		}
		ref.Intervals[i] = toOffset(v)
	}
	return ref, numRefs, nil
}

// reg2bin computes the smallest BAI bin containing the zero-based half-open
// interval [beg,end), per the SAM spec.
func reg2bin(beg, end int) uint32 {
	end--
	switch {
	case beg>>14 == end>>14:
		return uint32(((1<<15)-1)/7 + (beg >> 14))
	case beg>>17 == end>>17:
		return uint32(((1<<12)-1)/7 + (beg >> 17))
	case beg>>20 == end>>20:
		return uint32(((1<<9)-1)/7 + (beg >> 20))
	case beg>>23 == end>>23:
		return uint32(((1<<6)-1)/7 + (beg >> 23))
	case beg>>26 == end>>26:
		return uint32(((1<<3)-1)/7 + (beg >> 26))
	}
	return 0
}

func toOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

func fromOffset(offset bgzf.Offset) uint64 {
	return uint64(offset.File<<16) | uint64(offset.Block)
}

func writeInt32(buf *bytes.Buffer, v int32)   { binary.Write(buf, binary.LittleEndian, v) }
func writeUint32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func writeUint64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.LittleEndian, v) }
