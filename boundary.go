// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package baindex

import (
	"encoding/binary"
	"io"

	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

const maxRecordSize = 0xffffff

// BoundaryScanner reads raw BAM records from a stream positioned at a bgzf
// block boundary inside the record region and yields exactly the records
// belonging to one target reference.  The stream position is only block
// aligned, not record aligned, so the scan may first see trailing records of
// the preceding reference; those are skipped.  The first record of a
// different reference seen after at least one target record ends the scan
// without reading further.
//
// The scanner is a single pass and cannot be restarted.  It requires the
// coordinate-sorted convention: records grouped by ascending reference ID.
type BoundaryScanner struct {
	bg     *bgzf.Reader
	base   int64
	header *sam.Header
	target *sam.Reference

	rec   *sam.Record
	chunk bgzf.Chunk
	err   error

	found     bool
	done      bool
	processed int64
	skipped   int64

	sizeBuf [4]byte
	buf     []byte
}

// NewBoundaryScanner returns a scanner over r, which must be positioned at a
// bgzf block boundary, yielding records of target.  base is the file offset
// of r's first byte in the whole BAM; the bgzf reader counts bytes from its
// own start, so base rebases every reported chunk to an absolute virtual
// offset, as the index format requires.  header supplies the reference
// dictionary for record decoding.
func NewBoundaryScanner(r io.Reader, base int64, header *sam.Header, target *sam.Reference) (*BoundaryScanner, error) {
	bg, err := bgzf.NewReader(r, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "baindex: bgzf open for %s", target.Name())
	}
	return &BoundaryScanner{bg: bg, base: base, header: header, target: target}, nil
}

// Scan advances to the next record of the target reference.  It returns
// false when the target's records end, on end of stream, or on error; check
// Err after the loop.
func (s *BoundaryScanner) Scan() bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		if _, err := io.ReadFull(s.bg, s.sizeBuf[:]); err != nil {
			if err != io.EOF {
				s.err = errors.Wrapf(err, "baindex: reading record size for %s", s.target.Name())
			} else if !s.found {
				vlog.VI(1).Infof("stream ended before any %s record; %d records skipped", s.target.Name(), s.skipped)
			}
			s.done = true
			return false
		}
		begin := s.rebase(s.bg.LastChunk().Begin)
		sz := int(binary.LittleEndian.Uint32(s.sizeBuf[:]))
		if sz > maxRecordSize {
			s.err = errors.Errorf("baindex: bam record of %d bytes exceeds max %d", sz, maxRecordSize)
			return false
		}
		if cap(s.buf) < sz {
			s.buf = make([]byte, sz)
		}
		body := s.buf[:sz]
		if _, err := io.ReadFull(s.bg, body); err != nil {
			s.err = errors.Wrapf(err, "baindex: short bam record for %s", s.target.Name())
			return false
		}
		refID := int(int32(binary.LittleEndian.Uint32(body[0:4])))
		if refID != s.target.ID() {
			if s.found {
				vlog.VI(1).Infof("finished scan for %s after %d records", s.target.Name(), s.processed)
				s.done = true
				return false
			}
			s.skipped++
			continue
		}
		if !s.found {
			vlog.VI(1).Infof("found records for %s after skipping %d", s.target.Name(), s.skipped)
			s.found = true
		}
		rec, err := gbam.Unmarshal(body, s.header)
		if err != nil {
			s.err = errors.Wrapf(err, "baindex: decoding record for %s", s.target.Name())
			return false
		}
		s.rec = gbam.CastUp(rec)
		s.chunk = bgzf.Chunk{Begin: begin, End: s.rebase(s.bg.LastChunk().End)}
		s.processed++
		return true
	}
}

// Record returns the record read by the last successful Scan.
func (s *BoundaryScanner) Record() *sam.Record { return s.rec }

// Chunk returns the virtual-offset range of the record read by the last
// successful Scan.
func (s *BoundaryScanner) Chunk() bgzf.Chunk { return s.chunk }

// Err returns the first error encountered, if any.  End of stream and the
// normal end-of-target boundary are not errors.
func (s *BoundaryScanner) Err() error { return s.err }

// Processed returns the number of target records yielded so far.
func (s *BoundaryScanner) Processed() int64 { return s.processed }

// Skipped returns the number of leading non-target records skipped.
func (s *BoundaryScanner) Skipped() int64 { return s.skipped }

// Close releases the underlying bgzf reader.
func (s *BoundaryScanner) Close() error { return s.bg.Close() }

func (s *BoundaryScanner) rebase(off bgzf.Offset) bgzf.Offset {
	off.File += s.base
	return off
}
