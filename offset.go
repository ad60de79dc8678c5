// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package baindex

// SequenceSize records how many compressed bytes one reference sequence's
// records occupy in the BAM's record region.  References with no records
// have no entry.
type SequenceSize struct {
	RefID int
	Bytes int64
}

// Window is the slice of the BAM record region that one shard reads.  Offset
// is relative to the start of the record region, not the start of the file.
// ExpectedBytes is zero when the target reference has no records, in which
// case the shard writes an empty index segment without reading the BAM.
type Window struct {
	Offset           int64
	ExpectedBytes    int64
	SkippedSequences int
}

// ResolveWindow computes the byte window for the shard indexing refID.  The
// offset is the sum of the sizes of all references that precede refID in the
// file; table order is irrelevant and a missing entry for refID is the valid
// empty-shard case, not an error.
func ResolveWindow(refID int, sizes []SequenceSize) Window {
	var w Window
	for _, s := range sizes {
		switch {
		case s.RefID < refID:
			w.Offset += s.Bytes
			w.SkippedSequences++
		case s.RefID == refID:
			w.ExpectedBytes = s.Bytes
		}
	}
	return w
}
