// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package baindex builds a .bai index for a large coordinate-sorted BAM file
// as a set of independent per-reference shards.  Each shard reads only the
// byte range of the BAM that holds its reference's records, builds the index
// block for that one reference, and writes it to a deterministic path next to
// the BAM.  A downstream merge step concatenates the per-reference segments
// in reference order and appends the file-wide no-coordinate read count,
// which each shard reports as a side result.
//
// The package assumes the BAM's alignment records are grouped by ascending
// reference ID (the coordinate-sorted convention) and that the per-reference
// byte sizes handed to ResolveWindow cover the whole record region of the
// file.  Neither precondition is verified here; both are established by the
// pipeline that wrote the BAM.
package baindex
