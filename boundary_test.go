package baindex_test

import (
	"bytes"
	"testing"

	"github.com/grailbio/baindex"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundaryScanMidStream(t *testing.T) {
	header := makeHeader(t, "chrA", "chrB", "chrC")
	refs := header.Refs()
	stream := bytes.Join([][]byte{
		recordPiece(t,
			makeRecord(t, refs[0], "a1", 100),
			makeRecord(t, refs[0], "a2", 200),
			makeRecord(t, refs[0], "a3", 300)),
		recordPiece(t,
			makeRecord(t, refs[1], "b1", 10),
			makeRecord(t, refs[1], "b2", 20)),
		recordPiece(t,
			makeRecord(t, refs[2], "c1", 5),
			makeRecord(t, refs[2], "c2", 50)),
	}, nil)

	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), 0, header, refs[1])
	require.NoError(t, err)
	var got []string
	for sc.Scan() {
		expect.EQ(t, sc.Record().Ref.Name(), "chrB")
		got = append(got, sc.Record().Name)
	}
	assert.NoError(t, sc.Err())
	expect.EQ(t, got, []string{"b1", "b2"})
	expect.EQ(t, sc.Processed(), int64(2))
	expect.EQ(t, sc.Skipped(), int64(3))
	assert.NoError(t, sc.Close())
}

func TestBoundaryScanAtTargetStart(t *testing.T) {
	header := makeHeader(t, "chrA", "chrB")
	refs := header.Refs()
	stream := recordPiece(t,
		makeRecord(t, refs[1], "b1", 10),
		makeRecord(t, refs[1], "b2", 20))

	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), 0, header, refs[1])
	require.NoError(t, err)
	n := 0
	for sc.Scan() {
		n++
	}
	assert.NoError(t, sc.Err())
	expect.EQ(t, n, 2)
	expect.EQ(t, sc.Skipped(), int64(0))
	assert.NoError(t, sc.Close())
}

func TestBoundaryScanTargetAbsent(t *testing.T) {
	header := makeHeader(t, "chrA", "chrB")
	refs := header.Refs()
	stream := recordPiece(t,
		makeRecord(t, refs[0], "a1", 100),
		makeRecord(t, refs[0], "a2", 200))

	// The stream ends without any chrB record: a valid, empty result.
	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), 0, header, refs[1])
	require.NoError(t, err)
	expect.False(t, sc.Scan())
	assert.NoError(t, sc.Err())
	expect.EQ(t, sc.Processed(), int64(0))
	expect.EQ(t, sc.Skipped(), int64(2))
	assert.NoError(t, sc.Close())
}

func TestBoundaryScanEmptyStream(t *testing.T) {
	header := makeHeader(t, "chrA")
	stream := recordPiece(t) // bgzf stream with no records

	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), 0, header, header.Refs()[0])
	require.NoError(t, err)
	expect.False(t, sc.Scan())
	assert.NoError(t, sc.Err())
	assert.NoError(t, sc.Close())
}

// A scanner opened mid-file must report chunks positioned in the whole BAM,
// not relative to where its own stream began.
func TestBoundaryScanAbsoluteOffsets(t *testing.T) {
	header := makeHeader(t, "chrA")
	refs := header.Refs()
	stream := recordPiece(t,
		makeRecord(t, refs[0], "a1", 100),
		makeRecord(t, refs[0], "a2", 200))

	const base = int64(123456)
	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), base, header, refs[0])
	require.NoError(t, err)
	require.True(t, sc.Scan())
	// The first record sits in the stream's first bgzf block, which starts at
	// base in the file.
	expect.EQ(t, sc.Chunk().Begin.File, base)
	for sc.Scan() {
		assert.True(t, sc.Chunk().Begin.File >= base)
	}
	assert.NoError(t, sc.Err())
	assert.NoError(t, sc.Close())
}

func TestBoundaryScanChunks(t *testing.T) {
	header := makeHeader(t, "chrA")
	refs := header.Refs()
	stream := recordPiece(t,
		makeRecord(t, refs[0], "a1", 100),
		makeRecord(t, refs[0], "a2", 200))

	sc, err := baindex.NewBoundaryScanner(bytes.NewReader(stream), 0, header, refs[0])
	require.NoError(t, err)
	var prevEnd uint64
	for sc.Scan() {
		c := sc.Chunk()
		begin := uint64(c.Begin.File)<<16 | uint64(c.Begin.Block)
		end := uint64(c.End.File)<<16 | uint64(c.End.Block)
		assert.True(t, end > begin, "record chunk must be non-empty")
		assert.True(t, begin >= prevEnd, "record chunks must advance")
		prevEnd = end
	}
	assert.NoError(t, sc.Err())
	expect.EQ(t, sc.Processed(), int64(2))
	assert.NoError(t, sc.Close())
}
