package baindex_test

import (
	"bytes"
	"os"
	"testing"

	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

// makeHeader returns a header with the given reference names, each 1 Mbp.
func makeHeader(t *testing.T, names ...string) *sam.Header {
	refs := make([]*sam.Reference, 0, len(names))
	for _, name := range names {
		ref, err := sam.NewReference(name, "", "", 1<<20, nil, nil)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	header, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	return header
}

func makeRecord(t *testing.T, ref *sam.Reference, name string, pos int) *sam.Record {
	rec, err := sam.NewRecord(name, ref, nil, pos, -1, 0, 0,
		[]sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 4)},
		[]byte("ACGT"), []byte{30, 30, 30, 30}, nil)
	require.NoError(t, err)
	return rec
}

// headerPiece compresses the BAM-binary header as a standalone bgzf stream,
// the way the surrounding pipeline writes it before composing the file.
func headerPiece(t *testing.T, header *sam.Header) []byte {
	data, err := gbam.MarshalHeader(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	w := bgzf.NewWriter(&buf, 1)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// recordPiece compresses raw size-prefixed records as a standalone bgzf
// stream.
func recordPiece(t *testing.T, recs ...*sam.Record) []byte {
	var raw bytes.Buffer
	for _, rec := range recs {
		require.NoError(t, gbam.Marshal(rec, &raw))
	}
	var buf bytes.Buffer
	w := bgzf.NewWriter(&buf, 1)
	_, err := w.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// writeComposedBAM concatenates pieces into a BAM file at path.
func writeComposedBAM(t *testing.T, path string, pieces ...[]byte) {
	var all []byte
	for _, p := range pieces {
		all = append(all, p...)
	}
	require.NoError(t, os.WriteFile(path, all, 0644))
}
