package main

import (
	"testing"

	"github.com/grailbio/baindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizes(t *testing.T) {
	sizes, err := parseSizes("0:1000, 1:0,3:512")
	require.NoError(t, err)
	assert.Equal(t, []baindex.SequenceSize{
		{RefID: 0, Bytes: 1000},
		{RefID: 1, Bytes: 0},
		{RefID: 3, Bytes: 512},
	}, sizes)

	sizes, err = parseSizes("")
	require.NoError(t, err)
	assert.Empty(t, sizes)

	_, err = parseSizes("0=1000")
	assert.Error(t, err)
	_, err = parseSizes("x:1000")
	assert.Error(t, err)
	_, err = parseSizes("0:many")
	assert.Error(t, err)
}
