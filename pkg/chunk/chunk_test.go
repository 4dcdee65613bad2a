package chunk

import (
	"bytes"
	"crypto/sha256"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInputProducesZeroBlocks(t *testing.T) {
	blocks, err := All(strings.NewReader(""), 16)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestExactMultipleOfBlockSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x41}, 32)
	blocks, err := All(bytes.NewReader(data), 16)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Equal(t, 16, b.Length)
	}
	assert.Equal(t, blocks[0].Hash, blocks[1].Hash, "identical content must hash identically")
}

func TestShortTailBlock(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, 16+7)
	blocks, err := All(bytes.NewReader(data), 16)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, 16, blocks[0].Length)
	assert.Equal(t, 7, blocks[1].Length)
}

func TestHashMatchesSHA256(t *testing.T) {
	data := []byte("the quick brown fox")
	blocks, err := All(bytes.NewReader(data), 1024)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	want := sha256.Sum256(data)
	assert.Equal(t, Hash(want), blocks[0].Hash)
}

func TestNextReturnsEOFAfterLastBlock(t *testing.T) {
	c, err := New(strings.NewReader("abc"), 16)
	require.NoError(t, err)

	b, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, b.Length)

	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewRejectsNonPositiveBlockSize(t *testing.T) {
	_, err := New(strings.NewReader(""), 0)
	assert.Error(t, err)
}

func TestHashStringIsLowercaseHex(t *testing.T) {
	var h Hash
	h[0] = 0xAB
	assert.Equal(t, "ab" + "00000000000000000000000000000000000000000000000000000000000000", h.String())
}
