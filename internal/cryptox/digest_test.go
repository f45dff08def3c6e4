package cryptox

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_KnownVector(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Digest([]byte("abc")))
	assert.Len(t, Digest(nil), KeyLength)
}

func TestDigest_Deterministic(t *testing.T) {
	a := Digest([]byte("server1.cfg"))
	b := Digest([]byte("server1.cfg"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Digest([]byte("server2.cfg")))
}

func TestChecksum_HexAndStable(t *testing.T) {
	sum := Checksum([]byte("sv_cheats 0\n"))
	_, err := hex.DecodeString(sum)
	require.NoError(t, err)
	assert.Len(t, sum, 64)
	assert.Equal(t, sum, Checksum([]byte("sv_cheats 0\n")))
	assert.NotEqual(t, sum, Digest([]byte("sv_cheats 0\n")), "checksum and key digests must differ")
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("# comment\n")
	assert.True(t, VerifyChecksum(data, Checksum(data)))
	assert.False(t, VerifyChecksum([]byte("# other\n"), Checksum(data)))
	assert.True(t, VerifyChecksum(data, ""), "unrecorded checksum verifies")
}

func TestNewChecksumHash_Streaming(t *testing.T) {
	h := NewChecksumHash()
	_, _ = h.Write([]byte("sv_cheats 0\n"))
	_, _ = h.Write([]byte("# comment\n"))
	assert.Equal(t, Checksum([]byte("sv_cheats 0\n# comment\n")), HexSum(h))
}
