package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompressor(t *testing.T) {
	tests := []struct {
		name    string
		level   int
		wantErr bool
	}{
		{name: "default", level: 0},
		{name: "fastest", level: 1},
		{name: "best", level: 9},
		{name: "huffman only", level: -2},
		{name: "too high", level: 10, wantErr: true},
		{name: "too low", level: -3, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCompressor(tt.level, log.NewLogger())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCompress(t *testing.T) {
	// Given
	c, err := NewCompressor(0, log.NewLogger())
	require.NoError(t, err)
	payload := []byte(strings.Repeat("1700000000000;49.0;13.0;12.5\n", 500))

	// When
	compressed, err := c.Compress(bytes.NewReader(payload))

	// Then
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))
	// zlib header with a compression level flag
	assert.Equal(t, byte(0x78), compressed[0])

	got, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecompress_invalidStream(t *testing.T) {
	_, err := Decompress([]byte("not zlib"))
	require.Error(t, err)
}

func TestDecompress_damagedStream(t *testing.T) {
	c, err := NewCompressor(0, log.NewLogger())
	require.NoError(t, err)
	compressed, err := c.Compress(strings.NewReader(strings.Repeat("1700000000000;49.0;13.0;12.5\n", 50)))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "truncated", data: compressed[:len(compressed)/2]},
		{name: "checksum mismatch", data: append(append([]byte(nil), compressed[:len(compressed)-1]...), compressed[len(compressed)-1]^0xff), want: zlib.ErrChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.data)

			require.Error(t, err)
			assert.Nil(t, got)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
