package bodystore

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbridge/pkg/domain"
)

func TestAddAndGet(t *testing.T) {
	s := New(10, 100)
	assert.Zero(t, s.Add("1", []byte("hello"), nil))

	b, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b.Data)
	assert.False(t, b.Evicted)
	assert.Equal(t, 5, s.TotalSize())
}

func TestGetUnknown(t *testing.T) {
	s := New(10, 100)
	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, domain.ErrRequestNotFound))
}

func TestOversizeBodyIsEvicted(t *testing.T) {
	s := New(4, 100)
	s.Add("1", []byte("12345"), nil)

	b, err := s.Get("1")
	require.NoError(t, err)
	assert.True(t, b.Evicted)
	assert.Empty(t, b.Data)
	assert.Zero(t, s.TotalSize())
}

func TestEvictionFollowsInsertionOrder(t *testing.T) {
	s := New(10, 20)
	for i := 1; i <= 4; i++ {
		s.Add(fmt.Sprint(i), bytes.Repeat([]byte{'x'}, 6), nil)
	}
	// 24 > 20: the oldest entry goes first
	assert.Equal(t, 18, s.TotalSize())

	b, err := s.Get("1")
	require.NoError(t, err)
	assert.True(t, b.Evicted)
	for _, id := range []string{"2", "3", "4"} {
		b, err := s.Get(id)
		require.NoError(t, err)
		assert.False(t, b.Evicted, id)
	}

	s.Add("5", bytes.Repeat([]byte{'y'}, 10), nil)
	// 28 > 20: entries 2 and 3 are evicted in order, 4 survives
	assert.Equal(t, 16, s.TotalSize())
	for id, evicted := range map[string]bool{"2": true, "3": true, "4": false, "5": false} {
		b, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, evicted, b.Evicted, id)
	}
	assert.Equal(t, 5, s.Len(), "metadata of evicted entries is retained")
}

func TestTotalNeverExceedsCap(t *testing.T) {
	s := New(50, 100)
	sizes := []int{30, 50, 10, 45, 1, 50, 20, 33, 49, 7}
	for i, n := range sizes {
		s.Add(fmt.Sprint(i), make([]byte, n), nil)
		assert.LessOrEqual(t, s.TotalSize(), 100)
	}
}

func TestSecondAddIsIgnored(t *testing.T) {
	s := New(10, 100)
	s.Add("1", []byte("first"), nil)
	s.Add("1", []byte("second"), nil)

	b, err := s.Get("1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), b.Data)
	assert.Equal(t, 5, s.TotalSize())
}

func TestDefaults(t *testing.T) {
	s := New(0, 0)
	assert.Equal(t, DefaultMaxTotalSize, s.maxTotalSize)
	assert.Equal(t, DefaultMaxResponseSize, s.maxResponseSize)
}

func gzipped(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestGetDecodesContent(t *testing.T) {
	plain := []byte("hello world")

	var zl bytes.Buffer
	zw := zlib.NewWriter(&zl)
	_, _ = zw.Write(plain)
	require.NoError(t, zw.Close())

	var raw bytes.Buffer
	fw, err := flate.NewWriter(&raw, flate.DefaultCompression)
	require.NoError(t, err)
	_, _ = fw.Write(plain)
	require.NoError(t, fw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	zs := enc.EncodeAll(plain, nil)
	layered := enc.EncodeAll(gzipped(t, plain), nil)
	require.NoError(t, enc.Close())

	tests := []struct {
		name      string
		body      []byte
		encodings []string
	}{
		{"gzip", gzipped(t, plain), []string{"gzip"}},
		{"zlib deflate", zl.Bytes(), []string{"deflate"}},
		{"raw deflate", raw.Bytes(), []string{"deflate"}},
		{"zstd", zs, []string{"zstd"}},
		{"gzip twice", gzipped(t, gzipped(t, plain)), []string{"gzip", "x-gzip"}},
		// 先 gzip 后 zstd，头部按应用顺序列出
		{"gzip then zstd", layered, ParseEncodings("gzip, zstd")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(0, 0)
			s.Add("1", tt.body, tt.encodings)
			b, err := s.Get("1")
			require.NoError(t, err)
			assert.Equal(t, plain, b.Data)
		})
	}
}

func TestDecodeFailureYieldsEmptyBody(t *testing.T) {
	s := New(0, 0)
	s.Add("1", []byte("not gzip"), []string{"gzip"})
	s.Add("2", []byte("whatever"), []string{"br"})

	for _, id := range []string{"1", "2"} {
		b, err := s.Get(id)
		require.NoError(t, err)
		assert.Empty(t, b.Data)
		assert.False(t, b.Evicted)
	}
}

func TestParseEncodings(t *testing.T) {
	assert.Nil(t, ParseEncodings(""))
	assert.Equal(t, []string{"gzip", "zstd"}, ParseEncodings(" GZIP, identity ,zstd"))
}
