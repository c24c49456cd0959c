package compression_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lifo4ems/crl/internal/compression"
)

func repeat(s string, n int) []byte {
	return []byte(strings.Repeat(s, n))
}

func TestCompressDecompress_RoundTrip(t *testing.T) {
	svc := compression.New(nil)
	data := repeat("hello world ", 200)

	for _, alg := range []compression.Algorithm{
		compression.None, compression.Gzip, compression.Deflate,
		compression.LZ4, compression.Zstd, compression.Brotli,
	} {
		t.Run(string(alg), func(t *testing.T) {
			result, err := svc.Compress(data, alg)
			require.NoError(t, err)

			out, err := svc.Decompress(result.Data, result.Algorithm)
			require.NoError(t, err)
			require.True(t, bytes.Equal(data, out))
		})
	}
}

func TestCompress_NeverExpandsPayload(t *testing.T) {
	svc := compression.New(nil)
	// Small, high-entropy-ish payload where every real codec's framing
	// overhead would exceed the input.
	data := []byte("x")

	for _, alg := range []compression.Algorithm{compression.Gzip, compression.Deflate, compression.LZ4, compression.Zstd, compression.Brotli} {
		result, err := svc.Compress(data, alg)
		require.NoError(t, err)
		require.LessOrEqual(t, result.CompressedSize, result.OriginalSize)
		require.Equal(t, compression.None, result.Algorithm)
	}
}

func TestCompress_UnsupportedAlgorithm(t *testing.T) {
	svc := compression.New(nil)
	_, err := svc.Compress([]byte("x"), compression.Algorithm("DOES_NOT_EXIST"))
	require.Error(t, err)
}

func TestCompressAdaptive_SmallPayloadStaysUncompressed(t *testing.T) {
	svc := compression.New(nil)
	svc.UpdateNetworkConditions(500, 20)

	result, err := svc.CompressAdaptive([]byte("tiny"))
	require.NoError(t, err)
	require.Equal(t, compression.None, result.Algorithm)
}

func TestCompressAdaptive_SlowLinkPrefersHeavyCompression(t *testing.T) {
	svc := compression.New(nil)
	svc.UpdateNetworkConditions(10, 200)

	data := repeat("compress me please ", 500)
	result, err := svc.CompressAdaptive(data)
	require.NoError(t, err)
	require.NotEqual(t, compression.None, result.Algorithm)
	require.Less(t, result.CompressedSize, result.OriginalSize)
}

func TestCompressAdaptive_FastLinkSkipsSmallPayload(t *testing.T) {
	svc := compression.New(nil)
	svc.UpdateNetworkConditions(5000, 5)

	data := repeat("y", 500)
	result, err := svc.CompressAdaptive(data)
	require.NoError(t, err)
	require.Equal(t, compression.None, result.Algorithm)
}

func TestGetStats_AccumulatesAcrossCalls(t *testing.T) {
	svc := compression.New(nil)
	data := repeat("abc", 1000)

	_, err := svc.Compress(data, compression.Gzip)
	require.NoError(t, err)
	_, err = svc.Compress(data, compression.Gzip)
	require.NoError(t, err)

	stats := svc.GetStats()
	require.EqualValues(t, 2, stats[compression.Gzip].Count)
	require.Greater(t, stats[compression.Gzip].MeanRatio, 0.0)
}
