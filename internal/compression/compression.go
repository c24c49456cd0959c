// Package compression implements the CompressionService: algorithm
// selection plus compress/decompress of opaque payloads.
package compression

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lifo4ems/crl/internal/crlerrors"
)

// Algorithm identifies one of the six compression schemes
// names.
type Algorithm string

const (
	None Algorithm = "NONE"
	Gzip Algorithm = "GZIP"
	Deflate Algorithm = "DEFLATE"
	Brotli Algorithm = "BROTLI"
	LZ4 Algorithm = "LZ4"
	Zstd Algorithm = "ZSTD"
)

// Result is what Compress returns.
type Result struct {
	Data []byte
	Algorithm Algorithm
	OriginalSize int
	CompressedSize int
	Ratio float64 // compressedSize / originalSize; lower is better.
	DurationMs float64
}

// codec is the internal plug-in surface each algorithm implements.
type codec interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
}

// Service is the CompressionService. It is safe for concurrent use.
type Service struct {
	logger *slog.Logger

	codecs map[Algorithm]codec

	mu sync.Mutex
	stats map[Algorithm]*algoStats
	bandwidthKbps float64
	latencyMs float64
	adaptiveCfg AdaptiveThresholds
}

// AdaptiveThresholds are the tuning parameters behind CompressAdaptive,
// exposed as configuration rather than hardcoded.
type AdaptiveThresholds struct {
	SmallPayloadBytes int
	FastBandwidthKbps float64
	FastBandwidthMaxBytes int
	SlowBandwidthKbps float64
	MediumBandwidthKbps float64
	MinUsefulRatio float64 // ratio >= this value falls back to NONE.
}

// DefaultAdaptiveThresholds returns the documented default tuning values.
func DefaultAdaptiveThresholds() AdaptiveThresholds {
	return AdaptiveThresholds{
		SmallPayloadBytes: 100,
		FastBandwidthKbps: 1000,
		FastBandwidthMaxBytes: 10 * 1024,
		SlowBandwidthKbps: 100,
		MediumBandwidthKbps: 500,
		MinUsefulRatio: 0.95,
	}
}

type algoStats struct {
	count int64
	originalBytes int64
	compressedBytes int64
	ratioSum float64
	durationMsSum float64
}

// New constructs a Service with all six algorithms registered. If the
// host lacks a usable brotli implementation, brotli compresses fall back
// to GZIP transparently.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		logger: logger,
		codecs: make(map[Algorithm]codec),
		stats: make(map[Algorithm]*algoStats),
		adaptiveCfg: DefaultAdaptiveThresholds(),
	}

	s.codecs[None] = noneCodec{}
	s.codecs[Gzip] = gzipCodec{}
	s.codecs[Deflate] = deflateCodec{}
	s.codecs[LZ4] = lz4Codec{}
	s.codecs[Zstd] = zstdCodec{}
	s.codecs[Brotli] = brotliCodec{}

	for alg := range s.codecs {
		s.stats[alg] = &algoStats{}
	}

	return s
}

// WithAdaptiveThresholds overrides the adaptive tuning parameters.
func (s *Service) WithAdaptiveThresholds(t AdaptiveThresholds) *Service {
	s.mu.Lock()
	s.adaptiveCfg = t
	s.mu.Unlock()
	return s
}

// Compress compresses data with the named algorithm. NONE returns the
// input unchanged. If the compressed form is not smaller than the
// input, the result silently falls back to NONE — compression must
// never increase payload size.
func (s *Service) Compress(data []byte, alg Algorithm) (Result, error) {
	start := time.Now()

	c, ok := s.codecs[alg]
	if !ok {
		return Result{}, fmt.Errorf("compression: %q: %w", alg, crlerrors.ErrUnsupportedAlgorithm)
	}

	if alg == None {
		return s.record(Result{
				Data: data, Algorithm: None,
				OriginalSize: len(data), CompressedSize: len(data), Ratio: 1,
				DurationMs: elapsedMs(start),
		}), nil
	}

	out, err := c.Compress(data)
	if err != nil {
		if alg == Brotli {
			s.logger.Warn("COMPRESSION_BROTLI_FALLBACK", "err", fmt.Errorf("%w: %v", crlerrors.ErrBrotliUnavailable, err))
			return s.Compress(data, Gzip)
		}
		return Result{}, fmt.Errorf("compression: %s compress: %w", alg, err)
	}

	if len(out) >= len(data) {
		// Never expand the payload: fall back to NONE.
		return s.record(Result{
				Data: data, Algorithm: None,
				OriginalSize: len(data), CompressedSize: len(data), Ratio: 1,
				DurationMs: elapsedMs(start),
		}), nil
	}

	ratio := float64(len(out)) / float64(max(len(data), 1))
	return s.record(Result{
			Data: out, Algorithm: alg,
			OriginalSize: len(data), CompressedSize: len(out), Ratio: ratio,
			DurationMs: elapsedMs(start),
	}), nil
}

// Decompress reverses Compress for the given algorithm.
func (s *Service) Decompress(data []byte, alg Algorithm) ([]byte, error) {
	if alg == None {
		return data, nil
	}
	c, ok := s.codecs[alg]
	if !ok {
		return nil, fmt.Errorf("compression: %q: %w", alg, crlerrors.ErrUnsupportedAlgorithm)
	}
	out, err := c.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("compression: %s decompress: %w", alg, err)
	}
	return out, nil
}

// UpdateNetworkConditions records the caller's latest bandwidth/latency
// observation for the adaptive chooser.
func (s *Service) UpdateNetworkConditions(bandwidthKbps float64, latencyMs float64) {
	s.mu.Lock()
	s.bandwidthKbps = bandwidthKbps
	s.latencyMs = latencyMs
	s.mu.Unlock()
}

// CompressAdaptive chooses an algorithm per a decision table based on
// payload size and the last-observed bandwidth, then compresses with it.
func (s *Service) CompressAdaptive(data []byte) (Result, error) {
	s.mu.Lock()
	bw := s.bandwidthKbps
	cfg := s.adaptiveCfg
	s.mu.Unlock()

	alg := s.chooseAdaptive(len(data), bw, cfg)
	result, err := s.Compress(data, alg)
	if err != nil {
		return Result{}, err
	}

	if result.Algorithm != None && result.Ratio >= cfg.MinUsefulRatio {
		return s.Compress(data, None)
	}
	return result, nil
}

func (s *Service) chooseAdaptive(size int, bandwidthKbps float64, cfg AdaptiveThresholds) Algorithm {
	if size < cfg.SmallPayloadBytes {
		return None
	}
	if bandwidthKbps >= cfg.FastBandwidthKbps && size < cfg.FastBandwidthMaxBytes {
		return None
	}
	if bandwidthKbps < cfg.SlowBandwidthKbps {
		if s.codecs[Brotli] != nil {
			return Brotli
		}
		return Gzip
	}
	if bandwidthKbps < cfg.MediumBandwidthKbps {
		return Gzip
	}
	if _, ok := s.codecs[LZ4]; ok {
		return LZ4
	}
	return Gzip
}

// AlgorithmStats is one row of GetStats's per-algorithm breakdown.
type AlgorithmStats struct {
	Count int64
	OriginalBytes int64
	CompressedBytes int64
	MeanRatio float64
	MeanDurationMs float64
}

// GetStats returns the monotonically non-decreasing per-algorithm
// counters.
func (s *Service) GetStats() map[Algorithm]AlgorithmStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Algorithm]AlgorithmStats, len(s.stats))
	for alg, st := range s.stats {
		row := AlgorithmStats{
			Count: st.count,
			OriginalBytes: st.originalBytes,
			CompressedBytes: st.compressedBytes,
		}
		if st.count > 0 {
			row.MeanRatio = st.ratioSum / float64(st.count)
			row.MeanDurationMs = st.durationMsSum / float64(st.count)
		}
		out[alg] = row
	}
	return out
}

func (s *Service) record(r Result) Result {
	s.mu.Lock()
	st, ok := s.stats[r.Algorithm]
	if !ok {
		st = &algoStats{}
		s.stats[r.Algorithm] = st
	}
	st.count++
	st.originalBytes += int64(r.OriginalSize)
	st.compressedBytes += int64(r.CompressedSize)
	st.ratioSum += r.Ratio
	st.durationMsSum += r.DurationMs
	s.mu.Unlock()
	return r
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
