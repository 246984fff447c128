package audio

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// EncodeS16LE converts mono float32 samples to little-endian 16-bit PCM.
// Samples are scaled by 32768 and clamped to the int16 range, so inputs at
// exactly +1.0 (or beyond, from a hot microphone) cannot wrap around.
func EncodeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

var warnedOddPCM sync.Once

// DecodeS16LE converts little-endian 16-bit PCM to mono float32 samples in
// [-1, 1). A trailing odd byte is dropped; the first occurrence is logged.
func DecodeS16LE(pcm []byte) []float32 {
	if len(pcm)%2 != 0 {
		warnedOddPCM.Do(func() {
			slog.Warn("audio: odd byte count in s16le PCM, dropping trailing byte", "bytes", len(pcm))
		})
		pcm = pcm[:len(pcm)-1]
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768
	}
	return out
}

// RMS computes the root-mean-square energy of the samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCMDuration returns the playing time of n bytes of s16le mono PCM at rate Hz.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}
