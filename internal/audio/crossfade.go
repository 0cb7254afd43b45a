/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import "math"

// CrossfadePCMParts blends the fade-in part of the next track with the
// fade-out part of the previous track using equal-power (sine/cosine)
// gain curves, so perceived loudness stays constant across the boundary.
//
// Both parts must be raw signed little-endian PCM in the given bit depth.
// The blend covers min(len(fadeIn), len(fadeOut)) bytes, aligned down to a
// whole sample; any remaining fade-in bytes are appended untouched since
// they belong to the new track.
func CrossfadePCMParts(fadeIn, fadeOut []byte, bitDepth, sampleRate int) []byte {
	_ = sampleRate // window length is implied by the part sizes
	bytesPerSample := bitDepth / 8
	n := min(len(fadeIn), len(fadeOut))
	n -= n % bytesPerSample
	samples := n / bytesPerSample

	out := make([]byte, 0, len(fadeIn))
	buf := make([]byte, n)
	for i := 0; i < samples; i++ {
		var p float64
		if samples > 1 {
			p = float64(i) / float64(samples-1)
		}
		gainIn := math.Sin(p * math.Pi / 2)
		gainOut := math.Cos(p * math.Pi / 2)
		off := i * bytesPerSample
		a := readSampleLE(fadeIn[off:off+bytesPerSample], bitDepth)
		b := readSampleLE(fadeOut[off:off+bytesPerSample], bitDepth)
		mixed := int64(float64(a)*gainIn + float64(b)*gainOut)
		writeSampleLE(buf[off:off+bytesPerSample], clampSample(mixed, bitDepth), bitDepth)
	}
	out = append(out, buf...)
	if len(fadeIn) > n {
		out = append(out, fadeIn[n:]...)
	}
	return out
}

func clampSample(v int64, bitDepth int) int64 {
	maxVal := int64(1)<<(bitDepth-1) - 1
	minVal := -int64(1) << (bitDepth - 1)
	if v > maxVal {
		return maxVal
	}
	if v < minVal {
		return minVal
	}
	return v
}

func readSampleLE(b []byte, bitDepth int) int64 {
	var v int64
	switch bitDepth {
	case 16:
		v = int64(int16(uint16(b[0]) | uint16(b[1])<<8))
	case 24:
		u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		// sign extend
		if u&0x800000 != 0 {
			u |= 0xff000000
		}
		v = int64(int32(u))
	case 32:
		v = int64(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	}
	return v
}

func writeSampleLE(b []byte, v int64, bitDepth int) {
	switch bitDepth {
	case 16:
		u := uint16(int16(v))
		b[0] = byte(u)
		b[1] = byte(u >> 8)
	case 24:
		u := uint32(int32(v))
		b[0] = byte(u)
		b[1] = byte(u >> 8)
		b[2] = byte(u >> 16)
	case 32:
		u := uint32(int32(v))
		b[0] = byte(u)
		b[1] = byte(u >> 8)
		b[2] = byte(u >> 16)
		b[3] = byte(u >> 24)
	}
}
