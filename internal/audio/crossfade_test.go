/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestCrossfadePCMPartsEndpoints(t *testing.T) {
	// constant signals: fade-in all 10000, fade-out all 20000
	n := 100
	fadeIn := make([]int16, n)
	fadeOut := make([]int16, n)
	for i := range fadeIn {
		fadeIn[i] = 10000
		fadeOut[i] = 20000
	}
	out := CrossfadePCMParts(pcm16(fadeIn...), pcm16(fadeOut...), 16, 44100)
	if len(out) != n*2 {
		t.Fatalf("unexpected output length: %d", len(out))
	}

	first := int16(binary.LittleEndian.Uint16(out[:2]))
	last := int16(binary.LittleEndian.Uint16(out[len(out)-2:]))
	// start is pure fade-out, end is pure fade-in
	if first != 20000 {
		t.Fatalf("first sample = %d, want 20000", first)
	}
	if last != 10000 {
		t.Fatalf("last sample = %d, want 10000", last)
	}

	// the midpoint carries both signals at equal power (gain 1/sqrt2 each)
	mid := int16(binary.LittleEndian.Uint16(out[(n/2)*2:]))
	wantF := float64(10000+20000) / math.Sqrt2
	want := int16(wantF)
	if diff := int(mid) - int(want); diff < -600 || diff > 600 {
		t.Fatalf("midpoint sample = %d, want approx %d", mid, want)
	}
}

func TestCrossfadePCMPartsAppendsFadeInTail(t *testing.T) {
	fadeIn := pcm16(1, 2, 3, 4, 5, 6)
	fadeOut := pcm16(100, 100)
	out := CrossfadePCMParts(fadeIn, fadeOut, 16, 44100)
	if len(out) != len(fadeIn) {
		t.Fatalf("output length %d, want %d", len(out), len(fadeIn))
	}
	// bytes beyond the blend window belong to the new track untouched
	for i := 2; i < 6; i++ {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != int16(i+1) {
			t.Fatalf("tail sample %d = %d, want %d", i, got, i+1)
		}
	}
}

func TestCrossfadePCMPartsClamps(t *testing.T) {
	// the midpoint sums both signals at gain 1/sqrt2 each, which would
	// overflow int16 without clamping
	fadeIn := pcm16(math.MaxInt16, math.MaxInt16, math.MaxInt16)
	fadeOut := pcm16(math.MaxInt16, math.MaxInt16, math.MaxInt16)
	out := CrossfadePCMParts(fadeIn, fadeOut, 16, 44100)
	for i := 0; i < 3; i++ {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != math.MaxInt16 {
			t.Fatalf("sample %d = %d, want clamp at %d", i, got, math.MaxInt16)
		}
	}
}

func TestSampleRoundTrip24Bit(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 8388607, -8388608, 123456, -123456} {
		buf := make([]byte, 3)
		writeSampleLE(buf, v, 24)
		if got := readSampleLE(buf, 24); got != v {
			t.Fatalf("24 bit round trip: wrote %d, read %d", v, got)
		}
	}
}

func TestSampleRoundTrip32Bit(t *testing.T) {
	for _, v := range []int64{0, math.MaxInt32, math.MinInt32, -42} {
		buf := make([]byte, 4)
		writeSampleLE(buf, v, 32)
		if got := readSampleLE(buf, 32); got != v {
			t.Fatalf("32 bit round trip: wrote %d, read %d", v, got)
		}
	}
}
