/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"slices"
	"strings"
	"testing"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	idx := slices.Index(args, flag)
	if idx < 0 || idx+1 >= len(args) {
		t.Fatalf("flag %s not found in %v", flag, args)
	}
	return args[idx+1]
}

func testFormats() (Format, Format) {
	input := Format{ContentType: ContentTypePCMS24LE, SampleRate: 48000, BitDepth: 24, Channels: 2}
	output := Format{ContentType: ContentTypeFLAC, SampleRate: 48000, BitDepth: 24, Channels: 2}
	return input, output
}

func TestBuildPlayerArgsInputSection(t *testing.T) {
	input, output := testFormats()
	args := BuildPlayerArgs(FilterOptions{}, input, output, false)

	if got := argValue(t, args, "-f"); got != "s24le" {
		t.Fatalf("input format = %q", got)
	}
	if got := argValue(t, args, "-channel_layout"); got != "stereo" {
		t.Fatalf("channel layout = %q", got)
	}
	if got := argValue(t, args, "-ar"); got != "48000" {
		t.Fatalf("input sample rate = %q", got)
	}
	if got := argValue(t, args, "-i"); got != "-" {
		t.Fatalf("input = %q, want stdin", got)
	}
	if args[len(args)-1] != "-" {
		t.Fatal("output must go to stdout")
	}
}

func TestBuildPlayerArgsFLACUsesFastCompression(t *testing.T) {
	input, output := testFormats()
	args := BuildPlayerArgs(FilterOptions{}, input, output, false)
	if got := argValue(t, args, "-compression_level"); got != "0" {
		t.Fatalf("compression level = %q", got)
	}
	// lossless outputs pin the sample rate
	if !slices.Contains(args, "-ar") {
		t.Fatal("expected -ar for lossless output")
	}
}

func TestBuildPlayerArgsAACAndMP3Bitrates(t *testing.T) {
	input, output := testFormats()

	output.ContentType = ContentTypeAAC
	args := BuildPlayerArgs(FilterOptions{}, input, output, false)
	if got := argValue(t, args, "-c:a"); got != "aac" {
		t.Fatalf("aac codec = %q", got)
	}
	if !slices.Contains(args, "adts") {
		t.Fatal("aac must be wrapped in adts")
	}
	if got := argValue(t, args, "-b:a"); got != "320k" {
		t.Fatalf("aac bitrate = %q", got)
	}

	output.ContentType = ContentTypeMP3
	args = BuildPlayerArgs(FilterOptions{}, input, output, false)
	if got := argValue(t, args, "-b:a"); got != "320k" {
		t.Fatalf("mp3 bitrate = %q", got)
	}
	// lossy outputs let the encoder pick the rate
	count := 0
	for _, a := range args {
		if a == "-ar" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("lossy output should only carry the input -ar, found %d", count)
	}
}

func TestBuildPlayerArgsFilterChain(t *testing.T) {
	input, output := testFormats()
	args := BuildPlayerArgs(FilterOptions{EQBass: 2, EQTreble: -1.5, OutputChannels: "left"}, input, output, false)
	af := argValue(t, args, "-af")
	if !strings.Contains(af, "equalizer=frequency=100:width=200") {
		t.Fatalf("missing bass filter: %q", af)
	}
	if strings.Contains(af, "frequency=900:") {
		t.Fatalf("mid filter present without gain: %q", af)
	}
	if !strings.Contains(af, "equalizer=frequency=9000:width=18000") {
		t.Fatalf("missing treble filter: %q", af)
	}
	if !strings.Contains(af, "pan=mono|c0=FL") {
		t.Fatalf("missing left channel pan: %q", af)
	}

	args = BuildPlayerArgs(FilterOptions{}, input, output, false)
	if slices.Contains(args, "-af") {
		t.Fatal("filter chain present without filters")
	}
}

func TestBuildPlayerArgsVerboseLogLevel(t *testing.T) {
	input, output := testFormats()
	if got := argValue(t, BuildPlayerArgs(FilterOptions{}, input, output, true), "-loglevel"); got != "warning" {
		t.Fatalf("verbose loglevel = %q", got)
	}
	if got := argValue(t, BuildPlayerArgs(FilterOptions{}, input, output, false), "-loglevel"); got != "quiet" {
		t.Fatalf("quiet loglevel = %q", got)
	}
}
