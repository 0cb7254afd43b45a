/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio holds the audio format model, the raw PCM helpers used by
// the flow pipeline and the ffmpeg transcoder driver.
package audio

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentType identifies an audio codec or raw PCM variant. The string
// value doubles as the ffmpeg container/format name where applicable.
type ContentType string

const (
	ContentTypeOGG  ContentType = "ogg"
	ContentTypeFLAC ContentType = "flac"
	ContentTypeMP3  ContentType = "mp3"
	ContentTypeAAC  ContentType = "aac"
	ContentTypeM4A  ContentType = "m4a"
	ContentTypeMPEG ContentType = "mpeg"
	ContentTypeALAC ContentType = "alac"
	ContentTypeWAV  ContentType = "wav"
	ContentTypeAIFF ContentType = "aiff"
	ContentTypeWMA  ContentType = "wma"
	ContentTypeDSF  ContentType = "dsf"

	// Raw PCM variants, named after the matching ffmpeg formats.
	ContentTypePCMS16LE ContentType = "s16le"
	ContentTypePCMS24LE ContentType = "s24le"
	ContentTypePCMS32LE ContentType = "s32le"
	ContentTypePCMF32LE ContentType = "f32le"
	ContentTypePCMF64LE ContentType = "f64le"
	// Generic PCM without an explicit sample format, resolved against the
	// bit depth during format negotiation.
	ContentTypePCM ContentType = "pcm"
)

var knownContentTypes = map[ContentType]struct{}{
	ContentTypeOGG: {}, ContentTypeFLAC: {}, ContentTypeMP3: {},
	ContentTypeAAC: {}, ContentTypeM4A: {}, ContentTypeMPEG: {},
	ContentTypeALAC: {}, ContentTypeWAV: {}, ContentTypeAIFF: {},
	ContentTypeWMA: {}, ContentTypeDSF: {},
	ContentTypePCMS16LE: {}, ContentTypePCMS24LE: {}, ContentTypePCMS32LE: {},
	ContentTypePCMF32LE: {}, ContentTypePCMF64LE: {}, ContentTypePCM: {},
}

// aliases maps common file extensions and mime-ish spellings onto the
// canonical content type.
var contentTypeAliases = map[string]ContentType{
	"wave":      ContentTypeWAV,
	"aif":       ContentTypeAIFF,
	"mp4":       ContentTypeM4A,
	"mpeg3":     ContentTypeMP3,
	"oga":       ContentTypeOGG,
	"pcm_s16le": ContentTypePCMS16LE,
	"pcm_s24le": ContentTypePCMS24LE,
	"pcm_s32le": ContentTypePCMS32LE,
	"pcm_f32le": ContentTypePCMF32LE,
	"pcm_f64le": ContentTypePCMF64LE,
}

// ParseContentType parses a codec token or output format string
// (`codec[;key=value;…]`) into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	token := s
	if idx := strings.IndexByte(token, ';'); idx >= 0 {
		token = token[:idx]
	}
	token = strings.ToLower(strings.TrimSpace(token))
	if ct, ok := contentTypeAliases[token]; ok {
		return ct, nil
	}
	ct := ContentType(token)
	if _, ok := knownContentTypes[ct]; !ok {
		return "", fmt.Errorf("unknown content type %q", s)
	}
	return ct, nil
}

// ContentTypeFromBitDepth returns the signed little-endian PCM variant for
// the given bit depth.
func ContentTypeFromBitDepth(bitDepth int) ContentType {
	switch {
	case bitDepth <= 16:
		return ContentTypePCMS16LE
	case bitDepth <= 24:
		return ContentTypePCMS24LE
	default:
		return ContentTypePCMS32LE
	}
}

// IsPCM reports whether the content type is a raw PCM variant.
func (ct ContentType) IsPCM() bool {
	switch ct {
	case ContentTypePCM, ContentTypePCMS16LE, ContentTypePCMS24LE,
		ContentTypePCMS32LE, ContentTypePCMF32LE, ContentTypePCMF64LE:
		return true
	}
	return false
}

// IsLossless reports whether the content type carries lossless audio.
func (ct ContentType) IsLossless() bool {
	switch ct {
	case ContentTypeFLAC, ContentTypeALAC, ContentTypeWAV, ContentTypeAIFF,
		ContentTypeDSF:
		return true
	}
	return ct.IsPCM()
}

// Format describes a concrete audio stream format.
type Format struct {
	ContentType ContentType
	SampleRate  int
	BitDepth    int
	Channels    int
	// OutputFormatStr preserves the raw URL suffix used during content
	// negotiation (e.g. "flac" or "pcm;rate=48000;bitrate=24;channels=2").
	OutputFormatStr string
}

// PCMSampleSize returns the number of PCM bytes per second of audio.
func (f Format) PCMSampleSize() int {
	return f.SampleRate * (f.BitDepth / 8) * f.Channels
}

// FrameSize returns the byte size of one multi-channel sample frame.
func (f Format) FrameSize() int {
	return (f.BitDepth / 8) * f.Channels
}

// ParsePCMInfo extracts sample rate, bit depth and channel count from a
// semicolon-delimited output format string. Missing keys fall back to
// CD quality stereo.
func ParsePCMInfo(formatStr string) (sampleRate, bitDepth, channels int) {
	sampleRate, bitDepth, channels = 44100, 16, 2
	if !strings.Contains(formatStr, ";") {
		return
	}
	for _, part := range strings.Split(formatStr, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "rate":
			sampleRate = num
		case "bitrate":
			bitDepth = num
		case "channels":
			channels = num
		}
	}
	return
}

// PlayerCaps describes the playback capabilities relevant to format
// negotiation.
type PlayerCaps struct {
	MaxSampleRate int
	Supports24Bit bool
}

// MaxBitDepth returns the highest bit depth the player accepts.
func (c PlayerCaps) MaxBitDepth() int {
	if c.Supports24Bit {
		return 32
	}
	return 16
}

// ResolveOutputFormat negotiates the output format for a stream request.
//
// When the format string declares explicit PCM/WAV parameters those win
// verbatim: the URL was minted with the player caps already applied, so no
// further clamping happens here. For encoded outputs the defaults are
// clamped to the player caps and the configured output channel mode.
func ResolveOutputFormat(
	formatStr string,
	caps PlayerCaps,
	outputChannels string,
	defaultSampleRate int,
	defaultBitDepth int,
) (Format, error) {
	contentType, err := ParseContentType(formatStr)
	if err != nil {
		return Format{}, err
	}
	var sampleRate, bitDepth, channels int
	if contentType.IsPCM() || contentType == ContentTypeWAV {
		sampleRate, bitDepth, channels = ParsePCMInfo(formatStr)
		if contentType == ContentTypePCM {
			contentType = ContentTypeFromBitDepth(bitDepth)
		}
	} else {
		sampleRate = min(defaultSampleRate, caps.MaxSampleRate)
		bitDepth = min(defaultBitDepth, caps.MaxBitDepth())
		channels = 2
		if outputChannels != "" && outputChannels != "stereo" {
			channels = 1
		}
	}
	return Format{
		ContentType:     contentType,
		SampleRate:      sampleRate,
		BitDepth:        bitDepth,
		Channels:        channels,
		OutputFormatStr: formatStr,
	}, nil
}
