/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/queue"
)

func TestNewDerivesFFprobePath(t *testing.T) {
	p := New("/opt/ffmpeg/bin/ffmpeg", zerolog.Nop())
	if p.ffprobeBin != "/opt/ffmpeg/bin/ffprobe" {
		t.Fatalf("ffprobe path = %q", p.ffprobeBin)
	}

	p = New("ffmpeg", zerolog.Nop())
	if p.ffprobeBin != "ffprobe" {
		t.Fatalf("bare binary ffprobe path = %q", p.ffprobeBin)
	}
}

func TestGetStreamDetailsWithoutURI(t *testing.T) {
	p := New("ffmpeg", zerolog.Nop())
	_, err := p.GetStreamDetails(context.Background(), &queue.Item{ID: "x"})
	if !errors.Is(err, queue.ErrMediaNotFound) {
		t.Fatalf("error = %v, want ErrMediaNotFound", err)
	}
}

func TestGetStreamDetailsProbeFailureMapsToMediaNotFound(t *testing.T) {
	// a missing probe binary must surface as a skippable media error, not
	// a fatal stream error
	p := New("/nonexistent/ffmpeg", zerolog.Nop())
	_, err := p.GetStreamDetails(context.Background(), &queue.Item{ID: "x", URI: "/tmp/track.flac"})
	if !errors.Is(err, queue.ErrMediaNotFound) {
		t.Fatalf("error = %v, want ErrMediaNotFound", err)
	}
}
