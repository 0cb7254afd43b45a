/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/player"
	"github.com/music-assistant/streamserver/internal/telemetry"
)

// Transcoder consumes raw PCM via Write and produces the encoded stream
// via Read. CloseWrite signals end of input; Close releases all resources
// and must be safe to call on every exit path.
type Transcoder interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// TranscoderFactory launches a transcoder for one stream request. Tests
// substitute a passthrough implementation.
type TranscoderFactory func(ctx context.Context, opts audio.FilterOptions, inputFormat, outputFormat audio.Format) (Transcoder, error)

// FFmpegTranscoderFactory returns the production factory backed by an
// ffmpeg child process per request.
func FFmpegTranscoderFactory(bin string, logger zerolog.Logger, verbose bool) TranscoderFactory {
	return func(ctx context.Context, opts audio.FilterOptions, inputFormat, outputFormat audio.Format) (Transcoder, error) {
		args := audio.BuildPlayerArgs(opts, inputFormat, outputFormat, verbose)
		proc, err := audio.StartProcess(ctx, bin, args, logger)
		if err != nil {
			return nil, err
		}
		telemetry.TranscoderStarts.WithLabelValues(string(outputFormat.ContentType)).Inc()
		return proc, nil
	}
}

// filterOptions maps player settings onto the transcoder filter chain.
func filterOptions(settings player.Settings) audio.FilterOptions {
	return audio.FilterOptions{
		EQBass:         settings.EQBass,
		EQMid:          settings.EQMid,
		EQTreble:       settings.EQTreble,
		OutputChannels: settings.OutputChannels,
	}
}
