/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider implements the media provider backed by ffprobe and
// ffmpeg: it resolves stream details for local files and http(s) URLs and
// decodes them to raw PCM for the streaming pipeline.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/queue"
)

// fadeInDuration is the fade applied when a stream starts mid-track
// (e.g. after resume), so playback does not click in at full volume.
const fadeInDuration = 3

// FFmpegProvider resolves and decodes media through ffmpeg child
// processes, one per stream.
type FFmpegProvider struct {
	ffmpegBin  string
	ffprobeBin string
	logger     zerolog.Logger
}

// New creates the provider. The ffprobe binary is derived from the ffmpeg
// path, so a custom ffmpeg location carries over.
func New(ffmpegBin string, logger zerolog.Logger) *FFmpegProvider {
	ffprobeBin := "ffprobe"
	if idx := strings.LastIndexByte(ffmpegBin, '/'); idx >= 0 {
		ffprobeBin = ffmpegBin[:idx+1] + "ffprobe"
	}
	return &FFmpegProvider{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		logger:     logger.With().Str("component", "provider").Logger(),
	}
}

type probeOutput struct {
	Streams []struct {
		CodecType        string `json:"codec_type"`
		CodecName        string `json:"codec_name"`
		SampleRate       string `json:"sample_rate"`
		Channels         int    `json:"channels"`
		BitsPerSample    int    `json:"bits_per_sample"`
		BitsPerRawSample string `json:"bits_per_raw_sample"`
	} `json:"streams"`
	Format struct {
		Tags struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
		} `json:"tags"`
	} `json:"format"`
}

// GetStreamDetails probes the item's media and returns its audio format.
// Items without a URI or whose media cannot be probed resolve to
// ErrMediaNotFound so the flow stream skips them.
func (p *FFmpegProvider) GetStreamDetails(ctx context.Context, item *queue.Item) (*queue.StreamDetails, error) {
	if item.URI == "" {
		return nil, fmt.Errorf("%w: item %s has no uri", queue.ErrMediaNotFound, item.ID)
	}
	out, err := exec.CommandContext(ctx, p.ffprobeBin,
		"-hide_banner", "-loglevel", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		item.URI,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", queue.ErrMediaNotFound, item.URI, err)
	}
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse probe output for %s: %w", item.URI, err)
	}

	details := &queue.StreamDetails{URI: item.URI}
	for _, stream := range probe.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		sampleRate, _ := strconv.Atoi(stream.SampleRate)
		bitDepth := stream.BitsPerSample
		if raw, err := strconv.Atoi(stream.BitsPerRawSample); err == nil && raw > bitDepth {
			bitDepth = raw
		}
		if sampleRate == 0 {
			sampleRate = 44100
		}
		if bitDepth == 0 {
			bitDepth = 16
		}
		channels := stream.Channels
		if channels == 0 {
			channels = 2
		}
		contentType, err := audio.ParseContentType(stream.CodecName)
		if err != nil {
			contentType = audio.ContentTypeFromBitDepth(bitDepth)
		}
		details.AudioFormat = audio.Format{
			ContentType: contentType,
			SampleRate:  sampleRate,
			BitDepth:    bitDepth,
			Channels:    channels,
		}
		break
	}
	if details.AudioFormat.SampleRate == 0 {
		return nil, fmt.Errorf("%w: no audio stream in %s", queue.ErrMediaNotFound, item.URI)
	}
	if title := probe.Format.Tags.Title; title != "" {
		if artist := probe.Format.Tags.Artist; artist != "" {
			details.StreamTitle = artist + " - " + title
		} else {
			details.StreamTitle = title
		}
	}
	return details, nil
}

// GetMediaStream launches an ffmpeg decoder delivering the item's audio
// as raw PCM in exactly the requested format.
func (p *FFmpegProvider) GetMediaStream(
	ctx context.Context,
	details *queue.StreamDetails,
	pcmFormat audio.Format,
	opts queue.MediaStreamOptions,
) (io.ReadCloser, error) {
	pcmType := pcmFormat.ContentType
	if pcmType == audio.ContentTypePCM {
		pcmType = audio.ContentTypeFromBitDepth(pcmFormat.BitDepth)
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "quiet",
		"-ignore_unknown",
	}
	// seek before the input for fast (keyframe) seeking
	if opts.SeekPosition > 0 {
		args = append(args, "-ss", strconv.Itoa(opts.SeekPosition))
	}
	args = append(args, "-i", details.URI)

	var filters []string
	if opts.StripSilenceBegin {
		filters = append(filters, "silenceremove=start_periods=1:start_threshold=-50dB")
	}
	if opts.FadeIn {
		filters = append(filters, fmt.Sprintf("afade=type=in:start_time=0:duration=%d", fadeInDuration))
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}

	args = append(args,
		"-f", string(pcmType),
		"-ac", strconv.Itoa(pcmFormat.Channels),
		"-ar", strconv.Itoa(pcmFormat.SampleRate),
		"-",
	)
	proc, err := audio.StartProcess(ctx, p.ffmpegBin, args, p.logger)
	if err != nil {
		return nil, fmt.Errorf("start decoder for %s: %w", details.URI, err)
	}
	// decoder input comes from the URI, not stdin
	_ = proc.CloseWrite()
	return &decoderStream{proc: proc}, nil
}

type decoderStream struct {
	proc *audio.Process
}

func (d *decoderStream) Read(b []byte) (int, error) { return d.proc.Read(b) }
func (d *decoderStream) Close() error               { return d.proc.Close() }
