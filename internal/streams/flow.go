/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/queue"
	"github.com/music-assistant/streamserver/internal/telemetry"
)

// FlowStream produces one continuous PCM stream across the whole queue,
// starting at startItem, with equal-power crossfade at track boundaries.
// Chunks are pushed synchronously into sink, so the consumer paces the
// generator. The stream ends when the queue runs empty; items whose
// stream details cannot be resolved are skipped, provider I/O errors
// terminate the stream.
func (c *Controller) FlowStream(
	ctx context.Context,
	q *queue.PlayerQueue,
	startItem *queue.Item,
	pcmFormat audio.Format,
	seekPosition int,
	fadeIn bool,
	sink func([]byte) error,
) error {
	if !pcmFormat.ContentType.IsPCM() {
		return fmt.Errorf("flow stream requires a pcm format, got %s", pcmFormat.ContentType)
	}
	logger := c.logger.With().Str("queue_id", q.ID).Logger()
	logger.Info().Str("queue", q.DisplayName).Msg("start queue flow stream")

	var queueTrack *queue.Item
	var useCrossfade bool
	var lastFadeout []byte
	var totalBytesWritten int64

	for {
		// get (next) queue item to stream
		if queueTrack == nil {
			queueTrack = startItem
			useCrossfade = q.CrossfadeEnabled
		} else {
			seekPosition = 0
			fadeIn = false
			var err error
			_, queueTrack, useCrossfade, err = c.queues.PreloadNext(ctx, q.ID)
			if errors.Is(err, queue.ErrQueueEmpty) {
				break
			}
			if err != nil {
				return err
			}
		}

		details, err := c.provider.GetStreamDetails(ctx, queueTrack)
		if errors.Is(err, queue.ErrMediaNotFound) {
			// skip to the next track instead of bailing out
			logger.Warn().Err(err).Str("track", queueTrack.Name).Msg("skip track due to missing streamdetails")
			continue
		}
		if err != nil {
			return err
		}
		queueTrack.StreamDetails = details
		c.flowItems.Store(q.ID, queueTrack)
		c.bus.Publish(events.EventFlowTrackStart, events.Payload{
			"queue_id": q.ID,
			"item_id":  queueTrack.ID,
			"uri":      details.URI,
		})
		c.bus.Publish(events.EventNowPlaying, events.Payload{
			"queue_id": q.ID,
			"title":    c.currentFlowTitle(q.ID),
		})

		pcmSampleSize := pcmFormat.PCMSampleSize()
		crossfadeSize := pcmSampleSize * c.settings.Get(q.ID).CrossfadeDuration
		details.SecondsSkipped = seekPosition
		bufferSize := crossfadeSize
		if !useCrossfade {
			bufferSize = pcmSampleSize * 2
		}

		logger.Debug().
			Str("uri", details.URI).
			Str("track", queueTrack.Name).
			Bool("crossfade", useCrossfade).
			Msg("start streaming queue track")

		source, err := c.provider.GetMediaStream(ctx, details, pcmFormat, queue.MediaStreamOptions{
			SeekPosition: seekPosition,
			FadeIn:       fadeIn,
			// only strip leading silence when the track is being crossfaded
			StripSilenceBegin: len(lastFadeout) > 0,
		})
		if err != nil {
			return fmt.Errorf("open media stream %s: %w", details.URI, err)
		}

		bytesWritten := 0
		var buffer []byte
		streamErr := c.pumpTrack(ctx, source, sink, &buffer, &lastFadeout, pcmFormat, bufferSize, crossfadeSize, &bytesWritten)
		_ = source.Close()
		if streamErr != nil {
			return streamErr
		}

		if bytesWritten == 0 {
			// stream error: no audio received at all
			logger.Warn().Str("uri", details.URI).Msg("stream error on queue track")
			details.SecondsStreamed = 0
			continue
		}

		if len(buffer) > 0 && useCrossfade {
			// save the fadeout part to pick up for the next track
			cut := max(0, len(buffer)-crossfadeSize)
			lastFadeout = append([]byte(nil), buffer[cut:]...)
			if cut > 0 {
				if err := sink(buffer[:cut:cut]); err != nil {
					return err
				}
				bytesWritten += cut
			}
		} else if len(buffer) > 0 {
			if err := sink(buffer); err != nil {
				return err
			}
			bytesWritten += len(buffer)
		}

		// end of track reached, store the accurate duration
		details.SecondsStreamed = float64(bytesWritten) / float64(pcmSampleSize)
		totalBytesWritten += int64(bytesWritten)
		telemetry.FlowPCMBytes.Add(float64(bytesWritten))
		logger.Debug().
			Str("uri", details.URI).
			Float64("seconds_streamed", details.SecondsStreamed).
			Msg("finished streaming queue track")
	}

	logger.Info().Int64("total_bytes", totalBytesWritten).Msg("finished queue flow stream")
	return nil
}

// pumpTrack reads one track's PCM from source and feeds the flow buffer
// machinery: boundary crossfade once enough in-track audio is buffered,
// steady-state shifting afterwards.
func (c *Controller) pumpTrack(
	ctx context.Context,
	source io.Reader,
	sink func([]byte) error,
	buffer *[]byte,
	lastFadeout *[]byte,
	pcmFormat audio.Format,
	bufferSize int,
	crossfadeSize int,
	bytesWritten *int,
) error {
	readBuf := make([]byte, flowReadSize(pcmFormat))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := source.Read(readBuf)
		if n > 0 {
			chunk := readBuf[:n]
			switch {
			case len(*lastFadeout) > 0 && len(*buffer) >= bufferSize:
				// enough of the new track buffered, perform the crossfade
				first := make([]byte, 0, len(*buffer)+len(chunk))
				first = append(append(first, *buffer...), chunk...)
				cut := min(crossfadeSize, len(first))
				fadeinPart := first[:cut]
				remaining := first[cut:]
				crossfaded := audio.CrossfadePCMParts(fadeinPart, *lastFadeout, pcmFormat.BitDepth, pcmFormat.SampleRate)
				if err := sink(crossfaded); err != nil {
					return err
				}
				*bytesWritten += len(crossfaded)
				if len(remaining) > 0 {
					if err := sink(remaining); err != nil {
						return err
					}
					*bytesWritten += len(remaining)
				}
				*lastFadeout = nil
				*buffer = nil

			case len(*buffer) >= 2*bufferSize:
				// enough lookahead buffered, feed to output and shift
				out := make([]byte, bufferSize)
				copy(out, *buffer)
				if err := sink(out); err != nil {
					return err
				}
				*bytesWritten += bufferSize
				shifted := make([]byte, 0, len(*buffer)-bufferSize+len(chunk))
				shifted = append(append(shifted, (*buffer)[bufferSize:]...), chunk...)
				*buffer = shifted

			default:
				*buffer = append(*buffer, chunk...)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// flowReadSize returns the source read granularity, aligned to whole
// sample frames.
func flowReadSize(pcmFormat audio.Format) int {
	size := 64 * 1024
	if frame := pcmFormat.FrameSize(); frame > 0 {
		size -= size % frame
	}
	return size
}
