/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/queue"
	"github.com/music-assistant/streamserver/internal/telemetry"
)

// Router builds the stream endpoints. The filename path segment carries
// the item id plus the output format string, e.g.
// `track-1.flac` or `track-1.pcm;rate=48000;bitrate=24;channels=2`.
func (c *Controller) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(c.requestLogger)
	// HandleFunc matches every method so HEAD probes from DLNA renderers
	// reach the same handlers as GET.
	r.HandleFunc("/{queueID}/single/{filename}", c.serveQueueItemStream)
	r.HandleFunc("/{queueID}/flow/{filename}", c.serveQueueFlowStream)
	r.HandleFunc("/{queueID}/multi/{jobID}/{playerID}/{filename}", c.serveMultiSubscriberStream)
	return r
}

func (c *Controller) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		c.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("stream request")
	})
}

// splitItemFilename splits `<itemID>.<formatStr>` at the last dot; the
// format string never contains dots but may contain semicolons.
func splitItemFilename(filename string) (itemID, formatStr string, ok bool) {
	idx := strings.LastIndexByte(filename, '.')
	if idx <= 0 || idx == len(filename)-1 {
		return "", "", false
	}
	return filename[:idx], filename[idx+1:], true
}

func (c *Controller) notFound(w http.ResponseWriter, r *http.Request, reason string) {
	c.logger.Warn().Str("path", r.URL.Path).Str("reason", reason).Msg("stream request rejected")
	http.Error(w, reason, http.StatusNotFound)
}

func writeStreamHeaders(w http.ResponseWriter, outputFormat audio.Format, icyMetaInt int) {
	h := w.Header()
	for key, value := range defaultStreamHeaders {
		h.Set(key, value)
	}
	h.Set("Content-Type", "audio/"+outputFormat.OutputFormatStr)
	if icyMetaInt > 0 {
		h.Set("icy-metaint", strconv.Itoa(icyMetaInt))
	}
	h.Set("Accept-Ranges", "none")
}

// playerCaps looks up the player's capabilities; unknown players get the
// most permissive profile so negotiation degrades gracefully.
func (c *Controller) playerCaps(playerID string) audio.PlayerCaps {
	if p := c.players.Get(playerID); p != nil {
		return audio.PlayerCaps{MaxSampleRate: p.MaxSampleRate, Supports24Bit: p.Supports24Bit}
	}
	return audio.PlayerCaps{MaxSampleRate: FlowMaxSampleRate, Supports24Bit: true}
}

func parseStreamQuery(r *http.Request) (seekPosition int, fadeIn bool) {
	if v := r.URL.Query().Get("seek_position"); v != "" {
		seekPosition, _ = strconv.Atoi(v)
	}
	fadeIn = r.URL.Query().Get("fade_in") == "1"
	return
}

// serveQueueItemStream streams a single queue item, transcoded to the
// negotiated output format.
func (c *Controller) serveQueueItemStream(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	itemID, formatStr, ok := splitItemFilename(chi.URLParam(r, "filename"))
	if !ok {
		c.notFound(w, r, "invalid stream filename")
		return
	}
	q := c.queues.Get(queueID)
	if q == nil {
		c.notFound(w, r, "unknown queue requested")
		return
	}
	item := c.queues.GetItem(queueID, itemID)
	if item == nil {
		c.notFound(w, r, "unknown queue item requested")
		return
	}
	details, err := c.provider.GetStreamDetails(r.Context(), item)
	if err != nil {
		if errors.Is(err, queue.ErrMediaNotFound) {
			c.notFound(w, r, "no streamdetails for requested item")
			return
		}
		c.logger.Error().Err(err).Str("item_id", itemID).Msg("failed to resolve streamdetails")
		http.Error(w, "failed to resolve streamdetails", http.StatusInternalServerError)
		return
	}
	item.StreamDetails = details

	settings := c.settings.Get(queueID)
	outputFormat, err := audio.ResolveOutputFormat(
		formatStr, c.playerCaps(queueID), settings.OutputChannels,
		details.AudioFormat.SampleRate, details.AudioFormat.BitDepth)
	if err != nil {
		c.notFound(w, r, "unsupported output format requested")
		return
	}

	writeStreamHeaders(w, outputFormat, 0)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	seekPosition, fadeIn := parseStreamQuery(r)
	details.SecondsSkipped = seekPosition

	// decode the source at its native quality, stereo
	pcmFormat := audio.Format{
		ContentType: audio.ContentTypeFromBitDepth(details.AudioFormat.BitDepth),
		SampleRate:  details.AudioFormat.SampleRate,
		BitDepth:    details.AudioFormat.BitDepth,
		Channels:    2,
	}

	trans, err := c.transcoders(r.Context(), filterOptions(settings), pcmFormat, outputFormat)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to start transcoder")
		http.Error(w, "transcoder unavailable", http.StatusInternalServerError)
		return
	}
	defer trans.Close()

	c.bus.Publish(events.EventStreamStart, events.Payload{
		"queue_id": queueID, "item_id": itemID, "endpoint": "single",
	})
	defer c.bus.Publish(events.EventStreamEnd, events.Payload{
		"queue_id": queueID, "item_id": itemID, "endpoint": "single",
	})
	c.logger.Info().Str("queue_id", queueID).Str("item_id", itemID).Msg("start serving single item stream")

	go func() {
		source, err := c.provider.GetMediaStream(r.Context(), details, pcmFormat, queue.MediaStreamOptions{
			SeekPosition: seekPosition,
			FadeIn:       fadeIn,
		})
		if err != nil {
			c.logger.Error().Err(err).Str("uri", details.URI).Msg("failed to open media stream")
			_ = trans.CloseWrite()
			return
		}
		defer source.Close()
		if _, err := io.Copy(trans, source); err != nil && !isStreamAborted(err) {
			c.logger.Error().Err(err).Str("uri", details.URI).Msg("media stream interrupted")
		}
		_ = trans.CloseWrite()
	}()

	c.relay(r.Context(), w, trans, "single")
}

// serveQueueFlowStream streams the whole queue as one continuous,
// crossfaded stream, optionally with ICY metadata interleaved.
func (c *Controller) serveQueueFlowStream(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	itemID, formatStr, ok := splitItemFilename(chi.URLParam(r, "filename"))
	if !ok {
		c.notFound(w, r, "invalid stream filename")
		return
	}
	q := c.queues.Get(queueID)
	if q == nil {
		c.notFound(w, r, "unknown queue requested")
		return
	}
	startItem := c.queues.GetItem(queueID, itemID)
	if startItem == nil {
		c.notFound(w, r, "unknown queue item requested")
		return
	}

	settings := c.settings.Get(queueID)
	outputFormat, err := audio.ResolveOutputFormat(
		formatStr, c.playerCaps(queueID), settings.OutputChannels,
		FlowMaxSampleRate, FlowMaxBitDepth)
	if err != nil {
		c.notFound(w, r, "unsupported output format requested")
		return
	}

	// client requested ICY metadata (radio-style title updates)
	enableICY := r.Header.Get("Icy-MetaData") == "1"
	icyMetaInt := 0
	if enableICY {
		icyMetaInt = icyMetaIntLossy
		if outputFormat.ContentType.IsLossless() {
			icyMetaInt = icyMetaIntLossless
		}
	}

	writeStreamHeaders(w, outputFormat, icyMetaInt)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	seekPosition, fadeIn := parseStreamQuery(r)

	pcmFormat := audio.Format{
		ContentType: audio.ContentTypeFromBitDepth(outputFormat.BitDepth),
		SampleRate:  outputFormat.SampleRate,
		BitDepth:    outputFormat.BitDepth,
		Channels:    2,
	}

	trans, err := c.transcoders(r.Context(), filterOptions(settings), pcmFormat, outputFormat)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to start transcoder")
		http.Error(w, "transcoder unavailable", http.StatusInternalServerError)
		return
	}
	defer trans.Close()

	c.bus.Publish(events.EventStreamStart, events.Payload{
		"queue_id": queueID, "item_id": itemID, "endpoint": "flow",
	})
	defer c.bus.Publish(events.EventStreamEnd, events.Payload{
		"queue_id": queueID, "item_id": itemID, "endpoint": "flow",
	})
	c.logger.Info().Str("queue_id", queueID).Str("item_id", itemID).Msg("start serving queue flow stream")

	go func() {
		err := c.FlowStream(r.Context(), q, startItem, pcmFormat, seekPosition, fadeIn, func(chunk []byte) error {
			_, err := trans.Write(chunk)
			return err
		})
		if err != nil && !isStreamAborted(err) {
			c.logger.Error().Err(err).Str("queue_id", queueID).Msg("queue flow stream failed")
		}
		_ = trans.CloseWrite()
	}()

	if enableICY {
		c.relayICY(r.Context(), w, trans, queueID, icyMetaInt)
		return
	}
	c.relay(r.Context(), w, trans, "flow")
}

// serveMultiSubscriberStream serves one subscriber of a multi-client
// stream job: the shared PCM bus transcoded to this player's format.
func (c *Controller) serveMultiSubscriberStream(w http.ResponseWriter, r *http.Request) {
	queueID := chi.URLParam(r, "queueID")
	jobID := chi.URLParam(r, "jobID")
	playerID := chi.URLParam(r, "playerID")
	_, formatStr, ok := splitItemFilename(chi.URLParam(r, "filename"))
	if !ok {
		c.notFound(w, r, "invalid stream filename")
		return
	}
	job := c.GetMultiClientJob(queueID)
	if job == nil || job.JobID != jobID {
		c.notFound(w, r, "no (more) active stream job for requested queue")
		return
	}
	if job.Finished() {
		c.notFound(w, r, "stream job already finished")
		return
	}
	if c.players.Get(playerID) == nil {
		c.notFound(w, r, "unknown player requested")
		return
	}

	settings := c.settings.Get(playerID)
	busFormat := job.PCMFormat()
	outputFormat, err := audio.ResolveOutputFormat(
		formatStr, c.playerCaps(playerID), settings.OutputChannels,
		busFormat.SampleRate, busFormat.BitDepth)
	if err != nil {
		c.notFound(w, r, "unsupported output format requested")
		return
	}

	writeStreamHeaders(w, outputFormat, 0)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	trans, err := c.transcoders(r.Context(), filterOptions(settings), busFormat, outputFormat)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to start transcoder")
		http.Error(w, "transcoder unavailable", http.StatusInternalServerError)
		return
	}
	defer trans.Close()

	sub := job.Subscribe(playerID)
	defer sub.Close()
	c.logger.Info().
		Str("queue_id", queueID).
		Str("player_id", playerID).
		Str("job_id", jobID).
		Msg("start serving multi client stream subscriber")

	go func() {
		defer trans.CloseWrite()
		for {
			select {
			case chunk, open := <-sub.Chunks():
				if !open || len(chunk) == 0 {
					// empty chunk marks the end of the job
					return
				}
				if _, err := trans.Write(chunk); err != nil {
					if !isStreamAborted(err) {
						c.logger.Error().Err(err).Str("player_id", playerID).Msg("subscriber transcoder write failed")
					}
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}()

	c.relay(r.Context(), w, trans, "multi")
}

// relay copies the encoded stream to the client, flushing per chunk so
// players receive audio with minimal latency.
func (c *Controller) relay(ctx context.Context, w http.ResponseWriter, src io.Reader, endpoint string) {
	telemetry.ActiveStreams.WithLabelValues(endpoint).Inc()
	defer telemetry.ActiveStreams.WithLabelValues(endpoint).Dec()

	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			_ = rc.Flush()
			telemetry.StreamBytes.WithLabelValues(endpoint).Add(float64(n))
		}
		if readErr != nil {
			return
		}
	}
}

// relayICY copies the encoded flow stream to the client with ICY
// metadata blocks interleaved every metaInt audio bytes.
func (c *Controller) relayICY(ctx context.Context, w http.ResponseWriter, src io.Reader, queueID string, metaInt int) {
	telemetry.ActiveStreams.WithLabelValues("flow").Inc()
	defer telemetry.ActiveStreams.WithLabelValues("flow").Dec()

	rc := http.NewResponseController(w)
	buf := make([]byte, metaInt)
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			meta := icyMetaBlock(c.currentFlowTitle(queueID))
			if _, err := w.Write(meta); err != nil {
				return
			}
			_ = rc.Flush()
			telemetry.StreamBytes.WithLabelValues("flow").Add(float64(n + len(meta)))
		}
		if readErr != nil {
			return
		}
	}
}

// isStreamAborted reports whether the error merely reflects a client that
// went away.
func isStreamAborted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
