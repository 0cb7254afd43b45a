/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package streams implements the audio streaming core: the gapless queue
// flow generator, the multi-client fan-out stream job and the HTTP
// endpoints that serve transcoded audio to players.
package streams

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/player"
	"github.com/music-assistant/streamserver/internal/queue"
)

// Maximum quality synthesized for flow streams. The multi-client bus uses
// a fixed 48 kHz / 24 bit format instead (see NewMultiClientStreamJob).
const (
	FlowMaxSampleRate = 96000
	FlowMaxBitDepth   = 24
)

// ErrUnsupportedFeature is returned for operations the streaming core does
// not provide (e.g. dynamic track generation).
var ErrUnsupportedFeature = errors.New("unsupported feature")

// defaultStreamHeaders are sent on every stream response; the DLNA pair
// keeps UPnP renderers happy.
var defaultStreamHeaders = map[string]string{
	"transferMode.dlna.org":    "Streaming",
	"contentFeatures.dlna.org": "DLNA.ORG_OP=00;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=0d500000000000000000000000000000",
	"Cache-Control":            "no-cache",
	"Connection":               "close",
	"icy-name":                 "Music Assistant",
	"icy-pub":                  "0",
}

// Options wires the controller's collaborators.
type Options struct {
	BaseURL     string
	Provider    queue.Provider
	Queues      queue.Controller
	Players     player.Registry
	Settings    *player.SettingsStore
	Bus         *events.Bus
	Transcoders TranscoderFactory
	Logger      zerolog.Logger
}

// Controller owns the stream endpoints, the multi-client job registry and
// the flow stream generator.
type Controller struct {
	logger      zerolog.Logger
	baseURL     string
	provider    queue.Provider
	queues      queue.Controller
	players     player.Registry
	settings    *player.SettingsStore
	bus         *events.Bus
	transcoders TranscoderFactory

	mu              sync.Mutex
	multiClientJobs map[string]*MultiClientStreamJob

	// flowItems tracks the queue item currently produced by each flow
	// stream, written only by the flow generator. Used for ICY titles.
	flowItems sync.Map
}

// NewController creates the streams controller.
func NewController(opts Options) *Controller {
	return &Controller{
		logger:          opts.Logger.With().Str("component", "streams").Logger(),
		baseURL:         opts.BaseURL,
		provider:        opts.Provider,
		queues:          opts.Queues,
		players:         opts.Players,
		settings:        opts.Settings,
		bus:             opts.Bus,
		transcoders:     opts.Transcoders,
		multiClientJobs: make(map[string]*MultiClientStreamJob),
	}
}

// BaseURL returns the public base URL of the stream server.
func (c *Controller) BaseURL() string {
	return c.baseURL
}

// ResolveStreamURL mints the (regular, single player) stream URL for the
// given queue item. Called just-in-time by the queue controller.
func (c *Controller) ResolveStreamURL(
	ctx context.Context,
	queueID string,
	item *queue.Item,
	seekPosition int,
	fadeIn bool,
	flowMode bool,
) (string, error) {
	settings := c.settings.Get(queueID)
	outputCodec, err := audio.ParseContentType(settings.OutputCodec)
	if err != nil {
		return "", fmt.Errorf("player %s output codec: %w", queueID, err)
	}
	formatStr := string(outputCodec)
	if outputCodec.IsPCM() {
		p := c.players.Get(queueID)
		if p == nil {
			return "", fmt.Errorf("unknown player: %s", queueID)
		}
		caps := audio.PlayerCaps{MaxSampleRate: p.MaxSampleRate, Supports24Bit: p.Supports24Bit}
		var sampleRate, bitDepth int
		if flowMode {
			sampleRate = min(FlowMaxSampleRate, caps.MaxSampleRate)
			bitDepth = min(FlowMaxBitDepth, caps.MaxBitDepth())
		} else {
			details, err := c.provider.GetStreamDetails(ctx, item)
			if err != nil {
				return "", err
			}
			sampleRate = min(details.AudioFormat.SampleRate, caps.MaxSampleRate)
			bitDepth = min(details.AudioFormat.BitDepth, caps.MaxBitDepth())
		}
		formatStr += pcmURLParams(sampleRate, bitDepth, settings.OutputChannels)
	}
	basePath := "single"
	if flowMode {
		basePath = "flow"
	}
	streamURL := fmt.Sprintf("%s/%s/%s/%s.%s", c.baseURL, queueID, basePath, item.ID, formatStr)
	query := url.Values{}
	if seekPosition > 0 {
		query.Set("seek_position", fmt.Sprint(seekPosition))
	}
	if fadeIn {
		query.Set("fade_in", "1")
	}
	if len(query) > 0 {
		streamURL += "?" + query.Encode()
	}
	return streamURL, nil
}

func pcmURLParams(sampleRate, bitDepth int, outputChannels string) string {
	channels := 2
	if outputChannels != "" && outputChannels != "stereo" {
		channels = 1
	}
	return fmt.Sprintf(";codec=pcm;rate=%d;bitrate=%d;channels=%d", sampleRate, bitDepth, channels)
}

// CreateMultiClientStreamJob starts a fan-out stream job for a queue.
// Any previous job for the same queue is stopped first, so at most one
// job per queue exists at any time.
func (c *Controller) CreateMultiClientStreamJob(
	queueID string,
	startItem *queue.Item,
	seekPosition int,
	fadeIn bool,
) (*MultiClientStreamJob, error) {
	q := c.queues.Get(queueID)
	if q == nil {
		return nil, fmt.Errorf("unknown queue: %s", queueID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.multiClientJobs[queueID]; existing != nil && !existing.Finished() {
		existing.Stop()
	}
	job := newMultiClientStreamJob(c, q, audio.Format{
		// fixed pcm quality of 48/24 for the fan-out bus
		ContentType: audio.ContentTypeFromBitDepth(24),
		SampleRate:  48000,
		BitDepth:    24,
		Channels:    2,
	}, startItem, seekPosition, fadeIn)
	c.multiClientJobs[queueID] = job
	return job, nil
}

// GetMultiClientJob returns the active job for a queue, or nil.
func (c *Controller) GetMultiClientJob(queueID string) *MultiClientStreamJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiClientJobs[queueID]
}

// DynamicTracks would generate a radio-style continuation of the queue;
// no provider in the streaming core supports it.
func (c *Controller) DynamicTracks(context.Context, string) error {
	return ErrUnsupportedFeature
}

// Stop stops all multi-client jobs.
func (c *Controller) Stop() {
	c.mu.Lock()
	jobs := make([]*MultiClientStreamJob, 0, len(c.multiClientJobs))
	for _, job := range c.multiClientJobs {
		jobs = append(jobs, job)
	}
	c.mu.Unlock()
	for _, job := range jobs {
		job.Stop()
	}
}

func (c *Controller) currentFlowItem(queueID string) *queue.Item {
	if item, ok := c.flowItems.Load(queueID); ok {
		return item.(*queue.Item)
	}
	return nil
}

// currentFlowTitle returns the ICY stream title for a queue's flow stream.
func (c *Controller) currentFlowTitle(queueID string) string {
	item := c.currentFlowItem(queueID)
	switch {
	case item == nil:
		return "Music Assistant"
	case item.StreamDetails != nil && item.StreamDetails.StreamTitle != "":
		return item.StreamDetails.StreamTitle
	case item.Name != "":
		return item.Name
	default:
		return "Music Assistant"
	}
}
