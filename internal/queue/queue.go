/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue models player queues and their items, and declares the
// contracts the stream server consumes from the queue controller and the
// music providers.
package queue

import (
	"context"
	"errors"
	"io"

	"github.com/music-assistant/streamserver/internal/audio"
)

// ErrQueueEmpty signals that a queue has no next item; the flow stream
// terminates normally when it surfaces.
var ErrQueueEmpty = errors.New("queue is empty")

// ErrMediaNotFound signals that stream details for an item could not be
// resolved. The flow stream skips the item and continues.
var ErrMediaNotFound = errors.New("media not found")

// StreamDetails describes a resolvable audio source for one queue item.
// The flow generator mutates the duration bookkeeping while streaming.
type StreamDetails struct {
	URI             string
	AudioFormat     audio.Format
	SecondsSkipped  int
	SecondsStreamed float64
	StreamTitle     string
}

// Item is one playable unit in a queue.
type Item struct {
	ID   string
	Name string
	// URI locates the underlying media (file path or http(s) URL).
	URI string
	// StreamDetails is populated on demand and owned by whoever is
	// currently streaming the item.
	StreamDetails *StreamDetails
}

// PlayerQueue owns an ordered sequence of items for one player.
type PlayerQueue struct {
	ID               string
	DisplayName      string
	CrossfadeEnabled bool
}

// MediaStreamOptions tune how a provider delivers PCM for one item.
type MediaStreamOptions struct {
	SeekPosition      int
	FadeIn            bool
	StripSilenceBegin bool
}

// Provider acquires audio from a music source. GetMediaStream returns raw
// PCM in exactly the requested format.
type Provider interface {
	GetStreamDetails(ctx context.Context, item *Item) (*StreamDetails, error)
	GetMediaStream(ctx context.Context, details *StreamDetails, pcmFormat audio.Format, opts MediaStreamOptions) (io.ReadCloser, error)
}

// Controller is the player-queue oracle: it resolves queues and items and
// hands out the next track during flow streaming.
type Controller interface {
	Get(queueID string) *PlayerQueue
	GetItem(queueID, itemID string) *Item
	// PreloadNext returns the current and next item plus whether the
	// transition should crossfade. Returns ErrQueueEmpty at the end.
	PreloadNext(ctx context.Context, queueID string) (prev, next *Item, useCrossfade bool, err error)
}
