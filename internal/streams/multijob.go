/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/queue"
	"github.com/music-assistant/streamserver/internal/telemetry"
)

const (
	// subscriberBufferChunks bounds each subscriber's channel; the
	// producer blocks on the slowest client instead of dropping audio.
	subscriberBufferChunks = 2
	// allConnectedTimeout is how long the producer holds the first chunk
	// waiting for all expected players to connect.
	allConnectedTimeout = 10 * time.Second
	// lastSubscriberGrace is the window in which players may reconnect
	// after the last subscriber disappeared before the job is cancelled.
	lastSubscriberGrace = 2 * time.Second
)

// errJobAborted marks a job that never saw any client connect.
var errJobAborted = errors.New("no clients connected within timeout")

type jobState int

const (
	jobPending jobState = iota
	jobRunning
	jobFinished
)

type jobSubscriber struct {
	ch chan []byte
	// done releases a blocked broadcast send when the subscriber leaves.
	done chan struct{}
}

// MultiClientStreamJob streams one queue flow stream to a synchronized
// group of players. Every subscriber receives the exact same PCM chunk
// sequence from its moment of joining; a new job replaces the previous
// one whenever the stream is restarted (e.g. on seek).
type MultiClientStreamJob struct {
	JobID   string
	QueueID string

	c         *Controller
	queue     *queue.PlayerQueue
	pcmFormat audio.Format
	startItem *queue.Item
	seek      int
	fadeIn    bool
	logger    zerolog.Logger
	cancel    context.CancelFunc

	producerDone chan struct{}
	allConnected chan struct{}

	mu                   sync.Mutex
	state                jobState
	connectedSet         bool
	expectedPlayers      map[string]struct{}
	subscribers          map[string]*jobSubscriber
	bytesStreamed        int64
	clientSecondsSkipped map[string]float64
}

func newMultiClientStreamJob(
	c *Controller,
	q *queue.PlayerQueue,
	pcmFormat audio.Format,
	startItem *queue.Item,
	seekPosition int,
	fadeIn bool,
) *MultiClientStreamJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &MultiClientStreamJob{
		JobID:                uuid.NewString(),
		QueueID:              q.ID,
		c:                    c,
		queue:                q,
		pcmFormat:            pcmFormat,
		startItem:            startItem,
		seek:                 seekPosition,
		fadeIn:               fadeIn,
		cancel:               cancel,
		producerDone:         make(chan struct{}),
		allConnected:         make(chan struct{}),
		expectedPlayers:      make(map[string]struct{}),
		subscribers:          make(map[string]*jobSubscriber),
		clientSecondsSkipped: make(map[string]float64),
	}
	job.logger = c.logger.With().Str("component", "streamjob").Str("job_id", job.JobID).Str("queue_id", q.ID).Logger()
	go job.run(ctx)
	return job
}

// PCMFormat returns the fixed format of the fan-out bus.
func (j *MultiClientStreamJob) PCMFormat() audio.Format {
	return j.pcmFormat
}

// Finished reports whether the job is done producing.
func (j *MultiClientStreamJob) Finished() bool {
	j.mu.Lock()
	finished := j.state == jobFinished
	j.mu.Unlock()
	if finished {
		return true
	}
	select {
	case <-j.producerDone:
		return true
	default:
		return false
	}
}

// Pending reports whether the job is still waiting for clients.
func (j *MultiClientStreamJob) Pending() bool {
	if j.Finished() {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.connectedSet
}

// Running reports whether the job is actively broadcasting.
func (j *MultiClientStreamJob) Running() bool {
	return !j.Finished() && !j.Pending()
}

// BytesStreamed returns the number of PCM bytes broadcast so far.
func (j *MultiClientStreamJob) BytesStreamed() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.bytesStreamed
}

// ClientSecondsSkipped returns how many seconds a late joiner missed.
func (j *MultiClientStreamJob) ClientSecondsSkipped(playerID string) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.clientSecondsSkipped[playerID]
}

// IsSubscribed reports whether the player currently has a subscription.
func (j *MultiClientStreamJob) IsSubscribed(playerID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.subscribers[playerID]
	return ok
}

// Stop stops the job: the producer is cancelled and every subscriber is
// unblocked with an EOF marker.
func (j *MultiClientStreamJob) Stop() {
	j.mu.Lock()
	j.state = jobFinished
	subs := make([]*jobSubscriber, 0, len(j.subscribers))
	for _, sub := range j.subscribers {
		subs = append(subs, sub)
	}
	j.mu.Unlock()
	j.cancel()
	for _, sub := range subs {
		select {
		case sub.ch <- []byte{}:
		default:
		}
	}
}

// ResolveStreamURL mints the child-player specific URL to this job and
// marks the player as expected to join.
func (j *MultiClientStreamJob) ResolveStreamURL(childPlayerID string) (string, error) {
	settings := j.c.settings.Get(childPlayerID)
	outputCodec, err := audio.ParseContentType(settings.OutputCodec)
	if err != nil {
		return "", fmt.Errorf("player %s output codec: %w", childPlayerID, err)
	}
	formatStr := string(outputCodec)
	if outputCodec.IsPCM() {
		p := j.c.players.Get(childPlayerID)
		if p == nil {
			return "", fmt.Errorf("unknown player: %s", childPlayerID)
		}
		caps := audio.PlayerCaps{MaxSampleRate: p.MaxSampleRate, Supports24Bit: p.Supports24Bit}
		sampleRate := min(j.pcmFormat.SampleRate, caps.MaxSampleRate)
		bitDepth := min(j.pcmFormat.BitDepth, caps.MaxBitDepth())
		formatStr += pcmURLParams(sampleRate, bitDepth, settings.OutputChannels)
	}
	streamURL := fmt.Sprintf("%s/%s/multi/%s/%s/%s.%s",
		j.c.baseURL, j.QueueID, j.JobID, childPlayerID, j.startItem.ID, formatStr)
	j.mu.Lock()
	j.expectedPlayers[childPlayerID] = struct{}{}
	j.mu.Unlock()
	return streamURL, nil
}

// Subscription is one player's view on the job's chunk stream.
type Subscription struct {
	job      *MultiClientStreamJob
	playerID string
	sub      *jobSubscriber
	once     sync.Once
}

// Chunks returns the subscriber channel. An empty chunk marks EOF.
func (s *Subscription) Chunks() <-chan []byte {
	return s.sub.ch
}

// Close deregisters the subscription and arms the last-subscriber grace
// timer.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.job.unsubscribe(s.playerID, s.sub)
	})
}

// Subscribe registers a player on the job. A duplicate subscription logs
// a warning naming the misbehaving device and replaces the previous
// channel (some DLNA players issue multiple GETs to the same URL).
func (j *MultiClientStreamJob) Subscribe(playerID string) *Subscription {
	j.mu.Lock()
	if old, ok := j.subscribers[playerID]; ok {
		j.logger.Warn().
			Str("player_id", playerID).
			Msg("player is making multiple requests to the same stream, playback may be disturbed")
		close(old.done)
	}
	sub := &jobSubscriber{
		ch:   make(chan []byte, subscriberBufferChunks),
		done: make(chan struct{}),
	}
	j.subscribers[playerID] = sub
	if j.state == jobFinished {
		// job ended between lookup and subscribe, deliver EOF right away
		sub.ch <- []byte{}
	}
	if j.connectedSet {
		// late joiner, record how much audio it missed
		j.logger.Debug().Str("player_id", playerID).Msg("client is joining while the stream already started")
		j.clientSecondsSkipped[playerID] = float64(j.bytesStreamed) / float64(j.pcmFormat.PCMSampleSize())
	} else {
		j.logger.Debug().Str("player_id", playerID).Msg("subscribed client")
		if len(j.subscribers) >= len(j.expectedPlayers) {
			j.setAllConnectedLocked()
		}
	}
	count := len(j.subscribers)
	j.mu.Unlock()
	telemetry.JobSubscribers.WithLabelValues(j.QueueID).Set(float64(count))
	j.c.bus.Publish(events.EventListenerStats, events.Payload{
		"queue_id":    j.QueueID,
		"job_id":      j.JobID,
		"subscribers": count,
	})
	return &Subscription{job: j, playerID: playerID, sub: sub}
}

func (j *MultiClientStreamJob) unsubscribe(playerID string, sub *jobSubscriber) {
	j.mu.Lock()
	// only remove the entry if it still belongs to this subscription;
	// a duplicate GET may have replaced it already
	if current, ok := j.subscribers[playerID]; ok && current == sub {
		delete(j.subscribers, playerID)
		close(sub.done)
	}
	count := len(j.subscribers)
	j.mu.Unlock()
	telemetry.JobSubscribers.WithLabelValues(j.QueueID).Set(float64(count))
	j.c.bus.Publish(events.EventListenerStats, events.Payload{
		"queue_id":    j.QueueID,
		"job_id":      j.JobID,
		"subscribers": count,
	})
	j.logger.Debug().Str("player_id", playerID).Msg("unsubscribed client")

	time.AfterFunc(lastSubscriberGrace, func() {
		j.mu.Lock()
		abandoned := len(j.subscribers) == 0 && j.state != jobFinished
		j.mu.Unlock()
		if abandoned && !j.Finished() {
			j.logger.Debug().Msg("cleaning up, all clients disappeared")
			j.cancel()
		}
	})
}

func (j *MultiClientStreamJob) setAllConnectedLocked() {
	if !j.connectedSet {
		j.connectedSet = true
		close(j.allConnected)
	}
}

// run is the producer task: it feeds the queue flow stream to all
// subscribers, holding the first chunk until the expected players
// connected.
func (j *MultiClientStreamJob) run(ctx context.Context) {
	defer close(j.producerDone)

	chunkNum := 0
	err := j.c.FlowStream(ctx, j.queue, j.startItem, j.pcmFormat, j.seek, j.fadeIn, func(chunk []byte) error {
		if chunkNum == 0 {
			if err := j.waitAllConnected(ctx); err != nil {
				return err
			}
			j.mu.Lock()
			if j.state == jobPending {
				j.state = jobRunning
			}
			j.mu.Unlock()
		}
		chunkNum++
		return j.broadcast(ctx, chunk)
	})

	switch {
	case err == nil:
		// source exhausted, mark EOF with an empty chunk
		_ = j.broadcast(ctx, []byte{})
	case errors.Is(err, errJobAborted), errors.Is(err, context.Canceled):
		// aborted or stopped; Stop() delivers EOF markers itself
	default:
		j.logger.Error().Err(err).Msg("stream job failed")
		_ = j.broadcast(ctx, []byte{})
	}

	j.mu.Lock()
	j.state = jobFinished
	j.mu.Unlock()
}

func (j *MultiClientStreamJob) waitAllConnected(ctx context.Context) error {
	timer := time.NewTimer(allConnectedTimeout)
	defer timer.Stop()
	select {
	case <-j.allConnected:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		j.mu.Lock()
		connected := len(j.subscribers)
		// move on with whoever did connect
		j.setAllConnectedLocked()
		j.mu.Unlock()
		if connected == 0 {
			j.logger.Error().Msg("abort multi client stream job: clients did not connect within timeout")
			return errJobAborted
		}
	}
	j.mu.Lock()
	connected := len(j.subscribers)
	expected := len(j.expectedPlayers)
	j.mu.Unlock()
	j.logger.Debug().
		Int("connected", connected).
		Int("expected", expected).
		Msg("starting multi client stream job")
	return nil
}

// broadcast delivers one chunk to a snapshot of the current subscribers.
// Each send blocks on the subscriber's bounded channel, so the slowest
// client dictates the pace.
func (j *MultiClientStreamJob) broadcast(ctx context.Context, chunk []byte) error {
	j.mu.Lock()
	subs := make([]*jobSubscriber, 0, len(j.subscribers))
	for _, sub := range j.subscribers {
		subs = append(subs, sub)
	}
	j.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *jobSubscriber) {
			defer wg.Done()
			select {
			case sub.ch <- chunk:
			case <-sub.done:
			case <-ctx.Done():
			}
		}(sub)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	j.bytesStreamed += int64(len(chunk))
	j.mu.Unlock()
	return nil
}
