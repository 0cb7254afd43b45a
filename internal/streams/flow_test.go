/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/player"
	"github.com/music-assistant/streamserver/internal/queue"
)

// fakeProvider serves canned PCM per item id.
type fakeProvider struct {
	media      map[string][]byte
	format     audio.Format
	detailsErr error
}

func (p *fakeProvider) GetStreamDetails(_ context.Context, item *queue.Item) (*queue.StreamDetails, error) {
	if p.detailsErr != nil {
		return nil, p.detailsErr
	}
	if _, ok := p.media[item.ID]; !ok {
		return nil, queue.ErrMediaNotFound
	}
	return &queue.StreamDetails{
		URI:         "test://" + item.ID,
		AudioFormat: p.format,
		StreamTitle: item.Name,
	}, nil
}

func (p *fakeProvider) GetMediaStream(_ context.Context, details *queue.StreamDetails, _ audio.Format, _ queue.MediaStreamOptions) (io.ReadCloser, error) {
	id := details.URI[len("test://"):]
	return io.NopCloser(bytes.NewReader(p.media[id])), nil
}

// testPCMFormat keeps test tracks small: 32000 bytes of PCM per second.
var testPCMFormat = audio.Format{
	ContentType: audio.ContentTypePCMS16LE,
	SampleRate:  8000,
	BitDepth:    16,
	Channels:    2,
}

// pcmSeconds produces n seconds of PCM in testPCMFormat filled with a
// marker byte, so test assertions can tell the tracks apart.
func pcmSeconds(n int, fill byte) []byte {
	out := make([]byte, n*testPCMFormat.PCMSampleSize())
	for i := range out {
		out[i] = fill
	}
	return out
}

func newTestController(t *testing.T, prov queue.Provider, queues queue.Controller, crossfadeDuration int) *Controller {
	t.Helper()
	store, err := player.OpenSettingsStore(filepath.Join(t.TempDir(), "players.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if crossfadeDuration > 0 {
		settings := player.DefaultSettings()
		settings.CrossfadeDuration = crossfadeDuration
		if err := store.Set("q1", settings); err != nil {
			t.Fatal(err)
		}
	}
	return NewController(Options{
		BaseURL:  "http://127.0.0.1:8096",
		Provider: prov,
		Queues:   queues,
		Players:  player.NewMemoryRegistry(),
		Settings: store,
		Bus:      events.NewBus(),
		Logger:   zerolog.Nop(),
	})
}

func setupQueue(crossfade bool, items ...*queue.Item) *queue.MemoryController {
	queues := queue.NewMemoryController()
	queues.AddQueue(&queue.PlayerQueue{ID: "q1", DisplayName: "Test Queue", CrossfadeEnabled: crossfade})
	queues.SetItems("q1", items)
	return queues
}

func collectFlow(t *testing.T, c *Controller, queues queue.Controller, start *queue.Item) []byte {
	t.Helper()
	var out bytes.Buffer
	err := c.FlowStream(context.Background(), queues.Get("q1"), start, testPCMFormat, 0, false, func(chunk []byte) error {
		out.Write(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("flow stream: %v", err)
	}
	return out.Bytes()
}

func TestFlowStreamCrossfadeCollapsesFadeWindows(t *testing.T) {
	items := []*queue.Item{
		{ID: "t1", Name: "Track 1"},
		{ID: "t2", Name: "Track 2"},
	}
	prov := &fakeProvider{
		format: testPCMFormat,
		media: map[string][]byte{
			"t1": pcmSeconds(10, 0x11),
			"t2": pcmSeconds(10, 0x22),
		},
	}
	queues := setupQueue(true, items...)
	c := newTestController(t, prov, queues, 2)

	out := collectFlow(t, c, queues, items[0])

	// 2 seconds of overlap collapse into the crossfade window, and the
	// final track's carried fadeout is held back at the end of the queue
	sampleSize := testPCMFormat.PCMSampleSize()
	if want := 16 * sampleSize; len(out) != want {
		t.Fatalf("flow output %d bytes, want %d", len(out), want)
	}

	// the first track plays untouched up to its fade-out window
	head := out[:8*sampleSize]
	for i, b := range head {
		if b != 0x11 {
			t.Fatalf("byte %d of first track section = %#x", i, b)
		}
	}

	if got := items[0].StreamDetails.SecondsStreamed; got != 8.0 {
		t.Fatalf("track 1 seconds streamed = %v, want 8", got)
	}
	if got := items[1].StreamDetails.SecondsStreamed; got != 8.0 {
		t.Fatalf("track 2 seconds streamed = %v, want 8", got)
	}
}

func TestFlowStreamWithoutCrossfadeConcatenates(t *testing.T) {
	items := []*queue.Item{
		{ID: "t1", Name: "Track 1"},
		{ID: "t2", Name: "Track 2"},
	}
	prov := &fakeProvider{
		format: testPCMFormat,
		media: map[string][]byte{
			"t1": pcmSeconds(6, 0x11),
			"t2": pcmSeconds(6, 0x22),
		},
	}
	queues := setupQueue(false, items...)
	c := newTestController(t, prov, queues, 0)

	out := collectFlow(t, c, queues, items[0])

	want := append(pcmSeconds(6, 0x11), pcmSeconds(6, 0x22)...)
	if !bytes.Equal(out, want) {
		t.Fatalf("flow output differs from concatenation: got %d bytes, want %d", len(out), len(want))
	}
	if got := items[0].StreamDetails.SecondsStreamed; got != 6.0 {
		t.Fatalf("track 1 seconds streamed = %v, want 6", got)
	}
}

func TestFlowStreamSkipsItemsWithoutMedia(t *testing.T) {
	items := []*queue.Item{
		{ID: "t1", Name: "Track 1"},
		{ID: "missing", Name: "Gone"},
		{ID: "t3", Name: "Track 3"},
	}
	prov := &fakeProvider{
		format: testPCMFormat,
		media: map[string][]byte{
			"t1": pcmSeconds(6, 0x11),
			"t3": pcmSeconds(6, 0x33),
		},
	}
	queues := setupQueue(false, items...)
	c := newTestController(t, prov, queues, 0)

	out := collectFlow(t, c, queues, items[0])

	want := append(pcmSeconds(6, 0x11), pcmSeconds(6, 0x33)...)
	if !bytes.Equal(out, want) {
		t.Fatalf("missing item not skipped cleanly: got %d bytes, want %d", len(out), len(want))
	}
}

func TestFlowStreamHandlesEmptyMediaStream(t *testing.T) {
	items := []*queue.Item{
		{ID: "t1", Name: "Track 1"},
		{ID: "empty", Name: "Broken"},
		{ID: "t3", Name: "Track 3"},
	}
	prov := &fakeProvider{
		format: testPCMFormat,
		media: map[string][]byte{
			"t1":    pcmSeconds(6, 0x11),
			"empty": {},
			"t3":    pcmSeconds(6, 0x33),
		},
	}
	queues := setupQueue(false, items...)
	c := newTestController(t, prov, queues, 0)

	out := collectFlow(t, c, queues, items[0])

	want := append(pcmSeconds(6, 0x11), pcmSeconds(6, 0x33)...)
	if !bytes.Equal(out, want) {
		t.Fatalf("empty stream not skipped: got %d bytes, want %d", len(out), len(want))
	}
	if got := items[1].StreamDetails.SecondsStreamed; got != 0 {
		t.Fatalf("broken track seconds streamed = %v, want 0", got)
	}
}

func TestFlowStreamRejectsNonPCMFormat(t *testing.T) {
	queues := setupQueue(false, &queue.Item{ID: "t1"})
	c := newTestController(t, &fakeProvider{format: testPCMFormat}, queues, 0)
	err := c.FlowStream(context.Background(), queues.Get("q1"), &queue.Item{ID: "t1"}, audio.Format{
		ContentType: audio.ContentTypeFLAC, SampleRate: 44100, BitDepth: 16, Channels: 2,
	}, 0, false, func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-pcm flow format")
	}
}

func TestFlowStreamPropagatesSinkError(t *testing.T) {
	items := []*queue.Item{{ID: "t1", Name: "Track 1"}}
	prov := &fakeProvider{
		format: testPCMFormat,
		media:  map[string][]byte{"t1": pcmSeconds(6, 0x11)},
	}
	queues := setupQueue(false, items...)
	c := newTestController(t, prov, queues, 0)

	wantErr := io.ErrClosedPipe
	err := c.FlowStream(context.Background(), queues.Get("q1"), items[0], testPCMFormat, 0, false, func([]byte) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("flow stream error = %v, want %v", err, wantErr)
	}
}
