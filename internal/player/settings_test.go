/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"path/filepath"
	"testing"
)

func TestSettingsStoreDefaults(t *testing.T) {
	store, err := OpenSettingsStore(filepath.Join(t.TempDir(), "players.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	got := store.Get("unknown-player")
	if got.OutputCodec != "flac" {
		t.Fatalf("default codec = %q", got.OutputCodec)
	}
	if got.OutputChannels != "stereo" {
		t.Fatalf("default channels = %q", got.OutputChannels)
	}
	if got.CrossfadeDuration != 8 {
		t.Fatalf("default crossfade duration = %d", got.CrossfadeDuration)
	}
}

func TestSettingsStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.yaml")
	store, err := OpenSettingsStore(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Settings{
		OutputCodec:       "mp3",
		OutputChannels:    "left",
		EQBass:            2.5,
		CrossfadeDuration: 4,
	}
	if err := store.Set("kitchen", want); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSettingsStore(path)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Get("kitchen")
	if got.OutputCodec != "mp3" || got.OutputChannels != "left" || got.EQBass != 2.5 || got.CrossfadeDuration != 4 {
		t.Fatalf("reloaded settings = %+v", got)
	}
}

func TestSettingsStoreFillsPartialEntries(t *testing.T) {
	store, err := OpenSettingsStore(filepath.Join(t.TempDir(), "players.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("bedroom", Settings{EQTreble: -1}); err != nil {
		t.Fatal(err)
	}
	got := store.Get("bedroom")
	if got.OutputCodec != "flac" || got.OutputChannels != "stereo" || got.CrossfadeDuration != 8 {
		t.Fatalf("partial entry not defaulted: %+v", got)
	}
	if got.EQTreble != -1 {
		t.Fatalf("stored value lost: %+v", got)
	}
}

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	if r.Get("p1") != nil {
		t.Fatal("empty registry returned a player")
	}
	r.Add(&Player{ID: "p1", DisplayName: "Kitchen", MaxSampleRate: 48000, Supports24Bit: true})
	got := r.Get("p1")
	if got == nil || got.DisplayName != "Kitchen" {
		t.Fatalf("player lookup failed: %+v", got)
	}
}
