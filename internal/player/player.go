/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player holds the player model and the per-player settings store.
package player

import "sync"

// Player describes a networked playback device and its capabilities.
type Player struct {
	ID            string
	DisplayName   string
	MaxSampleRate int
	Supports24Bit bool
}

// Registry resolves players by id. Player discovery and lifecycle live in
// the control layer; the stream server only looks players up.
type Registry interface {
	Get(playerID string) *Player
}

// MemoryRegistry is an in-process player registry populated by the control
// layer.
type MemoryRegistry struct {
	mu      sync.RWMutex
	players map[string]*Player
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{players: make(map[string]*Player)}
}

// Add registers or replaces a player.
func (r *MemoryRegistry) Add(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p.ID] = p
}

// Get returns the player or nil.
func (r *MemoryRegistry) Get(playerID string) *Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players[playerID]
}
