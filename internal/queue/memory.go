/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"sync"
)

// MemoryController is an in-process queue controller. The playback control
// layer populates it; the stream server only reads from it.
type MemoryController struct {
	mu     sync.RWMutex
	queues map[string]*PlayerQueue
	items  map[string][]*Item
	cursor map[string]int
}

// NewMemoryController creates an empty controller.
func NewMemoryController() *MemoryController {
	return &MemoryController{
		queues: make(map[string]*PlayerQueue),
		items:  make(map[string][]*Item),
		cursor: make(map[string]int),
	}
}

// AddQueue registers or replaces a queue.
func (c *MemoryController) AddQueue(q *PlayerQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[q.ID] = q
}

// SetItems replaces the item sequence of a queue and resets its cursor.
func (c *MemoryController) SetItems(queueID string, items []*Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[queueID] = items
	c.cursor[queueID] = 0
}

// Get returns the queue or nil.
func (c *MemoryController) Get(queueID string) *PlayerQueue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queues[queueID]
}

// GetItem returns the item with the given id or nil.
func (c *MemoryController) GetItem(queueID, itemID string) *Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, item := range c.items[queueID] {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}

// PreloadNext advances the queue cursor and returns the upcoming item.
func (c *MemoryController) PreloadNext(_ context.Context, queueID string) (*Item, *Item, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[queueID]
	items := c.items[queueID]
	pos := c.cursor[queueID]
	if q == nil || pos+1 >= len(items) {
		return nil, nil, false, ErrQueueEmpty
	}
	prev := items[pos]
	next := items[pos+1]
	c.cursor[queueID] = pos + 1
	return prev, next, q.CrossfadeEnabled, nil
}
