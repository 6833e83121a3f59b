// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDSource hands out conversation ids. Ids must never repeat.
type IDSource interface {
	NextID() string
}

// CounterSource derives ids from the clock in milliseconds and bumps them
// when two ids are requested within the same tick, so ids strictly increase.
type CounterSource struct {
	Now func() time.Time

	mu   sync.Mutex
	last int64
}

// NewCounterSource returns a CounterSource on the wall clock.
func NewCounterSource() *CounterSource {
	return &CounterSource{Now: time.Now}
}

// NextID implements IDSource.
func (c *CounterSource) NextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	next := now().UnixMilli()
	if next <= c.last {
		next = c.last + 1
	}
	c.last = next
	return strconv.FormatInt(next, 10)
}

// Observe makes sure future ids sort after id. Used after a restore.
func (c *CounterSource) Observe(id string) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return
	}
	c.mu.Lock()
	if n > c.last {
		c.last = n
	}
	c.mu.Unlock()
}

// UUIDSource issues random version 4 UUIDs.
type UUIDSource struct{}

// NextID implements IDSource.
func (UUIDSource) NextID() string {
	return uuid.NewString()
}

// NewIDSource returns the source named kind: "uuid", or the counter for
// anything else.
func NewIDSource(kind string) IDSource {
	if kind == "uuid" {
		return UUIDSource{}
	}
	return NewCounterSource()
}
