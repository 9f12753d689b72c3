// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process cache with expiry and least-recently-used eviction
type Memory struct {
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	mutex      sync.Mutex
	now        func() time.Time
}

// NewMemory creates an in-memory cache holding at most maxEntries keys
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the stored value
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	elem, exists := m.entries[key]
	if !exists {
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.remove(elem)
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(elem)

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores a copy of value; a non-positive ttl never expires
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := &memoryEntry{key: key, value: make([]byte, len(value))}
	copy(entry.value, value)
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	if elem, exists := m.entries[key]; exists {
		elem.Value = entry
		m.order.MoveToFront(elem)
		return nil
	}

	if len(m.entries) >= m.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			m.remove(oldest)
		}
	}
	m.entries[key] = m.order.PushFront(entry)
	return nil
}

// Delete removes a key
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if elem, exists := m.entries[key]; exists {
		m.remove(elem)
	}
	return nil
}

// Close drops every entry
func (m *Memory) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// remove unlinks elem. Caller holds the mutex.
func (m *Memory) remove(elem *list.Element) {
	m.order.Remove(elem)
	delete(m.entries, elem.Value.(*memoryEntry).key)
}
