package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Slot is one durable key-value cell.
type Slot interface {
	Load(ctx context.Context) (string, error)
	Store(ctx context.Context, value string) error
	Clear(ctx context.Context) error
}

// =============================================================================
// MEMORY SLOT
// =============================================================================

// MemorySlot keeps the value in process memory. Tests and single-shot tools.
type MemorySlot struct {
	mu    sync.Mutex
	value string
}

func (m *MemorySlot) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *MemorySlot) Store(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	return nil
}

func (m *MemorySlot) Clear(context.Context) error {
	return m.Store(context.Background(), "")
}

// MemorySlots hands out one MemorySlot per token, for the HTTP API when
// Redis is not configured.
type MemorySlots struct {
	mu    sync.Mutex
	slots map[string]*MemorySlot
}

func NewMemorySlots() *MemorySlots {
	return &MemorySlots{slots: make(map[string]*MemorySlot)}
}

// Slot returns a handle for token. The map entry is created by Store and
// removed by Clear, so tokens that never log in leave nothing behind.
func (m *MemorySlots) Slot(token string) Slot {
	return &memoryEntry{owner: m, token: token}
}

// Len reports how many tokens currently hold a value.
func (m *MemorySlots) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

type memoryEntry struct {
	owner *MemorySlots
	token string
}

func (e *memoryEntry) Load(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	s, ok := e.owner.slots[e.token]
	e.owner.mu.Unlock()
	if !ok {
		return "", nil
	}
	return s.Load(ctx)
}

func (e *memoryEntry) Store(ctx context.Context, value string) error {
	if value == "" {
		return e.Clear(ctx)
	}
	e.owner.mu.Lock()
	s, ok := e.owner.slots[e.token]
	if !ok {
		s = &MemorySlot{}
		e.owner.slots[e.token] = s
	}
	e.owner.mu.Unlock()
	return s.Store(ctx, value)
}

func (e *memoryEntry) Clear(context.Context) error {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	delete(e.owner.slots, e.token)
	return nil
}

// =============================================================================
// FILE SLOT
// =============================================================================

// FileSlot persists the value in a small JSON file, the command-line
// equivalent of the browser's localStorage.
type FileSlot struct {
	path string
	mu   sync.Mutex
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (f *FileSlot) Load(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return "", err
	}
	return values[SlotName], nil
}

func (f *FileSlot) Store(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return err
	}
	values[SlotName] = value
	return f.write(values)
}

func (f *FileSlot) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return err
	}
	delete(values, SlotName)
	return f.write(values)
}

func (f *FileSlot) read() (map[string]string, error) {
	values := map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	return values, nil
}

// write replaces the file atomically via a temp file and rename.
func (f *FileSlot) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
