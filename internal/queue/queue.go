// Package queue manages the playback list.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

// ChangeCallback is called when the list state changes
type ChangeCallback func()

// Manager holds the ordered playback list and the current index. The index
// is -1 only when the list is empty.
type Manager struct {
	mu       sync.RWMutex
	items    []types.Track
	index    int
	mode     types.PlayMode
	rng      *rand.Rand
	onChange ChangeCallback // Called when list state changes
}

// NewManager creates a new list manager
func NewManager() *Manager {
	return &Manager{
		items: make([]types.Track, 0),
		index: -1,
		mode:  types.PlayModeSequential,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOnChange sets a callback to be called when the list state changes
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

// Set replaces the list. With keepIndex the current index survives when it
// is still in range; otherwise the list starts at its first entry.
func (m *Manager) Set(tracks []types.Track, keepIndex bool) {
	m.mu.Lock()

	m.items = make([]types.Track, len(tracks))
	copy(m.items, tracks)
	if !keepIndex || m.index >= len(m.items) {
		m.index = 0
	}
	m.fixIndex()

	m.mu.Unlock()
	m.notifyChange()
}

// Append adds tracks that are not already in the list and returns how many
// were added
func (m *Manager) Append(tracks ...types.Track) int {
	m.mu.Lock()

	added := 0
	for _, t := range tracks {
		if m.indexOf(t.Identity()) >= 0 {
			continue
		}
		m.items = append(m.items, t)
		added++
	}
	m.fixIndex()

	m.mu.Unlock()
	if added > 0 {
		m.notifyChange()
	}
	return added
}

// InsertNext places track right after the current entry, moving it there if
// it is already in the list. It returns the track's new index.
func (m *Manager) InsertNext(track types.Track) int {
	m.mu.Lock()

	if i := m.indexOf(track.Identity()); i >= 0 {
		if i == m.index {
			m.mu.Unlock()
			return i
		}
		track = m.items[i]
		m.removeAt(i)
	}

	pos := m.index + 1
	m.items = append(m.items, types.Track{})
	copy(m.items[pos+1:], m.items[pos:])
	m.items[pos] = track
	m.fixIndex()

	m.mu.Unlock()
	m.notifyChange()
	return pos
}

// Remove removes the entry at index. It reports whether the entry existed
// and whether it was the current one; in that case the index now points at
// the entry that followed it, wrapping to the start.
func (m *Manager) Remove(index int) (ok, wasCurrent bool) {
	m.mu.Lock()

	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return false, false
	}
	wasCurrent = index == m.index
	m.removeAt(index)

	m.mu.Unlock()
	m.notifyChange()
	return true, wasCurrent
}

// RemoveIdentity removes the entry with the given identity
func (m *Manager) RemoveIdentity(id types.Identity) (ok, wasCurrent bool) {
	m.mu.Lock()
	index := m.indexOf(id)
	if index < 0 {
		m.mu.Unlock()
		return false, false
	}
	wasCurrent = index == m.index
	m.removeAt(index)

	m.mu.Unlock()
	m.notifyChange()
	return true, wasCurrent
}

func (m *Manager) removeAt(index int) {
	m.items = append(m.items[:index], m.items[index+1:]...)
	if index < m.index {
		m.index--
	}
	if m.index >= len(m.items) {
		m.index = 0
	}
	m.fixIndex()
}

// fixIndex keeps the index valid, or -1 when the list is empty
func (m *Manager) fixIndex() {
	switch {
	case len(m.items) == 0:
		m.index = -1
	case m.index < 0:
		m.index = 0
	case m.index >= len(m.items):
		m.index = len(m.items) - 1
	}
}

// Update applies fn to the entry with the given identity. It reports
// whether the entry was found.
func (m *Manager) Update(id types.Identity, fn func(t *types.Track)) bool {
	m.mu.Lock()

	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return false
	}
	fn(&m.items[i])

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Clear clears the list
func (m *Manager) Clear() {
	m.mu.Lock()

	m.items = make([]types.Track, 0)
	m.index = -1

	m.mu.Unlock()
	m.notifyChange()
}

// IndexOf returns the index of the entry with the given identity, or -1
func (m *Manager) IndexOf(id types.Identity) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexOf(id)
}

func (m *Manager) indexOf(id types.Identity) int {
	if id.IsZero() {
		return -1
	}
	for i := range m.items {
		if m.items[i].Identity() == id {
			return i
		}
	}
	return -1
}

// NextIndex returns the index that follows the current one in the current
// mode. Shuffle picks a uniformly random index other than the current one.
func (m *Manager) NextIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step(1)
}

// PrevIndex returns the index that precedes the current one
func (m *Manager) PrevIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step(-1)
}

func (m *Manager) step(dir int) int {
	n := len(m.items)
	if n == 0 {
		return -1
	}
	if m.mode == types.PlayModeShuffle && n > 1 {
		j := m.rng.Intn(n - 1)
		if j >= m.index {
			j++
		}
		return j
	}
	return ((m.index+dir)%n + n) % n
}

// At returns a copy of the entry at index
func (m *Manager) At(index int) (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.items) {
		return types.Track{}, false
	}
	return m.items[index], true
}

// Current returns a copy of the current entry
func (m *Manager) Current() (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 {
		return types.Track{}, false
	}
	return m.items[m.index], true
}

// SetIndex sets the current position
func (m *Manager) SetIndex(index int) bool {
	m.mu.Lock()

	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return false
	}
	changed := m.index != index
	m.index = index
	m.mu.Unlock()
	if changed {
		m.notifyChange()
	}
	return true
}

// Position returns the current index and list size
func (m *Manager) Position() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index, len(m.items)
}

// Len returns the list size
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Items returns a copy of all entries
func (m *Manager) Items() []types.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Track, len(m.items))
	copy(result, m.items)
	return result
}

// SetMode sets the advance mode
func (m *Manager) SetMode(mode types.PlayMode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	m.notifyChange()
}

// Mode returns the advance mode
func (m *Manager) Mode() types.PlayMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}
