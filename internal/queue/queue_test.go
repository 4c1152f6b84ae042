package queue

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/austinkregel/local-media/streamd/internal/types"
)

func tracks(ids ...string) []types.Track {
	out := make([]types.Track, len(ids))
	for i, id := range ids {
		out[i] = types.Track{ID: id, Origin: types.OriginNetease, Name: "track " + id}
	}
	return out
}

func ids(m *Manager) []string {
	var out []string
	for _, t := range m.Items() {
		out = append(out, t.ID)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewManager(t *testing.T) {
	m := NewManager()

	if m == nil {
		t.Fatal("NewManager returned nil")
	}

	idx, size := m.Position()
	if idx != -1 {
		t.Errorf("Expected index -1, got %d", idx)
	}
	if size != 0 {
		t.Errorf("Expected size 0, got %d", size)
	}
	if _, ok := m.Current(); ok {
		t.Error("Expected no current track on empty list")
	}
	if m.NextIndex() != -1 || m.PrevIndex() != -1 {
		t.Error("Expected -1 from NextIndex/PrevIndex on empty list")
	}
}

func TestSet(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2", "3"), false)

	idx, size := m.Position()
	if idx != 0 {
		t.Errorf("Expected index 0 after Set, got %d", idx)
	}
	if size != 3 {
		t.Errorf("Expected size 3, got %d", size)
	}

	m.SetIndex(2)
	m.Set(tracks("1", "2", "3", "4"), true)
	if idx, _ := m.Position(); idx != 2 {
		t.Errorf("Expected keepIndex to hold index 2, got %d", idx)
	}

	m.Set(tracks("9"), true)
	if idx, _ := m.Position(); idx != 0 {
		t.Errorf("Expected out of range index to reset to 0, got %d", idx)
	}

	m.Set(nil, true)
	if idx, _ := m.Position(); idx != -1 {
		t.Errorf("Expected -1 on empty list, got %d", idx)
	}
}

func TestAppendDeduplicates(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1"), false)

	added := m.Append(tracks("2", "1", "3")...)
	if added != 2 {
		t.Errorf("Expected 2 added, got %d", added)
	}
	if got := ids(m); !equal(got, []string{"1", "2", "3"}) {
		t.Errorf("Unexpected items %v", got)
	}

	other := types.Track{ID: "1", Origin: types.OriginKuwo}
	if m.Append(other) != 1 {
		t.Error("Expected same id from another origin to be a distinct track")
	}
}

func TestAppendToEmptySetsIndex(t *testing.T) {
	m := NewManager()
	m.Append(tracks("1", "2")...)

	if idx, _ := m.Position(); idx != 0 {
		t.Errorf("Expected index 0, got %d", idx)
	}
}

func TestSequentialIndices(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2", "3"), false)

	if got := m.NextIndex(); got != 1 {
		t.Errorf("Expected next 1, got %d", got)
	}
	if got := m.PrevIndex(); got != 2 {
		t.Errorf("Expected prev to wrap to 2, got %d", got)
	}

	m.SetIndex(2)
	if got := m.NextIndex(); got != 0 {
		t.Errorf("Expected next to wrap to 0, got %d", got)
	}
	if got := m.PrevIndex(); got != 1 {
		t.Errorf("Expected prev 1, got %d", got)
	}
}

func TestLoopModeAdvancesLikeSequential(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2"), false)
	m.SetMode(types.PlayModeLoop)

	if got := m.NextIndex(); got != 1 {
		t.Errorf("Expected next 1 in loop mode, got %d", got)
	}
}

func TestShuffleNeverRepeatsCurrent(t *testing.T) {
	m := NewManager()
	m.rng = rand.New(rand.NewSource(1))
	m.Set(tracks("1", "2", "3", "4"), false)
	m.SetMode(types.PlayModeShuffle)
	m.SetIndex(2)

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		next := m.NextIndex()
		if next == 2 {
			t.Fatal("Shuffle picked the current index")
		}
		if next < 0 || next >= 4 {
			t.Fatalf("Shuffle picked out of range index %d", next)
		}
		seen[next] = true
	}
	if len(seen) != 3 {
		t.Errorf("Expected all other indices to be picked, got %v", seen)
	}
}

func TestShuffleSingleTrack(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1"), false)
	m.SetMode(types.PlayModeShuffle)

	if got := m.NextIndex(); got != 0 {
		t.Errorf("Expected 0 for single track shuffle, got %d", got)
	}
}

func TestRemove(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2", "3", "4"), false)
	m.SetIndex(2)

	ok, wasCurrent := m.Remove(0)
	if !ok || wasCurrent {
		t.Errorf("Expected ok non-current removal, got %v %v", ok, wasCurrent)
	}
	if idx, _ := m.Position(); idx != 1 {
		t.Errorf("Expected index to follow the current track to 1, got %d", idx)
	}

	ok, wasCurrent = m.Remove(1)
	if !ok || !wasCurrent {
		t.Errorf("Expected current removal, got %v %v", ok, wasCurrent)
	}
	if cur, _ := m.Current(); cur.ID != "4" {
		t.Errorf("Expected current to become the following track 4, got %s", cur.ID)
	}

	ok, wasCurrent = m.Remove(1)
	if !ok || !wasCurrent {
		t.Errorf("Expected current removal, got %v %v", ok, wasCurrent)
	}
	if cur, _ := m.Current(); cur.ID != "2" {
		t.Errorf("Expected removal at the end to wrap to 2, got %s", cur.ID)
	}

	if ok, _ := m.Remove(5); ok {
		t.Error("Expected out of range removal to fail")
	}

	m.Remove(0)
	if idx, size := m.Position(); idx != -1 || size != 0 {
		t.Errorf("Expected empty list, got index %d size %d", idx, size)
	}
}

func TestRemoveIdentity(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2"), false)

	ok, wasCurrent := m.RemoveIdentity(types.Identity{ID: "1", Origin: types.OriginNetease})
	if !ok || !wasCurrent {
		t.Errorf("Expected removal of current, got %v %v", ok, wasCurrent)
	}
	if ok, _ := m.RemoveIdentity(types.Identity{ID: "9", Origin: types.OriginNetease}); ok {
		t.Error("Expected unknown identity removal to fail")
	}
}

func TestRemoveIdentityConcurrentEdits(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2", "3", "4", "5", "6"), false)

	var wg sync.WaitGroup
	for _, id := range []string{"2", "4", "6"} {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			m.RemoveIdentity(types.Identity{ID: id, Origin: types.OriginNetease})
		}(id)
		go func() {
			defer wg.Done()
			m.Remove(0)
		}()
	}
	wg.Wait()

	for _, id := range ids(m) {
		if id == "2" || id == "4" || id == "6" {
			t.Errorf("Expected %s to be removed, got %v", id, ids(m))
		}
	}
	if n := len(ids(m)); n > 3 {
		t.Errorf("Expected at most 3 entries left, got %v", ids(m))
	}
}

func TestInsertNext(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2", "3"), false)

	pos := m.InsertNext(tracks("9")[0])
	if pos != 1 {
		t.Errorf("Expected insert at 1, got %d", pos)
	}
	if got := ids(m); !equal(got, []string{"1", "9", "2", "3"}) {
		t.Errorf("Unexpected items %v", got)
	}

	// existing tracks move instead of duplicating
	m.SetIndex(1)
	pos = m.InsertNext(tracks("1")[0])
	if got := ids(m); !equal(got, []string{"9", "1", "2", "3"}) {
		t.Errorf("Unexpected items after move %v", got)
	}
	if pos != 1 {
		t.Errorf("Expected moved track at 1, got %d", pos)
	}
	if cur, _ := m.Current(); cur.ID != "9" {
		t.Errorf("Expected current to stay 9, got %s", cur.ID)
	}

	if pos := m.InsertNext(tracks("9")[0]); pos != 0 {
		t.Errorf("Expected inserting the current track to be a no-op, got %d", pos)
	}
}

func TestInsertNextIntoEmpty(t *testing.T) {
	m := NewManager()
	if pos := m.InsertNext(tracks("1")[0]); pos != 0 {
		t.Errorf("Expected insert at 0, got %d", pos)
	}
	if cur, ok := m.Current(); !ok || cur.ID != "1" {
		t.Error("Expected inserted track to become current")
	}
}

func TestUpdate(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2"), false)

	found := m.Update(types.Identity{ID: "2", Origin: types.OriginNetease}, func(tr *types.Track) {
		tr.URL = "http://m/2.mp3"
	})
	if !found {
		t.Fatal("Expected update to find track 2")
	}
	tr, _ := m.At(1)
	if tr.URL != "http://m/2.mp3" {
		t.Errorf("Expected URL written back, got %q", tr.URL)
	}

	if m.Update(types.Identity{}, func(*types.Track) {}) {
		t.Error("Expected zero identity to match nothing")
	}
}

func TestItemsIsACopy(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1"), false)

	items := m.Items()
	items[0].Name = "changed"
	if tr, _ := m.At(0); tr.Name == "changed" {
		t.Error("Expected Items to return a copy")
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.Set(tracks("1", "2"), false)
	m.Clear()

	idx, size := m.Position()
	if idx != -1 || size != 0 {
		t.Errorf("Expected cleared list, got index %d size %d", idx, size)
	}
}

func TestOnChangeCallback(t *testing.T) {
	m := NewManager()
	calls := 0
	m.SetOnChange(func() { calls++ })

	m.Set(tracks("1"), false)
	m.Append(tracks("1")...)
	m.Append(tracks("2")...)
	m.SetIndex(1)
	m.SetIndex(1)
	m.Clear()

	if calls != 4 {
		t.Errorf("Expected 4 change notifications, got %d", calls)
	}
}
