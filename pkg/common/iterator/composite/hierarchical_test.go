package composite

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

// mockIterator is a simple in-memory iterator for testing
type mockIterator struct {
	keys   []string
	values map[string]string
	index  int
	err    error
}

func newMockIterator(data map[string]string) *mockIterator {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &mockIterator{keys: keys, values: data, index: -1}
}

func (m *mockIterator) SeekToFirst() {
	m.index = -1
	if len(m.keys) > 0 {
		m.index = 0
	}
}

func (m *mockIterator) SeekToLast() {
	m.index = len(m.keys) - 1
}

func (m *mockIterator) Seek(target []byte) bool {
	m.index = sort.SearchStrings(m.keys, string(target))
	if m.index >= len(m.keys) {
		m.index = -1
	}
	return m.Valid()
}

func (m *mockIterator) Next() bool {
	if !m.Valid() {
		return false
	}
	m.index++
	if m.index >= len(m.keys) {
		m.index = -1
	}
	return m.Valid()
}

func (m *mockIterator) Key() []byte {
	if !m.Valid() {
		return nil
	}
	return []byte(m.keys[m.index])
}

func (m *mockIterator) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return []byte(m.values[m.keys[m.index]])
}

func (m *mockIterator) Valid() bool {
	return m.index >= 0 && m.index < len(m.keys)
}

func (m *mockIterator) Err() error {
	return m.err
}

func TestHierarchicalIteratorNewestWins(t *testing.T) {
	newest := newMockIterator(map[string]string{"b": "new-b", "d": "new-d"})
	middle := newMockIterator(map[string]string{"a": "mid-a", "b": "mid-b", "e": "mid-e"})
	oldest := newMockIterator(map[string]string{"a": "old-a", "c": "old-c", "d": "old-d", "e": "old-e"})

	h := NewHierarchicalIterator(newest, middle, oldest)
	if h.NumSources() != 3 {
		t.Errorf("expected 3 sources, got %d", h.NumSources())
	}

	var got []string
	for h.SeekToFirst(); h.Valid(); h.Next() {
		got = append(got, string(h.Key())+"="+string(h.Value()))
	}

	expected := "a=mid-a,b=new-b,c=old-c,d=new-d,e=mid-e"
	if strings.Join(got, ",") != expected {
		t.Errorf("expected %s, got %s", expected, strings.Join(got, ","))
	}
}

func TestHierarchicalIteratorSeek(t *testing.T) {
	newest := newMockIterator(map[string]string{"b": "new-b", "f": "new-f"})
	oldest := newMockIterator(map[string]string{"b": "old-b", "d": "old-d"})
	h := NewHierarchicalIterator(newest, oldest)

	testCases := []struct {
		target   string
		key      string
		value    string
		expected bool
	}{
		{"a", "b", "new-b", true},
		{"b", "b", "new-b", true},
		{"c", "d", "old-d", true},
		{"e", "f", "new-f", true},
		{"g", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.target, func(t *testing.T) {
			if ok := h.Seek([]byte(tc.target)); ok != tc.expected {
				t.Fatalf("Seek(%s) = %v, expected %v", tc.target, ok, tc.expected)
			}
			if string(h.Key()) != tc.key || string(h.Value()) != tc.value {
				t.Errorf("Seek(%s) landed on %q=%q", tc.target, h.Key(), h.Value())
			}
		})
	}

	// Next after Seek continues in order
	h.Seek([]byte("c"))
	if !h.Next() || string(h.Key()) != "f" {
		t.Errorf("expected f after d, got %q", h.Key())
	}
	if h.Next() {
		t.Errorf("expected end of iteration, got %q", h.Key())
	}
}

func TestHierarchicalIteratorSeekToLast(t *testing.T) {
	newest := newMockIterator(map[string]string{"a": "new-a", "e": "new-e"})
	oldest := newMockIterator(map[string]string{"e": "old-e"})
	h := NewHierarchicalIterator(newest, oldest)

	h.SeekToLast()
	if !h.Valid() || string(h.Key()) != "e" || string(h.Value()) != "new-e" {
		t.Errorf("expected e=new-e, got %q=%q", h.Key(), h.Value())
	}

	empty := NewHierarchicalIterator(newMockIterator(nil))
	empty.SeekToLast()
	if empty.Valid() {
		t.Error("expected empty iterator to be invalid")
	}
	empty.SeekToFirst()
	if empty.Valid() || empty.Next() {
		t.Error("expected empty iterator to stay invalid")
	}
}

func TestHierarchicalIteratorErr(t *testing.T) {
	healthy := newMockIterator(map[string]string{"a": "1"})
	broken := newMockIterator(map[string]string{"b": "2"})
	broken.err = errors.New("checksum mismatch")

	h := NewHierarchicalIterator(healthy, broken)
	if !errors.Is(h.Err(), broken.err) {
		t.Errorf("expected joined source error, got %v", h.Err())
	}
	if NewHierarchicalIterator(healthy).Err() != nil {
		t.Error("expected no error from healthy sources")
	}
}
