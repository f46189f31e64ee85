package block

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

const testEntrySize = 11

// fixedEntry returns an 11 byte entry: a 5 byte key made of prefix and n,
// and a 4 byte value starting with n
func fixedEntry(n byte) ([]byte, []byte) {
	key := []byte{0, 1, 2, 3, n}
	value := []byte{n, 5, 6, 7}
	return key, value
}

func newTestBlock(t *testing.T, entries, snapshots int) *Block {
	t.Helper()

	buf := make([]byte, HeaderSize+entries*testEntrySize+snapshots*SnapshotSize)
	b, err := New(buf)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}
	return b
}

func fillFixed(t *testing.T, b *Block, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		key, value := fixedEntry(byte(i))
		if _, err := b.Insert(key, value); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i, err)
		}
	}
}

func TestBlockNew(t *testing.T) {
	buf := bytes.Repeat([]byte{0xff}, 64)
	b, err := New(buf)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}

	if b.Len() != 0 || b.Size() != 0 {
		t.Errorf("Expected empty block, got len=%d size=%d", b.Len(), b.Size())
	}
	if b.Capacity() != 64-HeaderSize {
		t.Errorf("Expected capacity %d, got %d", 64-HeaderSize, b.Capacity())
	}
	if b.Remaining() != b.Capacity() {
		t.Errorf("Expected remaining %d, got %d", b.Capacity(), b.Remaining())
	}

	if _, err := New(make([]byte, HeaderSize-1)); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("Expected ErrBufferTooSmall for tiny buffer, got %v", err)
	}
}

func TestBlockIterator(t *testing.T) {
	b := newTestBlock(t, 5, 0)

	keySuffix := []byte{0, 1, 2, 3}
	valueSuffix := []byte{5, 6, 7}

	for n := byte(0); n < 5; n++ {
		key := append([]byte{n}, keySuffix...)
		value := append([]byte{n}, valueSuffix...)
		if _, err := b.Insert(key, value); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", n, err)
		}
	}

	it := b.Iterator()
	count := 0
	for it.Next() {
		expectedKey := append([]byte{byte(count)}, keySuffix...)
		expectedValue := append([]byte{byte(count)}, valueSuffix...)

		if !bytes.Equal(it.Key(), expectedKey) {
			t.Errorf("Entry %d: expected key %v, got %v", count, expectedKey, it.Key())
		}
		if !bytes.Equal(it.Value(), expectedValue) {
			t.Errorf("Entry %d: expected value %v, got %v", count, expectedValue, it.Value())
		}
		if it.Offset() != uint32(count*testEntrySize) {
			t.Errorf("Entry %d: expected offset %d, got %d", count, count*testEntrySize, it.Offset())
		}
		count++
	}

	if err := it.Err(); err != nil {
		t.Fatalf("Iterator error: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected 5 entries, got %d", count)
	}

	// Iterators are independent and restartable
	it2 := b.Iterator()
	if !it2.Next() || it2.Key()[0] != 0 {
		t.Errorf("Second iterator should start at the first entry")
	}
	it.SeekToFirst()
	if !it.Valid() || it.Key()[0] != 0 {
		t.Errorf("SeekToFirst should restart the iterator")
	}
}

func TestBlockOffsetSnapshots(t *testing.T) {
	const snapshotNum = 6
	const entriesNum = SnapshotFrequency * snapshotNum

	b := newTestBlock(t, entriesNum, snapshotNum)
	fillFixed(t, b, entriesNum)

	if b.SnapshotCount() != snapshotNum {
		t.Fatalf("Expected %d snapshots, got %d", snapshotNum, b.SnapshotCount())
	}

	for n := 1; n <= snapshotNum; n++ {
		offset := b.Snapshot(n - 1)
		expected := uint32((n*SnapshotFrequency - 1) * testEntrySize)
		if offset != expected {
			t.Errorf("Snapshot %d: expected offset %d, got %d", n, expected, offset)
		}
	}

	// The page is now exactly full
	if b.Remaining() != 0 {
		t.Errorf("Expected no remaining space, got %d", b.Remaining())
	}
}

func TestBlockSnapshotCadence(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 25, 99, 100} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			b := newTestBlock(t, n, n/SnapshotFrequency)
			fillFixed(t, b, n)

			if b.SnapshotCount() != n/SnapshotFrequency {
				t.Errorf("Expected %d snapshots, got %d", n/SnapshotFrequency, b.SnapshotCount())
			}
			if int(b.Len()) != n {
				t.Errorf("Expected %d entries, got %d", n, b.Len())
			}
			if int(b.Size()) != n*testEntrySize {
				t.Errorf("Expected write offset %d, got %d", n*testEntrySize, b.Size())
			}
		})
	}
}

func TestBlockBinarySearch(t *testing.T) {
	const snapshotNum = 6
	const entriesNum = SnapshotFrequency * snapshotNum

	b := newTestBlock(t, entriesNum, snapshotNum)
	fillFixed(t, b, entriesNum)

	const needleEntry = 39
	needle, _ := fixedEntry(needleEntry)

	offset, err := b.BinarySearch(func(key []byte) int {
		return bytes.Compare(key, needle)
	})
	if err != nil {
		t.Fatalf("Binary search failed: %v", err)
	}
	if offset != needleEntry*testEntrySize {
		t.Errorf("Expected offset %d, got %d", needleEntry*testEntrySize, offset)
	}
}

func TestBlockBinarySearchBracketsEveryKey(t *testing.T) {
	const entriesNum = 57

	b := newTestBlock(t, entriesNum, entriesNum/SnapshotFrequency)
	fillFixed(t, b, entriesNum)

	for n := 0; n < entriesNum; n++ {
		needle, value := fixedEntry(byte(n))
		exact := uint32(n * testEntrySize)

		offset, err := b.BinarySearch(func(key []byte) int {
			return bytes.Compare(key, needle)
		})
		if err != nil {
			t.Fatalf("Binary search for %d failed: %v", n, err)
		}
		if offset > exact {
			t.Errorf("Entry %d: snapshot offset %d is past the entry at %d", n, offset, exact)
			continue
		}

		// A bounded forward scan reaches the exact entry
		found := false
		for steps := 0; steps <= SnapshotFrequency; steps++ {
			entry, err := b.GetAtOffset(offset)
			if err != nil {
				t.Fatalf("Entry %d: decode at %d failed: %v", n, offset, err)
			}
			if bytes.Equal(entry.Key(), needle) {
				if offset != exact || !bytes.Equal(entry.Value(), value) {
					t.Errorf("Entry %d: found at %d, expected %d", n, offset, exact)
				}
				found = true
				break
			}
			offset += entry.Len()
		}
		if !found {
			t.Errorf("Entry %d not reached within %d steps", n, SnapshotFrequency)
		}
	}
}

func TestBlockBinarySearchEmpty(t *testing.T) {
	b := newTestBlock(t, 1, 0)

	offset, err := b.BinarySearch(func(key []byte) int { return 0 })
	if err != nil || offset != 0 {
		t.Errorf("Expected offset 0 on empty block, got %d (err %v)", offset, err)
	}
}

func TestBlockFull(t *testing.T) {
	b := newTestBlock(t, 2, 0)
	fillFixed(t, b, 2)

	count, size := b.Len(), b.Size()
	snapshot := append([]byte(nil), b.Bytes()...)

	key, value := fixedEntry(2)
	_, err := b.Insert(key, value)
	if !errors.Is(err, ErrFullPage) {
		t.Fatalf("Expected ErrFullPage, got %v", err)
	}

	if b.Len() != count || b.Size() != size {
		t.Errorf("Full insert changed the block: len=%d size=%d", b.Len(), b.Size())
	}
	if !bytes.Equal(b.Bytes(), snapshot) {
		t.Errorf("Full insert modified page bytes")
	}
}

func TestBlockFullWhenSnapshotSlotMissing(t *testing.T) {
	// Room for ten entries but not for the snapshot the tenth one takes
	buf := make([]byte, HeaderSize+SnapshotFrequency*testEntrySize+SnapshotSize-1)
	b, err := New(buf)
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}

	fillFixed(t, b, SnapshotFrequency-1)

	key, value := fixedEntry(SnapshotFrequency - 1)
	if _, err := b.Insert(key, value); !errors.Is(err, ErrFullPage) {
		t.Fatalf("Expected ErrFullPage, got %v", err)
	}
	if b.Len() != SnapshotFrequency-1 {
		t.Errorf("Expected %d entries, got %d", SnapshotFrequency-1, b.Len())
	}
}

func TestBlockSealed(t *testing.T) {
	b := newTestBlock(t, 2, 0)
	fillFixed(t, b, 1)
	b.Seal()

	if !b.IsSealed() {
		t.Fatalf("Expected block to be sealed")
	}

	key, value := fixedEntry(1)
	if _, err := b.Insert(key, value); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed, got %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Sealed insert changed the entry count to %d", b.Len())
	}
}

func TestBlockIndex(t *testing.T) {
	const entriesNum = 35

	b := newTestBlock(t, entriesNum, entriesNum/SnapshotFrequency)
	fillFixed(t, b, entriesNum)

	for i := 0; i < entriesNum; i++ {
		entry, err := b.Index(i)
		if err != nil {
			t.Fatalf("Index(%d) failed: %v", i, err)
		}
		expected, _ := fixedEntry(byte(i))
		if !bytes.Equal(entry.Key(), expected) {
			t.Errorf("Index(%d): expected key %v, got %v", i, expected, entry.Key())
		}
	}

	for _, i := range []int{-1, entriesNum, entriesNum + 10} {
		if _, err := b.Index(i); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Index(%d): expected ErrOutOfRange, got %v", i, err)
		}
	}

	first, err := b.First()
	if err != nil || first.Key()[4] != 0 {
		t.Errorf("Unexpected first entry: %v (err %v)", first.Key(), err)
	}
	last, err := b.Last()
	if err != nil || last.Key()[4] != entriesNum-1 {
		t.Errorf("Unexpected last entry: %v (err %v)", last.Key(), err)
	}
}

func TestBlockGetAndSeek(t *testing.T) {
	b, err := New(make([]byte, 4096))
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}

	// Even keys only so odd targets fall between entries
	for i := 0; i < 100; i += 2 {
		key := []byte(fmt.Sprintf("key%03d", i))
		value := []byte(fmt.Sprintf("value%03d", i))
		if _, err := b.Insert(key, value); err != nil {
			t.Fatalf("Failed to insert %s: %v", key, err)
		}
	}

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key%03d", i))
		entry, found, err := b.Get(key)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
		if found != (i%2 == 0) {
			t.Errorf("Get(%s): expected found=%v", key, i%2 == 0)
		}
		if found && string(entry.Value()) != fmt.Sprintf("value%03d", i) {
			t.Errorf("Get(%s): unexpected value %s", key, entry.Value())
		}
	}

	testCases := []struct {
		seek     string
		expected string
		valid    bool
	}{
		{"a", "key000", true},
		{"key000", "key000", true},
		{"key037", "key038", true},
		{"key038", "key038", true},
		{"key098", "key098", true},
		{"key099", "", false},
		{"zzz", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.seek, func(t *testing.T) {
			it := b.Iterator()
			if it.Seek([]byte(tc.seek)) != tc.valid {
				t.Fatalf("Expected Seek to return %v", tc.valid)
			}
			if tc.valid && string(it.Key()) != tc.expected {
				t.Errorf("Expected key %s, got %s", tc.expected, it.Key())
			}
		})
	}

	inRange, err := b.Contains([]byte("key050"))
	if err != nil || !inRange {
		t.Errorf("Expected key050 to be in range (err %v)", err)
	}
	inRange, _ = b.Contains([]byte("key099"))
	if inRange {
		t.Errorf("Expected key099 to be out of range")
	}
}

func TestBlockSeekDuplicateKeys(t *testing.T) {
	b, err := New(make([]byte, 1024))
	if err != nil {
		t.Fatalf("Failed to create block: %v", err)
	}

	// 25 copies of the same key so snapshots land on duplicates
	for i := 0; i < 25; i++ {
		if _, err := b.Insert([]byte("dup"), []byte{byte(i)}); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
	if _, err := b.Insert([]byte("zzz"), []byte("end")); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	it := b.Iterator()
	if !it.Seek([]byte("dup")) {
		t.Fatalf("Seek failed: %v", it.Err())
	}
	if it.Value()[0] != 0 {
		t.Errorf("Expected the first duplicate, got value %d", it.Value()[0])
	}
}

func TestBlockSeekToLast(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 23} {
		t.Run(fmt.Sprintf("%d entries", n), func(t *testing.T) {
			b := newTestBlock(t, n, n/SnapshotFrequency)
			fillFixed(t, b, n)

			it := b.Iterator()
			it.SeekToLast()
			if n == 0 {
				if it.Valid() {
					t.Errorf("Expected invalid iterator on empty block")
				}
				return
			}
			if !it.Valid() || it.Key()[4] != byte(n-1) {
				t.Errorf("Expected last key %d, got %v", n-1, it.Key())
			}
			if it.Next() {
				t.Errorf("Expected no entries after the last one")
			}
		})
	}
}

func TestBlockOpen(t *testing.T) {
	const entriesNum = 42

	b := newTestBlock(t, entriesNum, entriesNum/SnapshotFrequency)
	fillFixed(t, b, entriesNum)

	data := append([]byte(nil), b.Bytes()...)
	reopened, err := Open(data)
	if err != nil {
		t.Fatalf("Failed to open block: %v", err)
	}
	if !reopened.IsSealed() {
		t.Errorf("Opened block should be sealed")
	}
	if reopened.Len() != entriesNum {
		t.Errorf("Expected %d entries, got %d", entriesNum, reopened.Len())
	}

	entry, found, err := reopened.Get([]byte{0, 1, 2, 3, 33})
	if err != nil || !found || entry.Value()[0] != 33 {
		t.Errorf("Lookup in opened block failed: found=%v err=%v", found, err)
	}

	t.Run("bad write offset", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4], bad[5], bad[6], bad[7] = 0xff, 0xff, 0, 0
		if _, err := Open(bad); !errors.Is(err, ErrCorruption) {
			t.Errorf("Expected ErrCorruption, got %v", err)
		}
	})

	t.Run("bad snapshot", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		// Slot 0 is the last four bytes of the page
		bad[len(bad)-4], bad[len(bad)-3] = 0xff, 0xff
		if _, err := Open(bad); !errors.Is(err, ErrCorruption) {
			t.Errorf("Expected ErrCorruption, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := Open(data[:4]); !errors.Is(err, ErrCorruption) {
			t.Errorf("Expected ErrCorruption, got %v", err)
		}
	})
}

func TestBlockCorruptEntry(t *testing.T) {
	b := newTestBlock(t, 3, 0)
	fillFixed(t, b, 3)

	// Make the second entry claim a huge key
	region := b.Bytes()[HeaderSize:]
	region[testEntrySize] = 0x7f

	it := b.Iterator()
	count := 0
	for it.Next() {
		count++
	}
	if count != 1 {
		t.Errorf("Expected iteration to stop after 1 entry, got %d", count)
	}
	if !errors.Is(it.Err(), ErrCorruption) {
		t.Errorf("Expected ErrCorruption from iterator, got %v", it.Err())
	}

	if _, err := b.Index(2); !errors.Is(err, ErrCorruption) {
		t.Errorf("Expected ErrCorruption from Index, got %v", err)
	}
}

func BenchmarkBlockInsert(b *testing.B) {
	buf := make([]byte, 64*1024)
	key := make([]byte, 16)
	value := make([]byte, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blk, _ := New(buf)
		for {
			if _, err := blk.Insert(key, value); err != nil {
				break
			}
		}
	}
}

func BenchmarkBlockGet(b *testing.B) {
	blk, _ := New(make([]byte, 256*1024))
	keys := make([][]byte, 0, 4096)
	for i := 0; ; i++ {
		key := []byte(fmt.Sprintf("key-%08d", i))
		if _, err := blk.Insert(key, key); err != nil {
			break
		}
		keys = append(keys, key)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blk.Get(keys[i%len(keys)])
	}
}
