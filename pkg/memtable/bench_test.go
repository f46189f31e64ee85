package memtable

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"testing"
)

func benchKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%08d", i))
	}
	return keys
}

func BenchmarkSkipListInsert(b *testing.B) {
	src := NewLockedSource(1)
	for _, order := range []string{"ascending", "shuffled"} {
		b.Run(order, func(b *testing.B) {
			keys := benchKeys(b.N)
			if order == "shuffled" {
				rand.New(rand.NewSource(1)).Shuffle(len(keys), func(i, j int) {
					keys[i], keys[j] = keys[j], keys[i]
				})
			}
			sl := NewSkipList()

			b.ResetTimer()
			for _, key := range keys {
				if err := sl.Insert(key, key, src); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// Each goroutine draws heights from its own source so that the CAS splice,
// not the source lock, is what contends
func BenchmarkSkipListInsertParallel(b *testing.B) {
	sl := NewSkipList()
	var seq atomic.Int64

	b.RunParallel(func(pb *testing.PB) {
		src := NewLockedSource(seq.Add(1))
		for pb.Next() {
			key := []byte("key-" + strconv.FormatInt(seq.Add(1), 10))
			sl.Insert(key, key, src)
		}
	})
}

func BenchmarkSkipListFinger(b *testing.B) {
	const n = 100000
	keys := benchKeys(n)
	sl := NewSkipList()
	for _, key := range keys {
		sl.Insert(key, key, nil)
	}
	r := rand.New(rand.NewSource(42))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f := sl.Finger(keys[r.Intn(n)])
		if !f.Found() {
			b.Fatal("key not found")
		}
	}
}

func BenchmarkSkipListScan(b *testing.B) {
	sl := NewSkipList()
	for _, key := range benchKeys(10000) {
		sl.Insert(key, key, nil)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := sl.NewIterator()
		for it.SeekToFirst(); it.Valid(); it.Next() {
		}
	}
}

func BenchmarkMemTablePut(b *testing.B) {
	mt := NewMemTable(WithHeightSource(NewLockedSource(1)))
	keys := benchKeys(b.N)

	b.ResetTimer()
	for _, key := range keys {
		mt.Put(key, key)
	}
}
