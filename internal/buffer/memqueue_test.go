package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/szibis/log-archiver/internal/record"
)

func createTestBatch(id string, n int) *record.Batch {
	b := &record.Batch{ID: id}
	for i := 0; i < n; i++ {
		b.Events = append(b.Events, event(at(12, 0), i))
	}
	return b
}

func TestMemoryQueue_PushPop(t *testing.T) {
	q := NewMemoryQueue(10, 1024*1024)

	if err := q.Push(createTestBatch("a", 3)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("expected Len=1, got %d", q.Len())
	}
	if q.Size() <= 0 {
		t.Errorf("expected positive Size, got %d", q.Size())
	}

	got := q.Pop()
	if got == nil || got.ID != "a" || got.Len() != 3 {
		t.Fatalf("Pop = %+v", got)
	}
	if q.Len() != 0 || q.Size() != 0 {
		t.Errorf("expected empty queue, got Len=%d Size=%d", q.Len(), q.Size())
	}
}

func TestMemoryQueue_PopEmpty(t *testing.T) {
	q := NewMemoryQueue(10, 1024*1024)
	if q.Pop() != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestMemoryQueue_EvictionByCount(t *testing.T) {
	q := NewMemoryQueue(3, 100*1024*1024)

	for i := 0; i < 5; i++ {
		if err := q.Push(createTestBatch(fmt.Sprint(i), 1)); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected Len=3, got %d", q.Len())
	}
	if got := q.Pop(); got.ID != "2" {
		t.Errorf("oldest remaining = %s, want 2", got.ID)
	}
}

func TestMemoryQueue_EvictionByBytes(t *testing.T) {
	one := createTestBatch("x", 1).EstimateSize()
	q := NewMemoryQueue(100, 2*one)

	for i := 0; i < 4; i++ {
		if err := q.Push(createTestBatch(fmt.Sprint(i), 1)); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}
	if q.Len() != 2 {
		t.Errorf("expected Len=2, got %d", q.Len())
	}
	if q.Size() > 2*one {
		t.Errorf("Size %d exceeds limit %d", q.Size(), 2*one)
	}
}

func TestMemoryQueue_RejectsOversizedBatch(t *testing.T) {
	q := NewMemoryQueue(10, 10)
	if err := q.Push(createTestBatch("big", 10)); err == nil {
		t.Error("expected error for batch larger than maxBytes")
	}
}

func TestMemoryQueue_Concurrent(t *testing.T) {
	q := NewMemoryQueue(1000, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = q.Push(createTestBatch(fmt.Sprint(i, j), 1))
				q.Pop()
			}
		}(i)
	}
	wg.Wait()
	for q.Pop() != nil {
	}
	if q.Len() != 0 || q.Size() != 0 {
		t.Errorf("expected empty queue, got Len=%d Size=%d", q.Len(), q.Size())
	}
}
