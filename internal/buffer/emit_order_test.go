package buffer

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/szibis/log-archiver/internal/archiver"
	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/logging"
	"github.com/szibis/log-archiver/internal/record"
	"github.com/szibis/log-archiver/internal/store"
)

// laggingStore answers Exists correctly but only after a delay, widening the
// gap between a key check and the write that follows it.
type laggingStore struct {
	*store.MemoryStore
	lag time.Duration
}

func (s *laggingStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.MemoryStore.Exists(ctx, key)
	time.Sleep(s.lag)
	return ok, err
}

func TestChunksOfOneSliceGetDistinctKeys(t *testing.T) {
	ms := store.NewMemoryStore()
	ser, err := format.NewSerializer(format.Config{Format: format.TypeJSON})
	if err != nil {
		t.Fatalf("NewSerializer: %v", err)
	}
	arch := archiver.New(archiver.Config{}, ser,
		compression.NewPipeline(compression.Config{Type: compression.TypeJSON, TempDir: t.TempDir()}),
		&laggingStore{MemoryStore: ms, lag: 50 * time.Millisecond}, logging.New(nil))

	buf := newTestBuffer(t, Config{MaxSliceRecords: 1}, arch, at(12, 30), WithConcurrency(4))
	if err := buf.Add([]record.Event{event(at(12, 1), 1), event(at(12, 2), 2), event(at(11, 0), 3)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	buf.Flush(context.Background(), true)

	want := []string{"2023010111_0.json", "2023010112_0.json", "2023010112_1.json"}
	if got := ms.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	first, _ := ms.Get("2023010112_0.json")
	second, _ := ms.Get("2023010112_1.json")
	if string(first.Data) != "{\"n\":1}\n" || string(second.Data) != "{\"n\":2}\n" {
		t.Errorf("chunks out of arrival order: %q, %q", first.Data, second.Data)
	}
}

func TestGroupByID(t *testing.T) {
	batch := func(id string) *record.Batch { return &record.Batch{ID: id} }
	tests := []struct {
		name string
		ids  []string
		want [][]string
	}{
		{"empty", nil, nil},
		{"single", []string{"a"}, [][]string{{"a"}}},
		{"runs", []string{"a", "a", "b", "c", "c", "c"}, [][]string{{"a", "a"}, {"b"}, {"c", "c", "c"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var batches []*record.Batch
			for _, id := range tt.ids {
				batches = append(batches, batch(id))
			}
			var got [][]string
			for _, group := range groupByID(batches) {
				got = append(got, batchIDs(group))
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("groupByID = %v, want %v", got, tt.want)
			}
		})
	}
}
