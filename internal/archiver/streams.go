package archiver

import (
	"github.com/axiomhq/hyperloglog"

	"github.com/szibis/log-archiver/internal/record"
)

// streamEstimate returns the approximate number of distinct tags in b.
// The sketch stays sparse, and therefore exact, for small batches.
func streamEstimate(b *record.Batch) uint64 {
	sketch := hyperloglog.New()
	for _, ev := range b.Events {
		sketch.Insert([]byte(ev.Tag))
	}
	return sketch.Estimate()
}
