package archiver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"github.com/szibis/log-archiver/internal/keytemplate"
	"github.com/szibis/log-archiver/internal/store"
)

// DefaultHexRandomLength is the number of hex digits in %{hex_random}.
const DefaultHexRandomLength = 4

// AllocRequest describes the key wanted for one batch.
type AllocRequest struct {
	TimeSlice  string
	Extension  string
	StartIndex int
}

// AllocatorConfig holds the batch-independent key variables.
type AllocatorConfig struct {
	Path            string
	Hostname        string
	HexRandomLength int
}

// Allocator finds a free object key by probing the store and incrementing
// %{index} until the resolved key does not exist.
type Allocator struct {
	tmpl     *keytemplate.Template
	store    store.Store
	path     string
	hostname string
	hexLen   int

	newUUID func() string
	newHex  func(n int) string
}

// NewAllocator creates an Allocator for tmpl backed by st.
func NewAllocator(tmpl *keytemplate.Template, st store.Store, cfg AllocatorConfig) *Allocator {
	if cfg.HexRandomLength <= 0 {
		cfg.HexRandomLength = DefaultHexRandomLength
	}
	return &Allocator{
		tmpl:     tmpl,
		store:    st,
		path:     cfg.Path,
		hostname: cfg.Hostname,
		hexLen:   cfg.HexRandomLength,
		newUUID:  func() string { return uuid.NewString() },
		newHex:   randomHex,
	}
}

// Allocate returns the first key, starting at req.StartIndex, for which the
// store reports no object. Each attempt draws fresh random tokens. There is
// no upper bound on attempts.
func (a *Allocator) Allocate(ctx context.Context, req AllocRequest) (string, int, error) {
	for index := req.StartIndex; ; index++ {
		if err := ctx.Err(); err != nil {
			return "", index, err
		}
		key, err := a.tmpl.Resolve(a.vars(req, index))
		if err != nil {
			return "", index, err
		}
		exists, err := a.store.Exists(ctx, key)
		keyProbesTotal.Inc()
		if err != nil {
			return "", index, err
		}
		if !exists {
			return key, index, nil
		}
		keyCollisionsTotal.Inc()
	}
}

func (a *Allocator) vars(req AllocRequest, index int) keytemplate.Vars {
	vars := keytemplate.Vars{
		keytemplate.VarPath:          a.path,
		keytemplate.VarTimeSlice:     req.TimeSlice,
		keytemplate.VarIndex:         strconv.Itoa(index),
		keytemplate.VarFileExtension: req.Extension,
	}
	if a.hostname != "" {
		vars[keytemplate.VarHostname] = a.hostname
	}
	if a.tmpl.Uses(keytemplate.VarUUIDFlush) {
		vars[keytemplate.VarUUIDFlush] = a.newUUID()
	}
	if a.tmpl.Uses(keytemplate.VarHexRandom) {
		vars[keytemplate.VarHexRandom] = a.newHex(a.hexLen)
	}
	return vars
}

func randomHex(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to a UUID's bytes.
		u := uuid.New()
		copy(b, u[:])
	}
	return hex.EncodeToString(b)[:n]
}
