package session

import (
	"context"
	"slices"
	"strings"
	"sync"

	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned by Repo.Load when no record has been saved under the name.
var ErrRecordNotFound = clienterrors.ErrRecordNotFound

// Repo is durable storage for session records, keyed by record name.
type Repo interface {
	// Load returns the record saved under name, or ErrRecordNotFound.
	Load(ctx context.Context, name string) (*Record, error)

	// Save overwrites the record saved under name.
	Save(ctx context.Context, name string, record *Record) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, name string) error
}

// MemoryRepo is an in-process Repo. Records do not survive a restart.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Repo = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: make(map[string]Record),
	}
}

func (r *MemoryRepo) Load(_ context.Context, name string) (*Record, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("record name is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[name]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(&record), nil
}

func (r *MemoryRepo) Save(_ context.Context, name string, record *Record) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("record name is required")
	}
	if record == nil {
		return errors.New("record cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[name] = *copyRecord(record)
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, name)
	return nil
}

// Len reports how many records are held.
func (r *MemoryRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func copyRecord(r *Record) *Record {
	c := *r
	if r.User != nil {
		u := *r.User
		c.User = &u
	}
	c.Cookies = slices.Clone(r.Cookies)
	return &c
}
