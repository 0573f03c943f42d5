// Package ledger keeps the set of validator pubkeys whose deposits are confirmed on chain.
//
// The file is shared between runs. Writers never overwrite it blindly: each persist
// re-reads the current file, unions it with the in-memory set and replaces it through
// a temp file and rename, so concurrent runs over disjoint records all keep their results.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/juju/fslock"
	"go.uber.org/zap"

	"github.com/ligun0805/deposit-runner/internal/deposit"
)

const defaultLockTimeout = 10 * time.Second

type Ledger struct {
	path        string
	lockTimeout time.Duration
	logger      *zap.Logger

	mu  sync.RWMutex
	ids map[string]struct{}
}

type Option func(*Ledger)

// WithLockTimeout bounds how long MergeAndPersist waits for another run's write.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

func New(path string, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		path:        path,
		lockTimeout: defaultLockTimeout,
		logger:      logger.With(zap.String("module", "ledger")),
		ids:         make(map[string]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) Path() string { return l.path }

// Load replaces the in-memory set with the persisted one. A missing or unreadable
// file yields an empty set; it is never an error.
func (l *Ledger) Load() map[string]struct{} {
	set, err := readSet(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		l.logger.Info("no ledger yet, starting empty", zap.String("path", l.path))
		set = make(map[string]struct{})
	case err != nil:
		l.logger.Warn("ledger unreadable, starting empty", zap.String("path", l.path), zap.Error(err))
		set = make(map[string]struct{})
	default:
		l.logger.Info("ledger loaded", zap.String("path", l.path), zap.Int("entries", len(set)))
	}

	l.mu.Lock()
	l.ids = set
	l.mu.Unlock()
	return copySet(set)
}

func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[deposit.NormalizeID(id)]
	return ok
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// IDs returns the in-memory set in sorted order.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedIDs(l.ids)
}

// MergeAndPersist adds ids to the set and durably writes the union of the in-memory
// set and whatever is on disk now. It returns the number of entries persisted.
// The ids stay in memory even when the write fails.
func (l *Ledger) MergeAndPersist(ids ...string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if n := deposit.NormalizeID(id); n != "" {
			l.ids[n] = struct{}{}
		}
	}

	lock := fslock.New(l.path + ".lock")
	if err := lock.LockWithTimeout(l.lockTimeout); err != nil {
		return 0, fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			l.logger.Warn("failed to release ledger lock", zap.Error(err))
		}
	}()

	onDisk, err := readSet(l.path)
	switch {
	case err == nil:
		l.ids = Merge(l.ids, onDisk)
	case errors.Is(err, os.ErrNotExist):
	default:
		// keep the unreadable file around rather than silently replacing it
		aside := fmt.Sprintf("%s.corrupt-%d", l.path, time.Now().Unix())
		if rerr := os.Rename(l.path, aside); rerr != nil {
			return 0, fmt.Errorf("ledger %s unreadable (%v) and could not be moved aside: %w", l.path, err, rerr)
		}
		l.logger.Warn("moved unreadable ledger aside", zap.String("path", aside), zap.Error(err))
	}

	if err := writeAtomic(l.path, sortedIDs(l.ids)); err != nil {
		return 0, err
	}
	return len(l.ids), nil
}

// Merge returns the union of the given sets. Inputs are not modified.
func Merge(sets ...map[string]struct{}) map[string]struct{} {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make(map[string]struct{}, n)
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

func readSet(path string) (map[string]struct{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	set := make(map[string]struct{}, len(list))
	for _, id := range list {
		if n := deposit.NormalizeID(id); n != "" {
			set[n] = struct{}{}
		}
	}
	return set, nil
}

func writeAtomic(path string, ids []string) error {
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace ledger: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func copySet(set map[string]struct{}) map[string]struct{} {
	return Merge(set)
}
