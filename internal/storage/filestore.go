// Package storage provides the crash-safe file primitives under the
// persistent stores: staged atomic writes, backup-before-modify copies, and
// advisory per-record locks with bounded acquisition and staleness reclaim.
package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"broadcast-control-plane/backend/internal/apperrors"
)

const recordPerm = 0o600

// WriteFileAtomic writes data to path via a staging file in the same
// directory, flushed and atomically renamed over the live record. A crash at
// any point leaves either the previous record or the new one, never a torn
// one.
func WriteFileAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, recordPerm); err != nil {
		return apperrors.WriteFailed(err)
	}
	return nil
}

// BackupBeforeModify copies the current record at path to path+".bak" so a
// corrupted overwrite can be recovered manually. Missing source is not an
// error (first write of a record).
func BackupBeforeModify(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperrors.WriteFailed(err)
	}
	return WriteFileAtomic(path+".bak", data)
}

// ReadRecord returns the record bytes at path. A missing file reads as
// (nil, nil); other read failures are returned as-is.
func ReadRecord(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// lockRetryDelay is how often a blocked RecordLock re-attempts acquisition.
const lockRetryDelay = 10 * time.Millisecond

// RecordLock is an advisory per-record lock backed by a flock on a sidecar
// ".lock" file. Acquisition waits at most the configured timeout; a lock file
// untouched past the staleness threshold is treated as abandoned by a dead
// writer and reclaimed.
type RecordLock struct {
	fl         *flock.Flock
	timeout    time.Duration
	staleAfter time.Duration
	nowF       func() time.Time
}

// NewRecordLock returns a lock for the record at recordPath. timeout bounds
// Acquire; staleAfter is the abandonment threshold.
func NewRecordLock(recordPath string, timeout, staleAfter time.Duration) *RecordLock {
	return &RecordLock{
		fl:         flock.New(recordPath + ".lock"),
		timeout:    timeout,
		staleAfter: staleAfter,
		nowF:       time.Now,
	}
}

// Acquire takes the lock, waiting up to the bounded timeout. On timeout it
// checks for abandonment: a lock file whose mtime is older than the staleness
// threshold is removed and acquisition retried once. Exceeding the wait
// returns a LockTimeout error; Acquire never deadlocks.
func (l *RecordLock) Acquire(ctx context.Context) error {
	if err := l.tryWithin(ctx); err == nil {
		return nil
	}
	if l.reclaimStale() {
		if err := l.tryWithin(ctx); err == nil {
			return nil
		}
	}
	return apperrors.LockTimeout(l.fl.Path())
}

// Release drops the lock. Safe to call after a failed Acquire.
func (l *RecordLock) Release() error {
	return l.fl.Unlock()
}

func (l *RecordLock) tryWithin(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()
	ok, err := l.fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return apperrors.LockTimeout(l.fl.Path())
	}
	// Touch so a live holder is never mistaken for an abandoned one.
	now := l.nowF()
	_ = os.Chtimes(l.fl.Path(), now, now)
	return nil
}

// reclaimStale removes the lock file if it looks abandoned. Returns true if a
// reclaim happened and acquisition should be retried.
func (l *RecordLock) reclaimStale() bool {
	info, err := os.Stat(l.fl.Path())
	if err != nil {
		return false
	}
	if l.nowF().Sub(info.ModTime()) < l.staleAfter {
		return false
	}
	return os.Remove(l.fl.Path()) == nil
}
