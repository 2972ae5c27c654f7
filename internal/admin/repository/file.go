package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"broadcast-control-plane/backend/internal/admin/domain"
	"broadcast-control-plane/backend/internal/apperrors"
	"broadcast-control-plane/backend/internal/storage"
)

const (
	adminsDir          = "admins"
	indexFile          = "index.json"
	recordSuffix       = ".json"
	defaultLockTimeout = 2 * time.Second
	defaultStaleAfter  = 30 * time.Second
)

// usernameIndex is the persisted username→adminID mapping. It is rebuilt
// wholesale from a full record scan whenever found inconsistent, never
// incrementally patched back into shape.
type usernameIndex struct {
	SchemaVersion int               `json:"schema_version"`
	Usernames     map[string]string `json:"usernames"`
}

// FileRepository stores one JSON record per identity under <root>/admins and
// the username index at <root>/index.json. All writes go through staged
// atomic replacement with a backup of the previous version; concurrent
// writers to the same record are serialized by an advisory file lock with a
// bounded wait.
type FileRepository struct {
	root        string
	lockTimeout time.Duration
	staleAfter  time.Duration
	nowF        func() time.Time
}

// FileOption configures a FileRepository.
type FileOption func(*FileRepository)

// WithLockTimeout bounds per-record lock acquisition.
func WithLockTimeout(d time.Duration) FileOption {
	return func(r *FileRepository) { r.lockTimeout = d }
}

// WithStaleAfter sets the threshold past which a held lock is treated as
// abandoned and reclaimed.
func WithStaleAfter(d time.Duration) FileOption {
	return func(r *FileRepository) { r.staleAfter = d }
}

// NewFileRepository opens (creating if needed) the store rooted at root and
// verifies the username index against the records, rebuilding it by full
// scan if inconsistent. The root directory is the unit of backup.
func NewFileRepository(root string, opts ...FileOption) (*FileRepository, error) {
	r := &FileRepository{
		root:        root,
		lockTimeout: defaultLockTimeout,
		staleAfter:  defaultStaleAfter,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(filepath.Join(root, adminsDir), 0o700); err != nil {
		return nil, apperrors.WriteFailed(err)
	}
	if err := r.verifyOrRebuildIndex(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepository) recordPath(adminID string) string {
	return filepath.Join(r.root, adminsDir, adminID+recordSuffix)
}

func (r *FileRepository) indexPath() string {
	return filepath.Join(r.root, indexFile)
}

// Create registers a new identity for username. The reserved system username
// maps to the fixed system admin ID; every other identity gets a fresh
// opaque ID that never changes afterwards.
func (r *FileRepository) Create(ctx context.Context, username string) (*domain.Identity, error) {
	adminID := uuid.New().String()
	if username == domain.SystemUsername {
		adminID = domain.SystemAdminID
	}
	now := r.nowF()
	ident := &domain.Identity{
		AdminID:       adminID,
		Username:      username,
		CreatedAt:     now,
		LastSeenAt:    now,
		SchemaVersion: domain.CurrentSchemaVersion,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}

	lock := r.newLock(r.indexPath())
	if err := r.acquire(ctx, lock); err != nil {
		return nil, err
	}
	defer lock.Release()

	idx, err := r.loadIndex()
	if err != nil {
		return nil, err
	}
	if _, taken := idx.Usernames[username]; taken {
		return nil, apperrors.UsernameTaken(username)
	}
	if err := r.writeRecord(ident); err != nil {
		return nil, err
	}
	idx.Usernames[username] = adminID
	if err := r.writeIndex(idx); err != nil {
		return nil, err
	}
	return ident.Clone(), nil
}

// Get returns the identity for adminID, or nil if absent. A record that
// cannot be decoded is treated as absent rather than failing the caller.
func (r *FileRepository) Get(ctx context.Context, adminID string) (*domain.Identity, error) {
	return r.readRecord(adminID)
}

// GetByUsername resolves username through the index. An index entry pointing
// at a missing or mismatched record marks the index inconsistent; it is then
// rebuilt from a full scan and the lookup retried once.
func (r *FileRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	for attempt := 0; attempt < 2; attempt++ {
		idx, err := r.loadIndex()
		if err != nil {
			return nil, err
		}
		adminID, ok := idx.Usernames[username]
		if !ok {
			return nil, nil
		}
		ident, err := r.readRecord(adminID)
		if err != nil {
			return nil, err
		}
		if ident != nil && ident.Username == username {
			return ident, nil
		}
		if err := r.rebuildIndex(ctx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Update applies mutate to a private copy of the record under the per-record
// lock and persists the result atomically. A lock timeout is retried once,
// immediately, before surfacing. Username and AdminID are immutable.
func (r *FileRepository) Update(ctx context.Context, adminID string, mutate func(*domain.Identity) error) (*domain.Identity, error) {
	lock := r.newLock(r.recordPath(adminID))
	if err := r.acquire(ctx, lock); err != nil {
		return nil, err
	}
	defer lock.Release()

	ident, err := r.readRecord(adminID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, apperrors.IdentityNotFound(adminID)
	}
	updated := ident.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	if updated.AdminID != ident.AdminID || updated.Username != ident.Username {
		return nil, errors.New("admin_id and username are immutable")
	}
	updated.SchemaVersion = domain.CurrentSchemaVersion
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := r.writeRecord(updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// Delete removes the record and its index entry. Returns false if no record
// existed. Owned sessions are not cascade-deleted; the lifecycle sweep
// orphans them. Lock order: record, then index; no other path nests the two,
// so the nesting cannot deadlock.
func (r *FileRepository) Delete(ctx context.Context, adminID string) (bool, error) {
	recordLock := r.newLock(r.recordPath(adminID))
	if err := r.acquire(ctx, recordLock); err != nil {
		return false, err
	}
	defer recordLock.Release()

	ident, err := r.readRecord(adminID)
	if err != nil {
		return false, err
	}
	if ident == nil {
		return false, nil
	}

	lock := r.newLock(r.indexPath())
	if err := r.acquire(ctx, lock); err != nil {
		return false, err
	}
	defer lock.Release()

	if err := os.Remove(r.recordPath(adminID)); err != nil && !os.IsNotExist(err) {
		return false, apperrors.WriteFailed(err)
	}
	idx, err := r.loadIndex()
	if err != nil {
		return true, err
	}
	delete(idx.Usernames, ident.Username)
	if err := r.writeIndex(idx); err != nil {
		return true, err
	}
	return true, nil
}

// ListAll returns every decodable record. Corrupt records are skipped.
func (r *FileRepository) ListAll(ctx context.Context) ([]*domain.Identity, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, adminsDir))
	if err != nil {
		return nil, err
	}
	var out []*domain.Identity
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordSuffix) || strings.HasSuffix(name, ".bak") {
			continue
		}
		ident, err := r.readRecord(strings.TrimSuffix(name, recordSuffix))
		if err != nil {
			return nil, err
		}
		if ident != nil {
			out = append(out, ident)
		}
	}
	return out, nil
}

// acquire takes lock with the single immediate retry the store contract
// grants on LockTimeout.
func (r *FileRepository) acquire(ctx context.Context, lock *storage.RecordLock) error {
	err := lock.Acquire(ctx)
	if err == nil {
		return nil
	}
	if apperrors.Is(err, apperrors.KindLockTimeout) {
		return lock.Acquire(ctx)
	}
	return err
}

func (r *FileRepository) newLock(path string) *storage.RecordLock {
	return storage.NewRecordLock(path, r.lockTimeout, r.staleAfter)
}

func (r *FileRepository) readRecord(adminID string) (*domain.Identity, error) {
	data, err := storage.ReadRecord(r.recordPath(adminID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var ident domain.Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		log.Printf("admin store: corrupt record %s treated as absent: %v", adminID, err)
		return nil, nil
	}
	if ident.SchemaVersion > domain.CurrentSchemaVersion {
		log.Printf("admin store: record %s has schema %d (newer than %d), treated as absent",
			adminID, ident.SchemaVersion, domain.CurrentSchemaVersion)
		return nil, nil
	}
	return &ident, nil
}

func (r *FileRepository) writeRecord(ident *domain.Identity) error {
	path := r.recordPath(ident.AdminID)
	if err := storage.BackupBeforeModify(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return apperrors.WriteFailed(err)
	}
	return storage.WriteFileAtomic(path, data)
}

func (r *FileRepository) loadIndex() (*usernameIndex, error) {
	data, err := storage.ReadRecord(r.indexPath())
	if err != nil {
		return nil, err
	}
	idx := &usernameIndex{SchemaVersion: domain.CurrentSchemaVersion, Usernames: map[string]string{}}
	if data == nil {
		return idx, nil
	}
	if err := json.Unmarshal(data, idx); err != nil {
		log.Printf("admin store: corrupt index, rebuilding from records: %v", err)
		return idx, nil
	}
	if idx.Usernames == nil {
		idx.Usernames = map[string]string{}
	}
	return idx, nil
}

func (r *FileRepository) writeIndex(idx *usernameIndex) error {
	idx.SchemaVersion = domain.CurrentSchemaVersion
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return apperrors.WriteFailed(err)
	}
	return storage.WriteFileAtomic(r.indexPath(), data)
}

// rebuildIndex reconstructs the username index from a full record scan and
// replaces it wholesale.
func (r *FileRepository) rebuildIndex(ctx context.Context) error {
	lock := r.newLock(r.indexPath())
	if err := r.acquire(ctx, lock); err != nil {
		return err
	}
	defer lock.Release()

	idents, err := r.ListAll(ctx)
	if err != nil {
		return err
	}
	idx := &usernameIndex{SchemaVersion: domain.CurrentSchemaVersion, Usernames: map[string]string{}}
	for _, ident := range idents {
		idx.Usernames[ident.Username] = ident.AdminID
	}
	return r.writeIndex(idx)
}

// verifyOrRebuildIndex checks index/record agreement at startup and rebuilds
// on any mismatch.
func (r *FileRepository) verifyOrRebuildIndex(ctx context.Context) error {
	idx, err := r.loadIndex()
	if err != nil {
		return err
	}
	idents, err := r.ListAll(ctx)
	if err != nil {
		return err
	}
	consistent := len(idx.Usernames) == len(idents)
	if consistent {
		for _, ident := range idents {
			if idx.Usernames[ident.Username] != ident.AdminID {
				consistent = false
				break
			}
		}
	}
	if consistent {
		return nil
	}
	return r.rebuildIndex(ctx)
}
