// Package spill implements the SpillManager (§4.6): moving payloads between
// memory and disk, and the on-disk payload envelope. It does not read the
// destroy_on_evict flag; the pool decides whether an eviction victim is
// spilled or destroyed. The envelope LZ4-frames whatever bytes the external serializer
// produced before they hit disk, and transparently decompresses them on
// restore.
package spill

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/tinypool-io/tinypool/internal/datastore"
	"github.com/tinypool-io/tinypool/internal/poolerr"
)

// Getter fetches the current payload for a locally-owned id, restoring from
// disk or fetching from memory as needed (move_to_disk "fetching it via get
// if needed", §4.6). The SpillManager does not know how to do this itself —
// it is supplied by the Pool, which owns the DerefEngine.
type Getter func(id uint64) ([]byte, error)

// Manager is the per-worker SpillManager. Its default path layout is
// .mempool/<session>-<ownerID>/<localID> (§4.6, §6).
type Manager struct {
	store   *datastore.Store
	ownerID int
	session string
	baseDir string
	get     Getter
}

// New creates a Manager rooted at baseDir (default "."), generating a fresh
// session id for this process via google/uuid the way §6 requires a
// "process-stable identifier established at startup".
func New(store *datastore.Store, ownerID int, baseDir string, get Getter) *Manager {
	if baseDir == "" {
		baseDir = "."
	}
	return &Manager{
		store:   store,
		ownerID: ownerID,
		session: uuid.NewString(),
		baseDir: baseDir,
		get:     get,
	}
}

// SessionDir is this worker's spill directory.
func (m *Manager) SessionDir() string {
	return filepath.Join(m.baseDir, ".mempool", fmt.Sprintf("%s-%d", m.session, m.ownerID))
}

// DefaultPath is the default on-disk path for a local id (§4.6 default_path).
func (m *Manager) DefaultPath(id uint64) string {
	return filepath.Join(m.SessionDir(), fmt.Sprintf("%d", id))
}

// MoveToDisk serializes id's current payload to path (DefaultPath(id) if
// path is empty), unless path already exists on disk, in which case the
// existing file is trusted and no rewrite occurs. Clears the in-memory copy
// unless keepInMemory.
func (m *Manager) MoveToDisk(id uint64, path string, keepInMemory bool) (string, error) {
	if path == "" {
		path = m.DefaultPath(id)
	}
	if _, err := os.Stat(path); err == nil {
		m.store.MarkSpilled(id, path, keepInMemory)
		return path, nil
	}
	payload, err := m.get(id)
	if err != nil {
		return "", err
	}
	if err := m.writeEnvelope(path, payload); err != nil {
		return "", err
	}
	m.store.MarkSpilled(id, path, keepInMemory)
	return path, nil
}

// CopyToDisk is MoveToDisk with keepInMemory=true (§4.6).
func (m *Manager) CopyToDisk(id uint64, path string) (string, error) {
	return m.MoveToDisk(id, path, true)
}

// SaveToDisk writes a serialized copy of id's payload to path without
// touching RefState at all — not File, not size accounting.
// This is intentional (§9: "document this as intentional"): SaveToDisk is
// for user-visible persistence, not pool bookkeeping.
func (m *Manager) SaveToDisk(id uint64, path string) error {
	payload, err := m.get(id)
	if err != nil {
		return err
	}
	return m.writeEnvelope(path, payload)
}

// DeleteFromDisk removes path. Missing file is not an error for the
// destroy() path but IS surfaced here, since this is the explicit,
// user-invoked delete_from_disk operation (§6) rather than best-effort
// cleanup.
func (m *Manager) DeleteFromDisk(path string) error {
	if err := os.Remove(path); err != nil {
		return poolerr.IO(err)
	}
	return nil
}

// RestoreFromDisk reads and decompresses the envelope at path, returning the
// serialized payload bytes (still encoded — the caller's external
// serializer decodes them). Does not mutate RefState; callers install the
// result via datastore.Store.RestoreMemory themselves (§4.4 lazy restore is
// "transparent to the caller", and the lock is only ever held for the map
// write, never for this I/O, per §5).
func (m *Manager) RestoreFromDisk(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, poolerr.IO(err)
	}
	defer f.Close()
	r := lz4.NewReader(f)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, poolerr.IO(err)
	}
	return data, nil
}

// Destroy is called when a RefState's owner population reaches zero
// (§4.6 destroy(id)): remove any on-disk copy (best effort — a missing file
// is not an error here, unlike DeleteFromDisk), clear the in-memory copy,
// and remove the id from the DataStore. Idempotent.
func (m *Manager) Destroy(id uint64) {
	st, ok := m.store.Lookup(id)
	if !ok {
		return
	}
	if st.HasFile() {
		_ = os.Remove(st.File) // best effort; missing file is not an error
	}
	m.store.EvictMemory(id)
	m.store.Remove(id)
}

// Cleanup destroys every id this worker owns and removes the session
// directory (§4.6 cleanup()).
func (m *Manager) Cleanup() {
	for _, id := range m.store.Keys() {
		m.Destroy(id)
	}
	_ = os.RemoveAll(m.SessionDir())
}

func (m *Manager) writeEnvelope(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return poolerr.IO(err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return poolerr.IO(err)
	}
	w := lz4.NewWriter(f)
	if _, err := w.Write(payload); err != nil {
		w.Close()
		f.Close()
		os.Remove(tmp)
		return poolerr.IO(err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return poolerr.IO(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return poolerr.IO(err)
	}
	// state.file is set by the caller only after this succeeds (§7: "partial
	// file is not reused; the next call retries"); the rename makes the
	// write atomic so a crash mid-write never leaves a path stat-able as
	// present-but-truncated.
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return poolerr.IO(err)
	}
	return nil
}
