package energygrid

import (
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"
)

// MirrorStore is the optional durable mirror behind the in-memory cache: a
// string-keyed put/get/delete of JSON-serializable blobs with an embedded
// timestamp. It is strictly best-effort: every failure is logged and
// swallowed by the caller, never failing the in-memory write or the request.
type MirrorStore interface {
	Get(key string) (*MirrorEntry, bool)
	Put(key string, entry *MirrorEntry) error
	Delete(key string) error
}

// MirrorEntry is the serialized form of a cached result.
type MirrorEntry struct {
	Data      json.RawMessage `json:"data"`
	Page      *PageInfo       `json:"pagination,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FileMirror stores one JSON file per cache key under a directory.
type FileMirror struct {
	dir string
}

// NewFileMirror creates the directory if needed and returns the mirror.
// Directory creation failure is tolerated here; subsequent writes surface
// the error and are swallowed per the best-effort contract.
func NewFileMirror(dir string) *FileMirror {
	_ = os.MkdirAll(dir, 0o755)
	return &FileMirror{dir: dir}
}

func (m *FileMirror) path(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return filepath.Join(m.dir, hex.EncodeToString(h.Sum(nil))+".json")
}

// Get reads the entry for key. Any read or decode failure is a miss.
func (m *FileMirror) Get(key string) (*MirrorEntry, bool) {
	raw, err := os.ReadFile(m.path(key))
	if err != nil {
		return nil, false
	}
	var entry MirrorEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt mirror file; drop it so the next write starts clean.
		_ = os.Remove(m.path(key))
		return nil, false
	}
	return &entry, true
}

// Put writes the entry for key atomically (temp file + rename).
func (m *FileMirror) Put(key string, entry *MirrorEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.dir, "mirror-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), m.path(key))
}

// Delete removes the entry for key. Missing files are not an error.
func (m *FileMirror) Delete(key string) error {
	err := os.Remove(m.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// mirrorPut serializes data and writes it to the mirror, logging and
// swallowing every failure.
func (c *Client) mirrorPut(key string, data any, page *PageInfo, ts time.Time) {
	if c.mirror == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("mirror serialize failed", "cacheKey", key, "error", err.Error())
		}
		return
	}
	if err := c.mirror.Put(key, &MirrorEntry{Data: raw, Page: page, Timestamp: ts}); err != nil {
		if c.logger != nil {
			c.logger.Warn("mirror write failed", "cacheKey", key, "error", err.Error())
		}
	}
}

// mirrorDelete removes a mirrored entry, logging and swallowing failures.
func (c *Client) mirrorDelete(key string) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Delete(key); err != nil && c.logger != nil {
		c.logger.Warn("mirror delete failed", "cacheKey", key, "error", err.Error())
	}
}
