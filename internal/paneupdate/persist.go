package paneupdate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

// SnapshotFile is the persisted post-tick state: the registry contents plus
// the timeline, written after every cycle and reloaded on process start.
type SnapshotFile struct {
	Version  int                             `json:"version"`
	SavedAt  time.Time                       `json:"savedAt"`
	Sessions map[string]model.SessionDetail  `json:"sessions"`
	Timeline map[string][]model.TimelineItem `json:"timeline"`
}

// SnapshotStore persists SnapshotFile with write-temp-then-rename.
type SnapshotStore struct {
	path string
	now  func() time.Time
}

// NewSnapshotStore builds a store at path.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path, now: time.Now}
}

// Save writes the snapshot atomically.
func (s *SnapshotStore) Save(sessions map[string]model.SessionDetail, items map[string][]model.TimelineItem) error {
	doc := SnapshotFile{Version: 1, SavedAt: s.now(), Sessions: sessions, Timeline: items}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the snapshot; a missing file yields an empty snapshot.
func (s *SnapshotStore) Load() (SnapshotFile, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SnapshotFile{Version: 1}, nil
		}
		return SnapshotFile{}, err
	}
	var doc SnapshotFile
	if err := json.Unmarshal(b, &doc); err != nil {
		return SnapshotFile{}, err
	}
	return doc, nil
}
