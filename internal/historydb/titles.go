package historydb

import (
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yuki-yano/vde-monitor/internal/db"
)

// TitleStore persists client-set pane titles and serves them to the pane
// processor through a write-through in-memory map, so per-tick reads never
// touch the database.
type TitleStore struct {
	gdb *gorm.DB
	now func() time.Time

	mu     sync.RWMutex
	titles map[string]string
}

// NewTitleStore loads existing titles from the shared database.
func NewTitleStore(gdb *gorm.DB) (*TitleStore, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	var rows []db.CustomTitle
	if err := gdb.Find(&rows).Error; err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(rows))
	for _, row := range rows {
		titles[row.PaneID] = row.Title
	}
	return &TitleStore{gdb: gdb, now: time.Now, titles: titles}, nil
}

// CustomTitle reports the client-set title for paneID, if any. This is the
// paneprocessor.TitleProvider implementation.
func (s *TitleStore) CustomTitle(paneID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.titles[paneID]
	return t, ok
}

// Set stores a title; an empty title clears it.
func (s *TitleStore) Set(paneID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return s.Clear(paneID)
	}

	row := db.CustomTitle{PaneID: paneID, Title: title, UpdatedAt: s.now().UTC().UnixMilli()}
	if err := s.gdb.Save(&row).Error; err != nil {
		return err
	}
	s.mu.Lock()
	s.titles[paneID] = title
	s.mu.Unlock()
	return nil
}

// Clear removes the custom title for paneID.
func (s *TitleStore) Clear(paneID string) error {
	if err := s.gdb.Where("pane_id = ?", paneID).Delete(&db.CustomTitle{}).Error; err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.titles, paneID)
	s.mu.Unlock()
	return nil
}
