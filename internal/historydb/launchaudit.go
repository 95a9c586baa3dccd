package historydb

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yuki-yano/vde-monitor/internal/db"
)

// LaunchAuditStore records launch-agent executions.
type LaunchAuditStore struct {
	gdb *gorm.DB
	now func() time.Time
}

// NewLaunchAuditStore wires the store over the shared database.
func NewLaunchAuditStore(gdb *gorm.DB) (*LaunchAuditStore, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &LaunchAuditStore{gdb: gdb, now: time.Now}, nil
}

// Record appends one execution row.
func (s *LaunchAuditStore) Record(requestID, sessionName, agent, paneID string, ok bool, errorCode string) error {
	return s.gdb.Create(&db.LaunchAudit{
		RequestID:   requestID,
		SessionName: sessionName,
		Agent:       agent,
		PaneID:      paneID,
		OK:          ok,
		ErrorCode:   errorCode,
		CreatedAt:   s.now().UTC().UnixMilli(),
	}).Error
}

// Recent returns the latest rows, newest first.
func (s *LaunchAuditStore) Recent(limit int) ([]db.LaunchAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []db.LaunchAudit
	err := s.gdb.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
