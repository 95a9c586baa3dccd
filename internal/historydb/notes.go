package historydb

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yuki-yano/vde-monitor/internal/db"
)

// ErrNoteNotFound is returned when a note id does not exist.
var ErrNoteNotFound = errors.New("note not found")

// NotesStore is the gorm-backed CRUD surface for per-repository notes.
type NotesStore struct {
	gdb *gorm.DB
	now func() time.Time
}

// NewNotesStore wires a NotesStore over the shared database.
func NewNotesStore(gdb *gorm.DB) (*NotesStore, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &NotesStore{gdb: gdb, now: time.Now}, nil
}

// List returns the repo's notes, newest first.
func (s *NotesStore) List(repoRoot string) ([]db.Note, error) {
	var notes []db.Note
	err := s.gdb.Where("repo_root = ?", repoRoot).Order("created_at DESC").Find(&notes).Error
	return notes, err
}

// Create inserts a note and returns it.
func (s *NotesStore) Create(repoRoot, paneID, title, body string) (db.Note, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return db.Note{}, errors.New("repo root is required")
	}
	now := s.now().UTC().UnixMilli()
	note := db.Note{
		NoteID:    uuid.NewString(),
		RepoRoot:  repoRoot,
		PaneID:    paneID,
		Title:     strings.TrimSpace(title),
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.gdb.Create(&note).Error; err != nil {
		return db.Note{}, err
	}
	return note, nil
}

// Get returns one note by id.
func (s *NotesStore) Get(noteID string) (db.Note, error) {
	var note db.Note
	err := s.gdb.Where("note_id = ?", noteID).First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Note{}, ErrNoteNotFound
	}
	return note, err
}

// Update rewrites a note's title and body.
func (s *NotesStore) Update(noteID, title, body string) (db.Note, error) {
	note, err := s.Get(noteID)
	if err != nil {
		return db.Note{}, err
	}
	note.Title = strings.TrimSpace(title)
	note.Body = body
	note.UpdatedAt = s.now().UTC().UnixMilli()
	if err := s.gdb.Save(&note).Error; err != nil {
		return db.Note{}, err
	}
	return note, nil
}

// Delete removes a note by id.
func (s *NotesStore) Delete(noteID string) error {
	res := s.gdb.Where("note_id = ?", noteID).Delete(&db.Note{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}
