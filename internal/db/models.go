package db

// Note is a per-repository note attached from a session view.
type Note struct {
	NoteID    string `gorm:"column:note_id;primaryKey" json:"noteId"`
	RepoRoot  string `gorm:"column:repo_root;not null;default:''" json:"repoRoot"`
	PaneID    string `gorm:"column:pane_id;not null;default:''" json:"paneId,omitempty"`
	Title     string `gorm:"column:title;not null;default:''" json:"title"`
	Body      string `gorm:"column:body;not null;default:''" json:"body"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0" json:"createdAt"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0" json:"updatedAt"`
}

func (Note) TableName() string { return "notes" }

// CustomTitle is a client-set title overriding a pane's derived title.
type CustomTitle struct {
	PaneID    string `gorm:"column:pane_id;primaryKey"`
	Title     string `gorm:"column:title;not null;default:''"`
	UpdatedAt int64  `gorm:"column:updated_at;not null;default:0"`
}

func (CustomTitle) TableName() string { return "custom_titles" }

// LaunchAudit records each launch-agent execution; replayed idempotent
// retries are not re-recorded.
type LaunchAudit struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RequestID   string `gorm:"column:request_id;not null;default:''"`
	SessionName string `gorm:"column:session_name;not null;default:''"`
	Agent       string `gorm:"column:agent;not null;default:''"`
	PaneID      string `gorm:"column:pane_id;not null;default:''"`
	OK          bool   `gorm:"column:ok;not null;default:false"`
	ErrorCode   string `gorm:"column:error_code;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (LaunchAudit) TableName() string { return "launch_audit" }

// DirHistory backs launch-directory suggestions; rows are maintained by the
// historydb store with raw SQL upserts.
type DirHistory struct {
	Path            string `gorm:"column:path;primaryKey"`
	FirstAccessedAt int64  `gorm:"column:first_accessed_at;not null;default:0"`
	LastAccessedAt  int64  `gorm:"column:last_accessed_at;not null;default:0"`
	AccessCount     int    `gorm:"column:access_count;not null;default:0"`
}

func (DirHistory) TableName() string { return "dir_history" }
