package ledger

import "errors"

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	ErrSessionNotFound = errors.New("upload session not found")
	ErrSessionExists   = errors.New("upload session already exists")
)

// Session is the durable record of one logical file transfer.
type Session struct {
	ID             string `json:"id"`
	FileName       string `json:"fileName"`
	DestDir        string `json:"destDir"`
	RelPath        string `json:"relPath"`
	TotalSize      int64  `json:"totalSize"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedSize   int64  `json:"uploadedSize"`
	UploadedChunks int    `json:"uploadedChunks"`
	Status         Status `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	FinalPath      string `json:"finalPath,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// Progress is the completed fraction in percent, by chunk count.
func (s *Session) Progress() float64 {
	if s.Status == StatusCompleted {
		return 100
	}
	if s.TotalChunks <= 0 {
		return 0
	}
	return float64(s.UploadedChunks) * 100 / float64(s.TotalChunks)
}

// AllChunksSeen reports whether every index has been recorded at least once.
func (s *Session) AllChunksSeen() bool {
	return s.UploadedChunks >= s.TotalChunks
}
