package models

import "time"

// StoredFile describes an upload persisted by the file store.
type StoredFile struct {
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is an upload resolved to text for prompt assembly.
type Document struct {
	FileID   string
	Filename string
	Content  string
}
