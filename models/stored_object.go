package models

import "time"

// StoredObject indexes a file kept on local disk by the self-hosted backend.
type StoredObject struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Bucket      string    `gorm:"size:64;not null;uniqueIndex:idx_bucket_key" json:"bucket"`
	Key         string    `gorm:"size:512;not null;uniqueIndex:idx_bucket_key" json:"key"`
	FilePath    string    `gorm:"size:1024;not null" json:"file_path"` // absolute or relative filesystem path
	URL         string    `gorm:"size:1024;not null" json:"url"`       // public URL like /storage/images/...
	Size        int64     `json:"size"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
