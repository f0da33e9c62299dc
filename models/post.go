package models

import "time"

// Post represents a blog entry. Image and PDF references are public object URLs
// whose path carries the storage key after the bucket name.
type Post struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Slug      string    `gorm:"size:255;uniqueIndex;not null" json:"slug"`
	Excerpt   string    `gorm:"type:text" json:"excerpt"`
	Content   string    `gorm:"type:text" json:"content"`
	Author    string    `gorm:"size:128" json:"author"`
	Published bool      `gorm:"index;default:false" json:"published"`
	Images    []string  `gorm:"serializer:json;type:text" json:"images"`
	PDFURL    *string   `gorm:"size:1024" json:"pdf_url"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// TableName keeps the table name shared with the hosted backend.
func (Post) TableName() string {
	return "blogs"
}

// HasPDF reports whether a non-empty PDF reference is attached.
func (p Post) HasPDF() bool {
	return p.PDFURL != nil && *p.PDFURL != ""
}
