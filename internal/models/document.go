package models

// Document is file metadata attached to a deal. Its owner is the deal's firm.
type Document struct {
	BaseModel

	DealID       string `gorm:"type:uuid;not null;index" json:"dealId"`
	Filename     string `gorm:"not null" json:"filename"`
	FilePath     string `gorm:"not null" json:"filePath"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType"`
	UploadedByID string `gorm:"type:uuid;not null" json:"uploadedById"`
}
