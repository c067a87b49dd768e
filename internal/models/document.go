package models

// Document is one indexed document as listed by the indexing service
type Document struct {
	DocumentID string `json:"document_id"`
	FileName   string `json:"file_name"`
}

// UploadResult is the indexing service's response to a successful upload
type UploadResult struct {
	FileName       string `json:"file_name"`
	ContentPreview string `json:"content_preview"`
	Length         int    `json:"length"`
}
