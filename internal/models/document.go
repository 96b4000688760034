package models

type Folder struct {
	FolderID  int64  `json:"folder_id"`
	ProjectID int64  `json:"project_id"`
	ParentID  *int64 `json:"parent_id"`
	Name      string `json:"name"`
	CreatedBy int64  `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Document is file metadata; the bytes live in external object storage.
type Document struct {
	DocumentID int64  `json:"document_id"`
	FolderID   int64  `json:"folder_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	UploadedBy int64  `json:"uploaded_by"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}
