package documentService

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
)

const (
	maxFolderName   = 150
	maxDocumentName = 255
	maxFolderDepth  = 64
)

type ProjectAccess interface {
	CheckAccess(ctx context.Context, claims *auth.Claims, projectID int64) error
}

// DocumentService manages project folders and document metadata. File
// contents live in external object storage and are referenced by URL.
type DocumentService struct {
	DB       *sql.DB
	Projects ProjectAccess
	Events   realtime.Publisher
	Log      *logger.Logger
}

func NewDocumentService(db *sql.DB, projects ProjectAccess, events realtime.Publisher) *DocumentService {
	return &DocumentService{
		DB:       db,
		Projects: projects,
		Events:   events,
		Log:      logger.NewLogger("document-service"),
	}
}

type FolderRequest struct {
	Name     *string `json:"name"`
	ParentID *int64  `json:"parent_id"`
	// MoveToRoot moves the folder to the top level on update.
	MoveToRoot bool `json:"move_to_root"`
}

type DocumentRequest struct {
	Name      *string `json:"name"`
	URL       string  `json:"url"`
	MimeType  string  `json:"mime_type"`
	SizeBytes int64   `json:"size_bytes"`
	FolderID  *int64  `json:"folder_id"`
}

func cleanName(name *string, what string, max int) (string, error) {
	if name == nil || strings.TrimSpace(*name) == "" {
		return "", response.BadRequest("%s name is required", what)
	}
	n := strings.TrimSpace(*name)
	if len(n) > max {
		return "", response.BadRequest("%s name must be at most %d characters", what, max)
	}
	if strings.ContainsAny(n, "/\\") {
		return "", response.BadRequest("%s name must not contain slashes", what)
	}
	return n, nil
}

const folderColumns = `folder_id, project_id, parent_id, name, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFolder(row scanner) (models.Folder, error) {
	var (
		f      models.Folder
		parent sql.NullInt64
	)
	err := row.Scan(&f.FolderID, &f.ProjectID, &parent, &f.Name, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	f.ParentID = database.Int64Ptr(parent)
	return f, err
}

func (ds *DocumentService) loadFolder(ctx context.Context, id int64) (models.Folder, error) {
	f, err := scanFolder(ds.DB.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM document_folders WHERE folder_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return f, response.NotFound("Folder")
	}
	return f, err
}

// folder loads a folder the caller can access.
func (ds *DocumentService) folder(ctx context.Context, claims *auth.Claims, id int64) (models.Folder, error) {
	f, err := ds.loadFolder(ctx, id)
	if err != nil {
		return f, err
	}
	if err := ds.Projects.CheckAccess(ctx, claims, f.ProjectID); err != nil {
		return models.Folder{}, response.NotFound("Folder")
	}
	return f, nil
}

func (ds *DocumentService) Folders(ctx context.Context, claims *auth.Claims, projectID int64) ([]models.Folder, error) {
	if err := ds.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return nil, err
	}
	rows, err := ds.DB.QueryContext(ctx,
		`SELECT `+folderColumns+` FROM document_folders WHERE project_id = ? ORDER BY parent_id IS NOT NULL, parent_id, name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	folders := []models.Folder{}
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// checkSiblingName rejects a name already used by another folder with the
// same parent.
func (ds *DocumentService) checkSiblingName(ctx context.Context, projectID int64, parentID *int64, name string, self int64) error {
	var n int
	err := ds.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM document_folders
		WHERE project_id = ? AND parent_id <=> ? AND name = ? AND folder_id <> ?`,
		projectID, database.NullInt64(parentID), name, self).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return response.Conflict("A folder with this name already exists here")
	}
	return nil
}

// checkParent verifies parentID is a folder of the same project that is not
// folderID or one of its descendants.
func (ds *DocumentService) checkParent(ctx context.Context, projectID int64, parentID *int64, folderID int64) error {
	if parentID == nil {
		return nil
	}
	parent, err := ds.loadFolder(ctx, *parentID)
	if err != nil {
		return response.BadRequest("Parent folder does not exist")
	}
	if parent.ProjectID != projectID {
		return response.BadRequest("Parent folder belongs to another project")
	}
	if folderID == 0 {
		return nil
	}
	current := &parent
	for depth := 0; ; depth++ {
		if current.FolderID == folderID {
			return response.BadRequest("A folder cannot be moved into itself or one of its subfolders")
		}
		if current.ParentID == nil {
			return nil
		}
		if depth >= maxFolderDepth {
			return response.BadRequest("Folder tree is too deep")
		}
		next, err := ds.loadFolder(ctx, *current.ParentID)
		if err != nil {
			return err
		}
		current = &next
	}
}

func (ds *DocumentService) CreateFolder(ctx context.Context, claims *auth.Claims, projectID int64, req FolderRequest) (models.Folder, error) {
	name, err := cleanName(req.Name, "Folder", maxFolderName)
	if err != nil {
		return models.Folder{}, err
	}
	if err := ds.Projects.CheckAccess(ctx, claims, projectID); err != nil {
		return models.Folder{}, err
	}
	if err := ds.checkParent(ctx, projectID, req.ParentID, 0); err != nil {
		return models.Folder{}, err
	}
	if err := ds.checkSiblingName(ctx, projectID, req.ParentID, name, 0); err != nil {
		return models.Folder{}, err
	}

	now := time.Now().UTC().Unix()
	f := models.Folder{ProjectID: projectID, ParentID: req.ParentID, Name: name, CreatedBy: claims.UserID, CreatedAt: now, UpdatedAt: now}
	result, err := ds.DB.ExecContext(ctx, `
		INSERT INTO document_folders (project_id, parent_id, name, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, database.NullInt64(req.ParentID), name, claims.UserID, now, now)
	if err != nil {
		return f, err
	}
	if f.FolderID, err = result.LastInsertId(); err != nil {
		return f, err
	}
	ds.publish(models.EventInsert, "document_folders", projectID, f)
	return f, nil
}

// UpdateFolder renames and/or moves a folder within its project.
func (ds *DocumentService) UpdateFolder(ctx context.Context, claims *auth.Claims, id int64, req FolderRequest) (models.Folder, error) {
	f, err := ds.folder(ctx, claims, id)
	if err != nil {
		return f, err
	}
	if req.Name != nil {
		if f.Name, err = cleanName(req.Name, "Folder", maxFolderName); err != nil {
			return f, err
		}
	}
	switch {
	case req.ParentID != nil:
		if err := ds.checkParent(ctx, f.ProjectID, req.ParentID, f.FolderID); err != nil {
			return f, err
		}
		f.ParentID = req.ParentID
	case req.MoveToRoot:
		f.ParentID = nil
	}
	if err := ds.checkSiblingName(ctx, f.ProjectID, f.ParentID, f.Name, f.FolderID); err != nil {
		return f, err
	}

	f.UpdatedAt = time.Now().UTC().Unix()
	if _, err := ds.DB.ExecContext(ctx,
		`UPDATE document_folders SET name = ?, parent_id = ?, updated_at = ? WHERE folder_id = ?`,
		f.Name, database.NullInt64(f.ParentID), f.UpdatedAt, id); err != nil {
		return f, err
	}
	ds.publish(models.EventUpdate, "document_folders", f.ProjectID, f)
	return f, nil
}

// DeleteFolder removes a folder. Folders with content are only removed
// when recursive is set; subfolders and documents go with them.
func (ds *DocumentService) DeleteFolder(ctx context.Context, claims *auth.Claims, id int64, recursive bool) error {
	f, err := ds.folder(ctx, claims, id)
	if err != nil {
		return err
	}
	if !recursive {
		var children int
		if err := ds.DB.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM document_folders WHERE parent_id = ?) +
				(SELECT COUNT(*) FROM documents WHERE folder_id = ?)`, id, id).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return response.Conflict("Folder is not empty")
		}
	}
	if err := ds.deleteTree(ctx, id); err != nil {
		return err
	}
	ds.publish(models.EventDelete, "document_folders", f.ProjectID, map[string]int64{"folder_id": id, "project_id": f.ProjectID})
	return nil
}

// deleteTree removes a folder and its subfolders level by level, deepest
// first, so no delete cascades through more than one folder.
func (ds *DocumentService) deleteTree(ctx context.Context, id int64) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	levels := [][]int64{{id}}
	for depth := 0; depth <= maxFolderDepth; depth++ {
		marks, args := database.In(levels[len(levels)-1])
		rows, err := tx.QueryContext(ctx,
			`SELECT folder_id FROM document_folders WHERE parent_id IN (`+marks+`)`, args...)
		if err != nil {
			return err
		}
		var next []int64
		for rows.Next() {
			var child int64
			if err := rows.Scan(&child); err != nil {
				rows.Close()
				return err
			}
			next = append(next, child)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(next) == 0 {
			break
		}
		levels = append(levels, next)
	}

	for i := len(levels) - 1; i >= 0; i-- {
		marks, args := database.In(levels[i])
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE folder_id IN (`+marks+`)`, args...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_folders WHERE folder_id IN (`+marks+`)`, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const documentColumns = `document_id, folder_id, name, url, mime_type, size_bytes, uploaded_by, created_at, updated_at`

func scanDocument(row scanner) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.DocumentID, &d.FolderID, &d.Name, &d.URL, &d.MimeType, &d.SizeBytes, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (ds *DocumentService) Documents(ctx context.Context, claims *auth.Claims, folderID int64) ([]models.Document, error) {
	if _, err := ds.folder(ctx, claims, folderID); err != nil {
		return nil, err
	}
	rows, err := ds.DB.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE folder_id = ? ORDER BY name`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func validURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return response.BadRequest("Document url must be an http(s) URL")
	}
	return nil
}

func (ds *DocumentService) CreateDocument(ctx context.Context, claims *auth.Claims, folderID int64, req DocumentRequest) (models.Document, error) {
	name, err := cleanName(req.Name, "Document", maxDocumentName)
	if err != nil {
		return models.Document{}, err
	}
	if err := validURL(req.URL); err != nil {
		return models.Document{}, err
	}
	if req.SizeBytes < 0 {
		return models.Document{}, response.BadRequest("size_bytes must not be negative")
	}
	f, err := ds.folder(ctx, claims, folderID)
	if err != nil {
		return models.Document{}, err
	}

	now := time.Now().UTC().Unix()
	d := models.Document{
		FolderID:   folderID,
		Name:       name,
		URL:        strings.TrimSpace(req.URL),
		MimeType:   strings.TrimSpace(req.MimeType),
		SizeBytes:  req.SizeBytes,
		UploadedBy: claims.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	result, err := ds.DB.ExecContext(ctx, `
		INSERT INTO documents (folder_id, name, url, mime_type, size_bytes, uploaded_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FolderID, d.Name, d.URL, d.MimeType, d.SizeBytes, d.UploadedBy, now, now)
	if err != nil {
		return d, err
	}
	if d.DocumentID, err = result.LastInsertId(); err != nil {
		return d, err
	}
	ds.publish(models.EventInsert, "documents", f.ProjectID, d)
	return d, nil
}

func (ds *DocumentService) document(ctx context.Context, claims *auth.Claims, id int64) (models.Document, models.Folder, error) {
	d, err := scanDocument(ds.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE document_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, models.Folder{}, response.NotFound("Document")
	}
	if err != nil {
		return d, models.Folder{}, err
	}
	f, err := ds.folder(ctx, claims, d.FolderID)
	if err != nil {
		return d, f, response.NotFound("Document")
	}
	return d, f, nil
}

// UpdateDocument renames a document or moves it to another folder of the
// same project.
func (ds *DocumentService) UpdateDocument(ctx context.Context, claims *auth.Claims, id int64, req DocumentRequest) (models.Document, error) {
	d, f, err := ds.document(ctx, claims, id)
	if err != nil {
		return d, err
	}
	if req.Name != nil {
		if d.Name, err = cleanName(req.Name, "Document", maxDocumentName); err != nil {
			return d, err
		}
	}
	if req.FolderID != nil && *req.FolderID != d.FolderID {
		target, err := ds.loadFolder(ctx, *req.FolderID)
		if err != nil {
			return d, err
		}
		if target.ProjectID != f.ProjectID {
			return d, response.BadRequest("Documents can only move within their project")
		}
		d.FolderID = target.FolderID
	}
	d.UpdatedAt = time.Now().UTC().Unix()
	if _, err := ds.DB.ExecContext(ctx,
		`UPDATE documents SET name = ?, folder_id = ?, updated_at = ? WHERE document_id = ?`,
		d.Name, d.FolderID, d.UpdatedAt, id); err != nil {
		return d, err
	}
	ds.publish(models.EventUpdate, "documents", f.ProjectID, d)
	return d, nil
}

func (ds *DocumentService) DeleteDocument(ctx context.Context, claims *auth.Claims, id int64) error {
	_, f, err := ds.document(ctx, claims, id)
	if err != nil {
		return err
	}
	if _, err := ds.DB.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, id); err != nil {
		return err
	}
	ds.publish(models.EventDelete, "documents", f.ProjectID, map[string]int64{"document_id": id, "folder_id": f.FolderID})
	return nil
}

func (ds *DocumentService) publish(typ models.EventType, table string, projectID int64, record interface{}) {
	if ds.Events == nil {
		return
	}
	ds.Events.Publish(realtime.ProjectTopic(projectID), models.NewEvent(typ, table, record))
}

// HTTP handlers

func (ds *DocumentService) ListFolders(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	folders, err := ds.Folders(r.Context(), claims, projectID)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to list folders", err)
		return
	}
	response.OK(w, folders)
}

func (ds *DocumentService) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req FolderRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	f, err := ds.CreateFolder(r.Context(), claims, projectID, req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to create folder", err)
		return
	}
	response.Created(w, f)
}

func (ds *DocumentService) UpdateFolderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req FolderRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	f, err := ds.UpdateFolder(r.Context(), claims, id, req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to update folder", err)
		return
	}
	response.OK(w, f)
}

func (ds *DocumentService) DeleteFolderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	recursive := r.URL.Query().Get("recursive") == "true"
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ds.DeleteFolder(r.Context(), claims, id, recursive); err != nil {
		response.Failure(w, r, ds.Log, "Failed to delete folder", err)
		return
	}
	ds.Log.WithContext(r.Context()).Info("Folder deleted", "folder_id", id, "recursive", recursive)
	response.OK(w, map[string]int64{"folder_id": id})
}

func (ds *DocumentService) ListDocuments(w http.ResponseWriter, r *http.Request) {
	folderID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	docs, err := ds.Documents(r.Context(), claims, folderID)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to list documents", err)
		return
	}
	response.OK(w, docs)
}

func (ds *DocumentService) CreateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	folderID, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req DocumentRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	d, err := ds.CreateDocument(r.Context(), claims, folderID, req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to create document", err)
		return
	}
	response.Created(w, d)
}

func (ds *DocumentService) UpdateDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	var req DocumentRequest
	if err := response.Decode(r, &req); err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	d, err := ds.UpdateDocument(r.Context(), claims, id, req)
	if err != nil {
		response.Failure(w, r, ds.Log, "Failed to update document", err)
		return
	}
	response.OK(w, d)
}

func (ds *DocumentService) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := response.PathInt64(r, "id")
	if err != nil {
		response.Fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFrom(r.Context())
	if err := ds.DeleteDocument(r.Context(), claims, id); err != nil {
		response.Failure(w, r, ds.Log, "Failed to delete document", err)
		return
	}
	response.OK(w, map[string]int64{"document_id": id})
}
