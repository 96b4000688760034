package documentService

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	"github.com/nikhil/projectdesk/internal/testutil"
)

type memberOf map[int64]bool

func (m memberOf) CheckAccess(_ context.Context, _ *auth.Claims, projectID int64) error {
	if m[projectID] {
		return nil
	}
	return response.NotFound("Project")
}

var folderCols = []string{"folder_id", "project_id", "parent_id", "name", "created_by", "created_at", "updated_at"}

func newService(t *testing.T) (*DocumentService, sqlmock.Sqlmock, *testutil.Events) {
	db, mock := testutil.NewMockDB(t)
	events := &testutil.Events{}
	return &DocumentService{DB: db, Projects: memberOf{4: true}, Events: events, Log: logger.Nop()}, mock, events
}

func expectFolder(mock sqlmock.Sqlmock, id, project int64, parent interface{}) {
	mock.ExpectQuery(`FROM document_folders WHERE folder_id = \?`).WithArgs(id).
		WillReturnRows(sqlmock.NewRows(folderCols).AddRow(id, project, parent, "f", 1, 1, 1))
}

func str(s string) *string { return &s }
func id(v int64) *int64    { return &v }

func TestCreateFolder(t *testing.T) {
	ds, mock, events := newService(t)
	expectFolder(mock, 2, 4, nil)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM document_folders`).WithArgs(int64(4), int64(2), "Specs", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO document_folders`).WithArgs(int64(4), int64(2), "Specs", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(8, 1))

	req := testutil.Request(t, http.MethodPost, "/projects/4/folders",
		map[string]interface{}{"name": "Specs", "parent_id": 2}, testutil.Member(3), map[string]string{"id": "4"})
	code, env := testutil.Serve(t, ds.CreateFolderHandler, req)

	require.Equal(t, http.StatusCreated, code, env.Error)
	var f models.Folder
	env.Into(t, &f)
	assert.Equal(t, int64(8), f.FolderID)
	assert.Equal(t, []string{"project:4"}, events.Topics)
}

func TestCreateFolderSiblingConflict(t *testing.T) {
	ds, mock, _ := newService(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM document_folders`).WithArgs(int64(4), nil, "Specs", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	_, err := ds.CreateFolder(context.Background(), testutil.Member(3), 4, FolderRequest{Name: str("Specs")})
	assert.EqualError(t, err, "A folder with this name already exists here")
}

func TestCreateFolderParentInOtherProject(t *testing.T) {
	ds, mock, _ := newService(t)
	expectFolder(mock, 2, 7, nil)

	_, err := ds.CreateFolder(context.Background(), testutil.Member(3), 4, FolderRequest{Name: str("Specs"), ParentID: id(2)})
	assert.EqualError(t, err, "Parent folder belongs to another project")
}

func TestMoveFolderIntoDescendant(t *testing.T) {
	ds, mock, _ := newService(t)
	// 1 <- 2 <- 3: moving 1 under 3 must fail.
	expectFolder(mock, 1, 4, nil)
	expectFolder(mock, 3, 4, 2)
	expectFolder(mock, 2, 4, 1)
	expectFolder(mock, 1, 4, nil)

	req := testutil.Request(t, http.MethodPut, "/folders/1", map[string]int64{"parent_id": 3},
		testutil.Member(3), map[string]string{"id": "1"})
	code, env := testutil.Serve(t, ds.UpdateFolderHandler, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "A folder cannot be moved into itself or one of its subfolders", env.Error)
}

func TestMoveFolderIntoItself(t *testing.T) {
	ds, mock, _ := newService(t)
	expectFolder(mock, 1, 4, nil)
	expectFolder(mock, 1, 4, nil)

	_, err := ds.UpdateFolder(context.Background(), testutil.Member(3), 1, FolderRequest{ParentID: id(1)})
	assert.EqualError(t, err, "A folder cannot be moved into itself or one of its subfolders")
}

func TestDeleteNonEmptyFolder(t *testing.T) {
	ds, mock, events := newService(t)
	expectFolder(mock, 1, 4, nil)
	mock.ExpectQuery(`SELECT \(SELECT COUNT\(\*\) FROM document_folders`).WithArgs(int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))

	req := testutil.Request(t, http.MethodDelete, "/folders/1", nil, testutil.Member(3), map[string]string{"id": "1"})
	code, _ := testutil.Serve(t, ds.DeleteFolderHandler, req)
	assert.Equal(t, http.StatusConflict, code)

	expectFolder(mock, 1, 4, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT folder_id FROM document_folders WHERE parent_id IN \(\?\)`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"folder_id"}).AddRow(6).AddRow(7))
	mock.ExpectQuery(`SELECT folder_id FROM document_folders WHERE parent_id IN \(\?, \?\)`).WithArgs(int64(6), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"folder_id"}))
	mock.ExpectExec(`DELETE FROM documents WHERE folder_id IN \(\?, \?\)`).WithArgs(int64(6), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM document_folders WHERE folder_id IN \(\?, \?\)`).WithArgs(int64(6), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM documents WHERE folder_id IN \(\?\)`).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM document_folders WHERE folder_id IN \(\?\)`).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req = testutil.Request(t, http.MethodDelete, "/folders/1?recursive=true", nil, testutil.Member(3), map[string]string{"id": "1"})
	code, _ = testutil.Serve(t, ds.DeleteFolderHandler, req)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, events.All(), 1)
}

func TestDeleteDeepFolderTreeBottomUp(t *testing.T) {
	ds, mock, _ := newService(t)
	const depth = 20

	expectFolder(mock, 1, 4, nil)
	mock.ExpectBegin()
	for level := int64(1); level <= depth; level++ {
		rows := sqlmock.NewRows([]string{"folder_id"})
		if level < depth {
			rows.AddRow(level + 1)
		}
		mock.ExpectQuery(`SELECT folder_id FROM document_folders WHERE parent_id IN`).WithArgs(level).WillReturnRows(rows)
	}
	for level := int64(depth); level >= 1; level-- {
		mock.ExpectExec(`DELETE FROM documents WHERE folder_id IN`).WithArgs(level).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM document_folders WHERE folder_id IN`).WithArgs(level).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, ds.DeleteFolder(context.Background(), testutil.Member(3), 1, true))
}

func TestDeleteFolderTreeRollsBack(t *testing.T) {
	ds, mock, events := newService(t)
	expectFolder(mock, 1, 4, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT folder_id FROM document_folders WHERE parent_id IN`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"folder_id"}))
	mock.ExpectExec(`DELETE FROM documents WHERE folder_id IN`).WithArgs(int64(1)).
		WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	err := ds.DeleteFolder(context.Background(), testutil.Member(3), 1, true)
	assert.EqualError(t, err, "lock wait timeout")
	assert.Empty(t, events.All())
}

func TestCreateDocumentValidatesURL(t *testing.T) {
	ds, _, _ := newService(t)
	_, err := ds.CreateDocument(context.Background(), testutil.Member(3), 1,
		DocumentRequest{Name: str("roadmap.pdf"), URL: "javascript:alert(1)"})
	assert.EqualError(t, err, "Document url must be an http(s) URL")

	_, err = ds.CreateDocument(context.Background(), testutil.Member(3), 1,
		DocumentRequest{Name: str("a/b.pdf"), URL: "https://files.example.com/b.pdf"})
	assert.EqualError(t, err, "Document name must not contain slashes")
}

func TestCreateDocument(t *testing.T) {
	ds, mock, events := newService(t)
	expectFolder(mock, 1, 4, nil)
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(int64(1), "roadmap.pdf", "https://files.example.com/roadmap.pdf", "application/pdf", int64(2048), int64(3),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(30, 1))

	d, err := ds.CreateDocument(context.Background(), testutil.Member(3), 1, DocumentRequest{
		Name: str("roadmap.pdf"), URL: "https://files.example.com/roadmap.pdf", MimeType: "application/pdf", SizeBytes: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), d.DocumentID)
	assert.Equal(t, "documents", events.All()[0].Table)
}

func TestFolderInForeignProjectIsHidden(t *testing.T) {
	ds, mock, _ := newService(t)
	expectFolder(mock, 9, 7, nil)

	req := testutil.Request(t, http.MethodGet, "/folders/9/documents", nil, testutil.Member(3), map[string]string{"id": "9"})
	code, env := testutil.Serve(t, ds.ListDocuments, req)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Folder not found", env.Error)
}

func TestMoveDocumentAcrossProjects(t *testing.T) {
	ds, mock, _ := newService(t)
	mock.ExpectQuery(`FROM documents WHERE document_id = \?`).WithArgs(int64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "folder_id", "name", "url", "mime_type", "size_bytes",
			"uploaded_by", "created_at", "updated_at"}).AddRow(30, 1, "roadmap.pdf", "https://x/y", "", 0, 3, 1, 1))
	expectFolder(mock, 1, 4, nil)
	expectFolder(mock, 5, 7, nil)

	_, err := ds.UpdateDocument(context.Background(), testutil.Member(3), 30, DocumentRequest{FolderID: id(5)})
	assert.EqualError(t, err, "Documents can only move within their project")
}
