package projectRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	documentService "github.com/nikhil/projectdesk/internal/service/documents"
	projectService "github.com/nikhil/projectdesk/internal/service/projects"
	reportService "github.com/nikhil/projectdesk/internal/service/reports"
	taskService "github.com/nikhil/projectdesk/internal/service/tasks"
)

type Services struct {
	Projects  *projectService.ProjectService
	Tasks     *taskService.TaskService
	Documents *documentService.DocumentService
	Reports   *reportService.ReportService
}

// ProjectRoutes mounts projects and everything that hangs off a project:
// members, tasks, folders, documents and status reports.
func ProjectRoutes(staff *mux.Router, s Services) {
	managers := middleware.RequireRole(models.RoleAdmin, models.RoleManager)

	// Projects
	staff.HandleFunc("/projects", s.Projects.ListProjects).Methods(http.MethodGet)
	staff.Handle("/projects", managers(http.HandlerFunc(s.Projects.CreateProject))).Methods(http.MethodPost)
	staff.HandleFunc("/projects/{id:[0-9]+}", s.Projects.GetProject).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}", s.Projects.UpdateProject).Methods(http.MethodPut)
	staff.HandleFunc("/projects/{id:[0-9]+}", s.Projects.DeleteProject).Methods(http.MethodDelete)
	staff.HandleFunc("/projects/{id:[0-9]+}/members", s.Projects.ListMembers).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/members", s.Projects.AddProjectMember).Methods(http.MethodPost)
	staff.HandleFunc("/projects/{id:[0-9]+}/members/{user_id:[0-9]+}", s.Projects.RemoveProjectMember).Methods(http.MethodDelete)

	// Tasks
	staff.HandleFunc("/projects/{id:[0-9]+}/tasks", s.Tasks.ListTasks).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/tasks", s.Tasks.CreateTask).Methods(http.MethodPost)
	staff.HandleFunc("/projects/{id:[0-9]+}/tasks/bulk-delete", s.Tasks.BulkDeleteTasks).Methods(http.MethodPost)
	staff.HandleFunc("/tasks/{id:[0-9]+}", s.Tasks.GetTask).Methods(http.MethodGet)
	staff.HandleFunc("/tasks/{id:[0-9]+}", s.Tasks.UpdateTask).Methods(http.MethodPut)
	staff.HandleFunc("/tasks/{id:[0-9]+}", s.Tasks.DeleteTask).Methods(http.MethodDelete)
	staff.HandleFunc("/tasks/{id:[0-9]+}/comments", s.Tasks.ListComments).Methods(http.MethodGet)
	staff.HandleFunc("/tasks/{id:[0-9]+}/comments", s.Tasks.AddCommentHandler).Methods(http.MethodPost)

	// Documents
	staff.HandleFunc("/projects/{id:[0-9]+}/folders", s.Documents.ListFolders).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/folders", s.Documents.CreateFolderHandler).Methods(http.MethodPost)
	staff.HandleFunc("/folders/{id:[0-9]+}", s.Documents.UpdateFolderHandler).Methods(http.MethodPut)
	staff.HandleFunc("/folders/{id:[0-9]+}", s.Documents.DeleteFolderHandler).Methods(http.MethodDelete)
	staff.HandleFunc("/folders/{id:[0-9]+}/documents", s.Documents.ListDocuments).Methods(http.MethodGet)
	staff.HandleFunc("/folders/{id:[0-9]+}/documents", s.Documents.CreateDocumentHandler).Methods(http.MethodPost)
	staff.HandleFunc("/documents/{id:[0-9]+}", s.Documents.UpdateDocumentHandler).Methods(http.MethodPut)
	staff.HandleFunc("/documents/{id:[0-9]+}", s.Documents.DeleteDocumentHandler).Methods(http.MethodDelete)

	// Reports
	staff.HandleFunc("/projects/{id:[0-9]+}/report-settings", s.Reports.GetReportSettings).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/report-settings", s.Reports.PutReportSettings).Methods(http.MethodPut)
	staff.HandleFunc("/projects/{id:[0-9]+}/report-recipients", s.Reports.ListRecipients).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/report-recipients", s.Reports.AddRecipientHandler).Methods(http.MethodPost)
	staff.HandleFunc("/projects/{id:[0-9]+}/report-recipients/{recipient_id:[0-9]+}", s.Reports.RemoveRecipientHandler).Methods(http.MethodDelete)
	staff.HandleFunc("/projects/{id:[0-9]+}/report", s.Reports.PreviewReport).Methods(http.MethodGet)
	staff.HandleFunc("/projects/{id:[0-9]+}/report/send", s.Reports.SendReport).Methods(http.MethodPost)
}
