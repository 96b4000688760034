package adminRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	"github.com/nikhil/projectdesk/internal/response"
	"github.com/nikhil/projectdesk/internal/scheduler"
	departmentService "github.com/nikhil/projectdesk/internal/service/departments"
	userService "github.com/nikhil/projectdesk/internal/service/users"
)

// AdminRoutes mounts user administration and the department directory.
// Everything under /admin and every department mutation requires an admin.
func AdminRoutes(staff *mux.Router, users *userService.UserService, departments *departmentService.DepartmentService, jobs *scheduler.Scheduler) {
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	adminRouter := staff.PathPrefix("/admin").Subrouter()
	adminRouter.Use(adminOnly)
	adminRouter.HandleFunc("/users", users.ListUsers).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users", users.CreateUser).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/bulk-delete", users.BulkDeleteUsers).Methods(http.MethodPost)
	adminRouter.HandleFunc("/users/{id:[0-9]+}", users.GetUser).Methods(http.MethodGet)
	adminRouter.HandleFunc("/users/{id:[0-9]+}", users.UpdateUser).Methods(http.MethodPut)
	adminRouter.HandleFunc("/users/{id:[0-9]+}", users.DeleteUser).Methods(http.MethodDelete)
	adminRouter.HandleFunc("/users/{id:[0-9]+}/temporary-password", users.SendTemporaryPasswordHandler).Methods(http.MethodPost)
	adminRouter.HandleFunc("/password-reset-requests", users.ListResetRequestsHandler).Methods(http.MethodGet)
	adminRouter.HandleFunc("/password-reset-requests/{id:[0-9]+}/dismiss", users.DismissResetRequestHandler).Methods(http.MethodPost)
	if jobs != nil {
		adminRouter.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, jobs.Status())
		}).Methods(http.MethodGet)
	}

	staff.HandleFunc("/departments", departments.ListDepartments).Methods(http.MethodGet)
	staff.HandleFunc("/departments/{id:[0-9]+}", departments.GetDepartment).Methods(http.MethodGet)
	staff.HandleFunc("/departments/{id:[0-9]+}/members", departments.ListMembers).Methods(http.MethodGet)
	staff.Handle("/departments", adminOnly(http.HandlerFunc(departments.CreateDepartment))).Methods(http.MethodPost)
	staff.Handle("/departments/{id:[0-9]+}", adminOnly(http.HandlerFunc(departments.UpdateDepartment))).Methods(http.MethodPut)
	staff.Handle("/departments/{id:[0-9]+}", adminOnly(http.HandlerFunc(departments.DeleteDepartment))).Methods(http.MethodDelete)
}
