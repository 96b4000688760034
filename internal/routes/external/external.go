package externalRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/models"
	externalService "github.com/nikhil/projectdesk/internal/service/external"
	taskService "github.com/nikhil/projectdesk/internal/service/tasks"
)

// ExternalRoutes mounts guest management for staff, the public invitation
// endpoints and the guest's own project views. Guests with comment access
// may also post on tasks.
func ExternalRoutes(router, staff, guests *mux.Router, external *externalService.ExternalService, tasks *taskService.TaskService) {
	publicRouter := router.PathPrefix("/external").Subrouter()
	publicRouter.Use(middleware.ResponseWrapperMiddleware)
	publicRouter.HandleFunc("/accept", external.AcceptInvitation).Methods(http.MethodPost)
	publicRouter.HandleFunc("/login", external.ExternalLogin).Methods(http.MethodPost)

	guests.HandleFunc("/external/projects", external.ListGuestProjects).Methods(http.MethodGet)
	guests.HandleFunc("/external/projects/{id:[0-9]+}", external.GetGuestProject).Methods(http.MethodGet)
	guests.HandleFunc("/external/tasks/{id:[0-9]+}/comments", tasks.ListComments).Methods(http.MethodGet)
	guests.HandleFunc("/external/tasks/{id:[0-9]+}/comments", tasks.AddCommentHandler).Methods(http.MethodPost)

	managerRouter := staff.PathPrefix("/external-users").Subrouter()
	managerRouter.Use(middleware.RequireRole(models.RoleAdmin, models.RoleManager))
	managerRouter.HandleFunc("", external.ListExternalUsers).Methods(http.MethodGet)
	managerRouter.HandleFunc("/invite", external.InviteExternalUser).Methods(http.MethodPost)
	managerRouter.HandleFunc("/{id:[0-9]+}", external.GetExternalUser).Methods(http.MethodGet)
	managerRouter.HandleFunc("/{id:[0-9]+}/access", external.UpdateExternalAccess).Methods(http.MethodPut)
	managerRouter.HandleFunc("/{id:[0-9]+}/reset-password", external.ResetExternalPassword).Methods(http.MethodPost)
	managerRouter.HandleFunc("/{id:[0-9]+}", external.DeleteExternalUser).Methods(http.MethodDelete)
}
