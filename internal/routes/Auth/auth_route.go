package authRoute

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/handlers"
	"github.com/nikhil/projectdesk/internal/middleware"
)

// RegisterAuthRoutes mounts the public staff sign-in endpoints and the
// authenticated password change.
func RegisterAuthRoutes(router *mux.Router, staff *mux.Router, authHandler *handlers.AuthHandler) {
	// Public routes without auth middleware
	publicRouter := router.PathPrefix("/auth").Subrouter()
	publicRouter.Use(middleware.ResponseWrapperMiddleware)
	publicRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	publicRouter.HandleFunc("/password-reset", authHandler.RequestPasswordReset).Methods(http.MethodPost)

	staff.HandleFunc("/auth/password", authHandler.ChangePassword).Methods(http.MethodPost)
}
