package userRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	userService "github.com/nikhil/projectdesk/internal/service/users"
)

func UserProfileRoutes(staff *mux.Router, users *userService.UserService) {
	protectedRouter := staff.PathPrefix("/user").Subrouter()

	protectedRouter.HandleFunc("/profile", users.GetUserProfile).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/profile", users.UpdateUserProfile).Methods(http.MethodPut)
	protectedRouter.HandleFunc("/preferences/{view_key}", users.GetPreference).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/preferences/{view_key}", users.PutPreference).Methods(http.MethodPut)
}
