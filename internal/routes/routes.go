package routes

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nikhil/projectdesk/internal/auth"
	"github.com/nikhil/projectdesk/internal/handlers"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/middleware"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/response"
	authRoute "github.com/nikhil/projectdesk/internal/routes/Auth"
	adminRoutes "github.com/nikhil/projectdesk/internal/routes/admin"
	chatRoutes "github.com/nikhil/projectdesk/internal/routes/chat"
	externalRoutes "github.com/nikhil/projectdesk/internal/routes/external"
	projectRoutes "github.com/nikhil/projectdesk/internal/routes/projects"
	userRoutes "github.com/nikhil/projectdesk/internal/routes/user"
	"github.com/nikhil/projectdesk/internal/scheduler"
	chatService "github.com/nikhil/projectdesk/internal/service/chat"
	departmentService "github.com/nikhil/projectdesk/internal/service/departments"
	documentService "github.com/nikhil/projectdesk/internal/service/documents"
	externalService "github.com/nikhil/projectdesk/internal/service/external"
	presenceService "github.com/nikhil/projectdesk/internal/service/presence"
	projectService "github.com/nikhil/projectdesk/internal/service/projects"
	reportService "github.com/nikhil/projectdesk/internal/service/reports"
	taskService "github.com/nikhil/projectdesk/internal/service/tasks"
	userService "github.com/nikhil/projectdesk/internal/service/users"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	DB          *sql.DB
	Secret      string
	CORSOrigins []string
	Hub         *realtime.Hub
	Scheduler   *scheduler.Scheduler
	Accounts    middleware.AccountResolver

	Auth        *handlers.AuthHandler
	Users       *userService.UserService
	Departments *departmentService.DepartmentService
	Projects    *projectService.ProjectService
	Tasks       *taskService.TaskService
	Chat        *chatService.ChatService
	Presence    *presenceService.PresenceService
	Documents   *documentService.DocumentService
	External    *externalService.ExternalService
	Reports     *reportService.ReportService
}

// RegisterAllRoutes builds the router and wraps it with the shared
// middleware chain.
func RegisterAllRoutes(d *Deps) http.Handler {
	log := logger.NewLogger("http")
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.WithError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.WithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	router.HandleFunc("/healthz", health(d.DB)).Methods(http.MethodGet)

	authn := middleware.Authenticate(d.Secret, d.Accounts)

	staff := router.NewRoute().Subrouter()
	staff.Use(authn, middleware.RequireKind(auth.KindUser), middleware.ResponseWrapperMiddleware)

	guests := router.NewRoute().Subrouter()
	guests.Use(authn, middleware.RequireKind(auth.KindExternal), middleware.ResponseWrapperMiddleware)

	authRoute.RegisterAuthRoutes(router, staff, d.Auth)
	externalRoutes.ExternalRoutes(router, staff, guests, d.External, d.Tasks)
	userRoutes.UserProfileRoutes(staff, d.Users)
	adminRoutes.AdminRoutes(staff, d.Users, d.Departments, d.Scheduler)
	projectRoutes.ProjectRoutes(staff, projectRoutes.Services{
		Projects:  d.Projects,
		Tasks:     d.Tasks,
		Documents: d.Documents,
		Reports:   d.Reports,
	})
	chatRoutes.ChatRoutes(staff, d.Chat, d.Presence)
	RegisterWebSocketRoutes(router, d.Hub, d.CORSOrigins, authn)

	var h http.Handler = router
	h = middleware.AccessLog(log)(h)
	h = middleware.RequestID(h)
	h = middleware.CORS(d.CORSOrigins)(h)
	h = middleware.Recover(log)(h)
	return h
}

// RegisterWebSocketRoutes registers the realtime endpoint. Staff and guests
// both connect here; topic access is decided per subscription.
func RegisterWebSocketRoutes(router *mux.Router, hub *realtime.Hub, origins []string, authn mux.MiddlewareFunc) {
	wsHandler := handlers.NewWebSocketHandler(hub, origins)

	// WebSocket endpoint with authentication via query parameter
	router.Handle("/ws", authn(http.HandlerFunc(wsHandler.HandleWebSocket))).Methods(http.MethodGet)
}

func health(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			response.WithError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		response.OK(w, map[string]string{"status": "ok"})
	}
}
