package main

import (
	"context"
	"database/sql"

	"github.com/nikhil/projectdesk/internal/config"
	"github.com/nikhil/projectdesk/internal/database"
	"github.com/nikhil/projectdesk/internal/handlers"
	"github.com/nikhil/projectdesk/internal/logger"
	"github.com/nikhil/projectdesk/internal/mailer"
	"github.com/nikhil/projectdesk/internal/realtime"
	"github.com/nikhil/projectdesk/internal/routes"
	"github.com/nikhil/projectdesk/internal/scheduler"
	services "github.com/nikhil/projectdesk/internal/service/auth"
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

// app is the wired set of services shared by the commands.
type app struct {
	cfg  *config.Config
	db   *sql.DB
	hub  *realtime.Hub
	jobs *scheduler.Scheduler
	deps *routes.Deps
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mail := mailer.New(cfg.Mail, logger.NewLogger("mailer"))

	// The hub publishes for every service and asks chat and projects about
	// subscriptions, so the authorizer is filled in once those exist.
	authz := &chatService.TopicAuthorizer{}
	presence := presenceService.NewPresenceService(db, nil, cfg.PresenceTimeout)
	hub := realtime.NewHub(authz, presence, logger.NewLogger("realtime"))
	presence.Events = hub

	projects := projectService.NewProjectService(db, hub)
	tasks := taskService.NewTaskService(db, projects, hub)
	chat := chatService.NewChatService(db, hub)
	authz.Chat = chat
	authz.Projects = projects

	jobs := scheduler.New(logger.NewLogger("scheduler"))
	sessions := services.NewAuthService(db, mail, cfg.JWTSecret, cfg.TokenTTL, cfg.AppURL)

	external := externalService.NewExternalService(db, mail, projects, tasks, externalService.Options{
		Secret:    cfg.JWTSecret,
		TokenTTL:  cfg.TokenTTL,
		InviteTTL: cfg.InviteTTL,
		AppURL:    cfg.AppURL,
	})
	tasks.Guests = external

	deps := &routes.Deps{
		DB:          db,
		Secret:      cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Hub:         hub,
		Scheduler:   jobs,
		Accounts:    sessions,
		Auth:        handlers.NewAuthHandler(sessions),
		Users:       userService.NewUserService(db, mail, cfg.AppURL),
		Departments: departmentService.NewDepartmentService(db),
		Projects:    projects,
		Tasks:       tasks,
		Chat:        chat,
		Presence:    presence,
		Documents:   documentService.NewDocumentService(db, projects, hub),
		External:    external,
		Reports: reportService.NewReportService(db, mail, projects, tasks, cfg.AppURL),
	}
	return &app{cfg: cfg, db: db, hub: hub, jobs: jobs, deps: deps}, nil
}

func (a *app) Close() error {
	a.jobs.Stop()
	return a.db.Close()
}
