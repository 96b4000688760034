package chatRoutes

import (
	"net/http"

	"github.com/gorilla/mux"

	chatService "github.com/nikhil/projectdesk/internal/service/chat"
	presenceService "github.com/nikhil/projectdesk/internal/service/presence"
)

func ChatRoutes(staff *mux.Router, chat *chatService.ChatService, presence *presenceService.PresenceService) {
	protectedRouter := staff.PathPrefix("/chat").Subrouter()

	protectedRouter.HandleFunc("/rooms", chat.ListRooms).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/rooms", chat.CreateRoomHandler).Methods(http.MethodPost)
	protectedRouter.HandleFunc("/unread", chat.Unread).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/rooms/{id:[0-9]+}/messages", chat.ListMessages).Methods(http.MethodGet)
	protectedRouter.HandleFunc("/rooms/{id:[0-9]+}/messages", chat.PostMessageHandler).Methods(http.MethodPost)
	protectedRouter.HandleFunc("/rooms/{id:[0-9]+}/read", chat.MarkReadHandler).Methods(http.MethodPost)
	protectedRouter.HandleFunc("/messages/{id:[0-9]+}", chat.EditMessageHandler).Methods(http.MethodPut)
	protectedRouter.HandleFunc("/messages/{id:[0-9]+}", chat.DeleteMessageHandler).Methods(http.MethodDelete)

	staff.HandleFunc("/presence", presence.ListPresence).Methods(http.MethodGet)
	staff.HandleFunc("/presence/heartbeat", presence.HeartbeatHandler).Methods(http.MethodPost)
}
