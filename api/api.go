// Package api provides the stateless request/response endpoints of the chat
// coordinator: chat listings, history, group creation, and the privileged
// broadcast and ban actions. Real-time traffic lives on the websocket
// endpoint, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/actogram/server/api/validator"
	"github.com/actogram/server/auth"
	"github.com/actogram/server/chat"
)

// A ChatService is the coordinator surface the endpoints call into.
type ChatService interface {
	ChatList(ctx context.Context, userID string) ([]chat.ChatSummary, error)
	History(ctx context.Context, userID, chatID string) ([]chat.Message, error)
	CreateGroup(ctx context.Context, creatorID, name string, kind chat.ChatKind, description string, memberIDs []string) (chat.ChatSummary, error)
	BroadcastSystem(ctx context.Context, text string) (int, error)
	Ban(ctx context.Context, userID string) error
	BanByHandle(ctx context.Context, handle string) error
}

// A Stats provides the counters shown by the health endpoint.
type Stats interface {
	CountUsers(ctx context.Context) (int, error)
	CountChats(ctx context.Context) (int, error)
	CountMessages(ctx context.Context) (int, error)
}

// API provides the REST endpoints for the application.
type API struct {
	Logger   *slog.Logger
	Service  ChatService
	Stats    Stats
	Val      *validator.Validator
	Verifier auth.Verifier

	// AdminHandle is the only identity allowed to broadcast and ban.
	AdminHandle string
	// Sessions reports the live connection count for the health endpoint.
	Sessions func() int

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", a.health)
	mux.HandleFunc("GET /api/chats", a.listChats)
	mux.HandleFunc("POST /api/chats", a.createChat)
	mux.HandleFunc("GET /api/messages/{chatID}", a.listMessages)
	mux.HandleFunc("POST /api/broadcast", a.broadcast)
	mux.HandleFunc("POST /api/ban", a.ban)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondServiceError maps the coordinator's error taxonomy to a status code.
func (a *API) respondServiceError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrContentTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, chat.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	a.respondError(w, status, err, msg)
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// authenticate resolves the bearer credential, writing a 401 on failure.
func (a *API) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	header := r.Header.Get("Authorization")
	token, _ := strings.CutPrefix(header, "Bearer ")
	identity, err := a.Verifier.Verify(r.Context(), token)
	if err != nil {
		a.respondError(w, http.StatusUnauthorized, err, "Invalid or missing token")
		return auth.Identity{}, false
	}
	return identity, true
}

// requireAdmin authenticates and additionally requires the admin handle.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	identity, ok := a.authenticate(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if identity.Handle != a.AdminHandle {
		a.respondError(w, http.StatusForbidden, chat.ErrForbidden, "Admin privileges required")
		return auth.Identity{}, false
	}
	return identity, true
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Users    int    `json:"users"`
		Chats    int    `json:"chats"`
		Messages int    `json:"messages"`
		Sessions int    `json:"sessions"`
	}

	ctx := r.Context()
	users, err := a.Stats.CountUsers(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read stats")
		return
	}
	chats, err := a.Stats.CountChats(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read stats")
		return
	}
	messages, err := a.Stats.CountMessages(ctx)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not read stats")
		return
	}

	res := response{Status: "ok", Users: users, Chats: chats, Messages: messages}
	if a.Sessions != nil {
		res.Sessions = a.Sessions()
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Chats []chat.ChatSummary `json:"chats"`
	}

	identity, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	chats, err := a.Service.ChatList(r.Context(), identity.UserID)
	if err != nil {
		a.respondServiceError(w, err, "Could not list chats")
		return
	}
	if chats == nil {
		chats = []chat.ChatSummary{}
	}
	a.respond(w, http.StatusOK, response{Chats: chats})
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		ChatID   string         `json:"chat_id"`
		Messages []chat.Message `json:"messages"`
	}

	identity, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	chatID := r.PathValue("chatID")
	msgs, err := a.Service.History(r.Context(), identity.UserID, chatID)
	if err != nil {
		a.respondServiceError(w, err, "Could not fetch messages")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	a.respond(w, http.StatusOK, response{ChatID: chatID, Messages: msgs})
}

func (a *API) createChat(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Name         string   `json:"name" validate:"required,max=64"`
		Kind         string   `json:"kind" validate:"required,oneof=group channel"`
		Description  string   `json:"description" validate:"max=200"`
		Participants []string `json:"participants"`
	}

	identity, ok := a.authenticate(w, r)
	if !ok {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	summary, err := a.Service.CreateGroup(r.Context(), identity.UserID, body.Name, chat.ChatKind(body.Kind), body.Description, body.Participants)
	if err != nil {
		a.respondServiceError(w, err, "Could not create chat")
		return
	}
	a.respond(w, http.StatusCreated, summary)
}

func (a *API) broadcast(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Text string `json:"text" validate:"required"`
		}
		response struct {
			Delivered int `json:"delivered"`
		}
	)

	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	delivered, err := a.Service.BroadcastSystem(r.Context(), body.Text)
	if err != nil {
		a.respondServiceError(w, err, "Could not broadcast")
		return
	}
	a.respond(w, http.StatusOK, response{Delivered: delivered})
}

func (a *API) ban(w http.ResponseWriter, r *http.Request) {
	type request struct {
		UserID string `json:"user_id" validate:"required_without=Handle"`
		Handle string `json:"handle" validate:"omitempty,handle"`
	}

	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	if valid := a.validateBody(w, &body); !valid {
		return
	}

	var err error
	if body.UserID != "" {
		err = a.Service.Ban(r.Context(), body.UserID)
	} else {
		err = a.Service.BanByHandle(r.Context(), body.Handle)
	}
	if err != nil {
		a.respondServiceError(w, err, "Could not ban user")
		return
	}
	a.respond(w, http.StatusOK, map[string]bool{"success": true})
}
