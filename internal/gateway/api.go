// ABOUTME: REST API for the user directory, profiles, contacts, and conversation previews
// ABOUTME: Chi routes under /api with JSON responses and store-error to status-code mapping

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wirechat/wirechat/internal/router"
	"github.com/wirechat/wirechat/internal/store"
)

type apiHandler struct {
	store  store.Store
	router *router.Router
	logger *slog.Logger
}

func newAPIHandler(st store.Store, rt *router.Router, logger *slog.Logger) *apiHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &apiHandler{
		store:  st,
		router: rt,
		logger: logger.With("component", "api"),
	}
}

// Routes mounts the API endpoints on a chi router.
func (h *apiHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/users", h.listUsers)
	r.Post("/users", h.createUser)
	r.Get("/users/{userID}", h.getUser)
	r.Put("/users/{userID}", h.updateProfile)

	r.Get("/contacts/{userID}", h.listContacts)
	r.Post("/contacts", h.addContact)
	r.Delete("/contacts/{userID}/{contactID}", h.removeContact)

	r.Get("/last-messages/{userID}", h.lastMessages)

	return r
}

// userResponse is the public JSON shape of a user.
type userResponse struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarRef string    `json:"avatar_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarRef: u.AvatarRef,
		CreatedAt: u.CreatedAt,
	}
}

func (h *apiHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	h.respondJSON(w, http.StatusOK, out)
}

type createUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarRef string `json:"avatar_ref"`
}

func (h *apiHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Email == "" {
		h.respondMessage(w, http.StatusBadRequest, "username and email are required")
		return
	}

	user := &store.User{
		ID:        uuid.New().String(),
		Username:  req.Username,
		Email:     req.Email,
		AvatarRef: req.AvatarRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.respondError(w, err)
		return
	}

	h.logger.Info("user created", "user_id", user.ID, "username", user.Username)
	h.respondJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *apiHandler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toUserResponse(user))
}

type updateProfileRequest struct {
	Username  *string `json:"username"`
	Email     *string `json:"email"`
	AvatarRef *string `json:"avatar_ref"`
}

func (h *apiHandler) updateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == nil && req.Email == nil && req.AvatarRef == nil {
		h.respondMessage(w, http.StatusBadRequest, "no fields to update")
		return
	}

	update := store.ProfileUpdate{
		Username:  req.Username,
		Email:     req.Email,
		AvatarRef: req.AvatarRef,
	}
	if err := h.store.UpdateProfile(r.Context(), userID, update); err != nil {
		h.respondError(w, err)
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *apiHandler) listContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.store.ListContacts(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	out := make([]userResponse, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, toUserResponse(c))
	}
	h.respondJSON(w, http.StatusOK, out)
}

type contactRequest struct {
	UserID    string `json:"user_id"`
	ContactID string `json:"contact_id"`
}

func (h *apiHandler) addContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ContactID == "" {
		h.respondMessage(w, http.StatusBadRequest, "user_id and contact_id are required")
		return
	}

	if err := h.router.AddContact(r.Context(), req.UserID, req.ContactID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"status": "added"})
}

func (h *apiHandler) removeContact(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	contactID := chi.URLParam(r, "contactID")

	if err := h.router.RemoveContact(r.Context(), userID, contactID); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// previewResponse is one row of the conversation sidebar.
type previewResponse struct {
	ChatID     string    `json:"chat_id"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	SenderID   string    `json:"sender_id"`
	PeerID     string    `json:"peer_id"`
	PeerName   string    `json:"peer_name"`
	PeerEmail  string    `json:"peer_email"`
	PeerAvatar string    `json:"peer_avatar,omitempty"`
}

func (h *apiHandler) lastMessages(w http.ResponseWriter, r *http.Request) {
	previews, err := h.store.ListConversationPreviews(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}

	out := make([]previewResponse, 0, len(previews))
	for _, p := range previews {
		out = append(out, previewResponse{
			ChatID:     p.ChatID,
			Body:       p.Body,
			Timestamp:  p.Timestamp,
			SenderID:   p.SenderID,
			PeerID:     p.PeerID,
			PeerName:   p.PeerName,
			PeerEmail:  p.PeerEmail,
			PeerAvatar: p.PeerAvatar,
		})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *apiHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("response encode failed", "error", err)
	}
}

func (h *apiHandler) respondMessage(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondError maps store sentinels to HTTP status codes.
func (h *apiHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateUser),
		errors.Is(err, store.ErrDuplicateContact),
		errors.Is(err, store.ErrDuplicateSession):
		h.respondMessage(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.respondMessage(w, http.StatusInternalServerError, "internal error")
	}
}
