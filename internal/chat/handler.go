package chat

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	myMiddleware "github.com/muhammadhasnaindev/chat/internal/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Handler exposes the REST side of the chat feature: starting a direct
// conversation and loading message history. Real-time traffic goes through
// the Gateway's websocket endpoint.
type Handler struct {
	repo     *Repository
	validate *validator.Validate
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{
		repo:     repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type startConversationRequest struct {
	TargetID int64 `json:"target_id" validate:"required,gt=0"`
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil || req.TargetID == userID {
		http.Error(w, "invalid target", http.StatusBadRequest)
		return
	}

	id, err := h.repo.FindOrCreatePrivateChat(r.Context(), userID, req.TargetID)
	if err != nil {
		http.Error(w, "could not start conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"conversation_id": id})
}

func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	chatID, err := strconv.ParseInt(r.URL.Query().Get("chat_id"), 10, 64)
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat_id", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	chat, err := h.repo.ChatByID(r.Context(), chatID)
	if err != nil {
		http.Error(w, "chat not found", http.StatusNotFound)
		return
	}
	if !chat.HasParticipant(userID) {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	messages, err := h.repo.History(r.Context(), chatID, userID, limit)
	if err != nil {
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}
