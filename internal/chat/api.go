package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Rooms handles GET /api/chat/rooms.
func (h *Handler) Rooms(w http.ResponseWriter, r *http.Request) {
	who, ok := identityFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rooms, err := h.store.RoomsFor(r.Context(), who)
	if err != nil {
		h.log.Error("list rooms failed", "user", who.ID, "error", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if rooms == nil {
		rooms = []Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// History handles GET /api/chat/rooms/{room}/messages. The caller must be
// allowed to join the room.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	who, ok := identityFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	key := chi.URLParam(r, "room")
	req, err := ParseRoomKey(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, _, err := h.auth.Authorize(r.Context(), who, req)
	if err == nil && room.Key != key {
		// A client asking for someone else's ad room resolves to its own.
		err = ErrPermissionDenied
	}
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.store.History(r.Context(), key)
	if err != nil {
		h.log.Error("history failed", "room", key, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":     room.Key,
		"messages": msgs,
	})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrPermissionDenied):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
