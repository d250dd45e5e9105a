package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.db.ListNotifications(r.Context(), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

func (h *Handlers) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.db.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notification": n})
}

func (h *Handlers) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.db.MarkAllNotificationsRead(r.Context(), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}
