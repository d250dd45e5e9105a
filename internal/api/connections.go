package api

import (
	"net/http"

	"schoolchat/internal/models"
)

func (h *Handlers) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !models.ValidRole(role) {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	users, err := h.db.SearchUsers(r.Context(), currentUser(r).ID, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// HandleListUsers returns every account, for admins.
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.db.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *Handlers) HandleSendRequest(w http.ResponseWriter, r *http.Request) {
	var req models.SendConnectionRequest
	if err := h.bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	me := currentUser(r)
	request, err := h.db.CreateConnectionRequest(r.Context(), me.ID, req.RecipientID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.notify(r, request.Recipient.ID, models.Notification{
		Title:   "Connection Request",
		Message: me.Name + " wants to connect with you",
		Type:    models.NotificationConnection,
	})
	h.push(r, request.Recipient.ID, models.EventNewConnection, request)

	writeJSON(w, http.StatusCreated, map[string]interface{}{"request": request})
}

func (h *Handlers) HandleRespondRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RespondConnectionRequest
	if err := h.bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	me := currentUser(r)
	request, err := h.db.RespondConnectionRequest(r.Context(), req.RequestID, me.ID, req.Accept)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if req.Accept {
		h.notify(r, request.Requester.ID, models.Notification{
			Title:   "Connection Accepted",
			Message: me.Name + " accepted your connection request",
			Type:    models.NotificationConnection,
		})
		h.push(r, request.Requester.ID, models.EventConnectionAccepted, request)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"request": request})
}

func (h *Handlers) HandleConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := h.db.ListConnections(r.Context(), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": connections})
}

func (h *Handlers) HandlePendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.db.ListPendingRequests(r.Context(), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// notify stores a notification for userID; failures are logged only.
func (h *Handlers) notify(r *http.Request, userID string, n models.Notification) {
	n.UserID = userID
	if err := h.db.CreateNotification(r.Context(), &n); err != nil {
		h.logger.Error(err, "notification for %s", userID)
	}
}

// push sends a realtime event to userID; failures are logged only.
func (h *Handlers) push(r *http.Request, userID, event string, payload interface{}) {
	if h.hub == nil {
		return
	}
	msg := models.WebSocketMessage{Type: event, Payload: payload}
	if err := h.hub.SendToUser(r.Context(), userID, msg); err != nil {
		h.logger.Error(err, "push %s to %s", event, userID)
	}
}
