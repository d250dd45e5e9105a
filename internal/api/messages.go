package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"schoolchat/internal/models"
)

func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")
	messages, err := h.db.ListMessages(r.Context(), currentUser(r).ID, peerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// HandleMarkMessagesRead flags what peerID sent to the caller as read. The
// client calls it for pushes it shows inside an open conversation.
func (h *Handlers) HandleMarkMessagesRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.db.MarkMessagesRead(r.Context(), currentUser(r).ID, chi.URLParam(r, "peerID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": updated})
}

// HandleSendMessage persists a message. Delivery to the receiver is done by
// the sender emitting sendMessage over its socket.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := h.bind(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
		return
	}

	me := currentUser(r)
	msg := &models.Message{
		Sender:   me.ID,
		Receiver: req.Receiver,
		Message:  req.Message,
		Type:     req.Type,
		AudioURL: req.AudioURL,
		Duration: req.Duration,
	}
	if err := h.db.CreateMessage(r.Context(), msg); err != nil {
		h.fail(w, r, err)
		return
	}

	title := "New message"
	if msg.Type == models.MessageVoice {
		title = "New voice message"
	}
	h.notify(r, msg.Receiver, models.Notification{
		Title:   title,
		Message: "From " + me.Name + " (" + me.Role + ")",
		Type:    models.NotificationMessage,
	})

	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": msg})
}

func (h *Handlers) HandleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.UnreadCounts(r.Context(), currentUser(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}
