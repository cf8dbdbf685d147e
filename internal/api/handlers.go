package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
	"github.com/salinassolar/crm-messaging/internal/repo"
	"github.com/salinassolar/crm-messaging/internal/scheduler"
	"github.com/salinassolar/crm-messaging/internal/window"
)

type Handler struct {
	sched    *scheduler.Scheduler
	messages repo.MessageRepository
	contacts repo.ContactRepository

	humanAgentWindow time.Duration
}

func NewHandler(s *scheduler.Scheduler, messages repo.MessageRepository, contacts repo.ContactRepository, humanAgentWindow time.Duration) *Handler {
	return &Handler{
		sched:            s,
		messages:         messages,
		contacts:         contacts,
		humanAgentWindow: humanAgentWindow,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schedulerState(h.sched))
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	writeJSON(w, http.StatusOK, schedulerState(h.sched))
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	writeJSON(w, http.StatusOK, schedulerState(h.sched))
}

func schedulerState(s *scheduler.Scheduler) map[string]any {
	state := map[string]any{"running": s.IsRunning()}
	if last := s.LastTick(); !last.IsZero() {
		state["lastTick"] = last.UTC()
	}
	return state
}

type enqueueRequest struct {
	Channel   string        `json:"channel"`
	ContactID string        `json:"contactId,omitempty"`
	Recipient string        `json:"recipient,omitempty"`
	Payload   model.Payload `json:"payload"`
}

// EnqueueMessage is the sole write entry point for producers. Facebook and
// Instagram sends are validated against the messaging window before they are
// queued; a closed window is rejected synchronously, never enqueued.
func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := model.ParseChannel(req.Channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Payload.Body == "" {
		http.Error(w, "payload body must not be empty", http.StatusBadRequest)
		return
	}

	recipient := req.Recipient
	if req.ContactID != "" {
		contactID, err := uuid.Parse(req.ContactID)
		if err != nil {
			http.Error(w, "invalid contactId", http.StatusBadRequest)
			return
		}

		contact, err := h.contacts.Get(r.Context(), contactID)
		if errors.Is(err, repo.ErrContactNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if recipient == "" {
			recipient = contact.RecipientFor(ch)
		}

		if ch.Meta() {
			if ok := h.checkWindow(w, r, contactID, ch, req.Payload.Tag); !ok {
				return
			}
		}
	} else if ch.Meta() {
		http.Error(w, "contactId is required for facebook and instagram sends", http.StatusBadRequest)
		return
	}

	if recipient == "" {
		http.Error(w, "no recipient for channel "+string(ch), http.StatusBadRequest)
		return
	}

	msg, err := h.messages.Enqueue(r.Context(), ch, recipient, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"id": msg.ID})
}

// checkWindow rejects the request when the window is closed; it reports
// whether the caller may proceed.
func (h *Handler) checkWindow(w http.ResponseWriter, r *http.Request, contactID uuid.UUID, ch model.Channel, tag string) bool {
	lastInbound, err := h.contacts.LastInboundAt(r.Context(), contactID, ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}

	st := window.Evaluate(ch, lastInbound, time.Now().UTC(), h.humanAgentWindow)
	switch {
	case st.CanSendAny():
		return true
	case st.CanSendHumanAgent():
		if tag == model.TagHumanAgent {
			return true
		}
		http.Error(w, "messaging window expired; only human-agent tagged sends allowed", http.StatusUnprocessableEntity)
		return false
	default:
		http.Error(w, "messaging window expired", http.StatusUnprocessableEntity)
		return false
	}
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = model.Sent
	}
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.messages.List(r.Context(), status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": messageViews(items)})
}

// WindowStatus reports whether the contact can currently be messaged on the
// channel, plus the contact's available channels with the default first.
func (h *Handler) WindowStatus(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	ch, err := model.ParseChannel(r.URL.Query().Get("channel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	contact, err := h.contacts.Get(r.Context(), contactID)
	if errors.Is(err, repo.ErrContactNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()

	lastInbound := make(map[model.Channel]*time.Time, len(model.Channels))
	for _, c := range model.Channels {
		at, err := h.contacts.LastInboundAt(r.Context(), contactID, c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		lastInbound[c] = at
	}

	st := window.Evaluate(ch, lastInbound[ch], now, h.humanAgentWindow)
	available := window.AvailableChannels(contact, lastInbound, now, h.humanAgentWindow)

	resp := map[string]any{
		"channel":           ch,
		"windowKind":        st.Kind,
		"canSendAny":        st.CanSendAny(),
		"canSendHumanAgent": st.CanSendHumanAgent(),
		"availableChannels": available,
	}
	if !st.ExpiresAt.IsZero() {
		resp["expiresAt"] = st.ExpiresAt
		resp["timeRemainingSeconds"] = int64(st.Remaining.Seconds())
	}
	if len(available) > 0 {
		resp["defaultChannel"] = available[0]
	}

	writeJSON(w, http.StatusOK, resp)
}

type inboundRequest struct {
	Channel    string     `json:"channel"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

// RecordInbound stores an inbound-message timestamp for a contact. Inbound
// Meta messages are what open the 24h messaging window.
func (h *Handler) RecordInbound(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid contact id", http.StatusBadRequest)
		return
	}

	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := model.ParseChannel(req.Channel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	at := time.Now().UTC()
	if req.ReceivedAt != nil {
		at = req.ReceivedAt.UTC()
	}

	if err := h.contacts.RecordInbound(r.Context(), contactID, ch, at); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type messageView struct {
	ID            uuid.UUID     `json:"id"`
	Channel       model.Channel `json:"channel"`
	Recipient     string        `json:"recipient"`
	Payload       model.Payload `json:"payload"`
	Status        model.Status  `json:"status"`
	AttemptCount  int           `json:"attemptCount"`
	NextAttemptAt time.Time     `json:"nextAttemptAt"`
	LastError     *string       `json:"lastError,omitempty"`
	ExternalID    *string       `json:"externalId,omitempty"`
	SentAt        *time.Time    `json:"sentAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func messageViews(msgs []model.QueuedMessage) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:            m.ID,
			Channel:       m.Channel,
			Recipient:     m.Recipient,
			Payload:       m.Payload,
			Status:        m.Status,
			AttemptCount:  m.AttemptCount,
			NextAttemptAt: m.NextAttemptAt,
			LastError:     m.LastError,
			ExternalID:    m.ExternalID,
			SentAt:        m.SentAt,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		})
	}
	return out
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
