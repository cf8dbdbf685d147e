package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/salinassolar/crm-messaging/internal/model"
	"github.com/salinassolar/crm-messaging/internal/repo"
	"github.com/salinassolar/crm-messaging/internal/scheduler"
)

const testHumanAgentWindow = 7 * 24 * time.Hour

func newTestServer(t *testing.T, messages repo.MessageRepository, contacts repo.ContactRepository) (*scheduler.Scheduler, http.Handler) {
	t.Helper()

	// Long interval so only the immediate tick happens (noop anyway).
	s, err := scheduler.New(time.Hour, func(context.Context) {})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	h := NewHandler(s, messages, contacts, testHumanAgentWindow)
	return s, Router(h)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func postJSON(t *testing.T, mux http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo())
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo())
	defer s.Stop()

	// Initially should be false.
	{
		req := httptest.NewRequest(http.MethodGet, "/v1/scheduler/status", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false, got %v", body)
		}
	}

	// Start
	{
		req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/start", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || !running {
			t.Fatalf("expected running=true after start, got %v", body)
		}
	}

	// Stop
	{
		req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/stop", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
		}
		body := decodeJSON(t, rr)
		if running, ok := body["running"].(bool); !ok || running {
			t.Fatalf("expected running=false after stop, got %v", body)
		}
	}
}

func TestEnqueueMessage_SMS(t *testing.T) {
	messages := repo.NewMemoryMessageRepo()
	s, mux := newTestServer(t, messages, repo.NewMemoryContactRepo())
	defer s.Stop()

	rr := postJSON(t, mux, "/v1/messages", map[string]any{
		"channel":   "sms",
		"recipient": "+639170000001",
		"payload":   map[string]any{"body": "your panels ship friday"},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	rawID, ok := body["id"].(string)
	if !ok {
		t.Fatalf("expected id in response, got %v", body)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		t.Fatalf("expected uuid id, got %q", rawID)
	}

	msg, err := messages.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("expected message persisted: %v", err)
	}
	if msg.Status != model.Pending || msg.AttemptCount != 0 {
		t.Fatalf("expected fresh pending message, got %+v", msg)
	}
}

func TestEnqueueMessage_ValidationErrors(t *testing.T) {
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo())
	defer s.Stop()

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{
			name: "unknown channel",
			body: map[string]any{"channel": "pigeon", "recipient": "x", "payload": map[string]any{"body": "hi"}},
			want: http.StatusBadRequest,
		},
		{
			name: "empty payload body",
			body: map[string]any{"channel": "sms", "recipient": "+63", "payload": map[string]any{}},
			want: http.StatusBadRequest,
		},
		{
			name: "missing recipient",
			body: map[string]any{"channel": "sms", "payload": map[string]any{"body": "hi"}},
			want: http.StatusBadRequest,
		},
		{
			name: "facebook without contactId",
			body: map[string]any{"channel": "facebook", "recipient": "psid", "payload": map[string]any{"body": "hi"}},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(t, mux, "/v1/messages", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%q", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func seedContact(t *testing.T, contacts *repo.MemoryContactRepo) model.Contact {
	t.Helper()

	c := model.Contact{
		ID:           uuid.New(),
		Name:         "Rosa Magbanua",
		Phone:        "+639170000001",
		Email:        "rosa@example.com",
		FacebookPSID: "psid-rosa",
		InstagramSID: "igsid-rosa",
	}
	contacts.PutContact(c)
	return c
}

func TestEnqueueMessage_FacebookInsideWindow(t *testing.T) {
	messages := repo.NewMemoryMessageRepo()
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, messages, contacts)
	defer s.Stop()

	c := seedContact(t, contacts)
	_ = contacts.RecordInbound(context.Background(), c.ID, model.ChannelFacebook, time.Now().Add(-time.Hour))

	rr := postJSON(t, mux, "/v1/messages", map[string]any{
		"channel":   "facebook",
		"contactId": c.ID.String(),
		"payload":   map[string]any{"body": "thanks for reaching out"},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	id, _ := uuid.Parse(body["id"].(string))
	msg, err := messages.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("expected message persisted: %v", err)
	}
	// Recipient resolved from the contact's platform identity.
	if msg.Recipient != "psid-rosa" {
		t.Fatalf("expected psid recipient, got %q", msg.Recipient)
	}
}

func TestEnqueueMessage_FacebookWindowExpired(t *testing.T) {
	messages := repo.NewMemoryMessageRepo()
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, messages, contacts)
	defer s.Stop()

	c := seedContact(t, contacts)
	// Outside standard and extended windows.
	_ = contacts.RecordInbound(context.Background(), c.ID, model.ChannelFacebook, time.Now().Add(-testHumanAgentWindow-time.Hour))

	rr := postJSON(t, mux, "/v1/messages", map[string]any{
		"channel":   "facebook",
		"contactId": c.ID.String(),
		"payload":   map[string]any{"body": "hello again"},
	})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "messaging window expired") {
		t.Fatalf("expected window-expired error, got %q", rr.Body.String())
	}

	// Nothing was queued.
	items, _ := messages.List(context.Background(), model.Pending, 10, 0)
	if len(items) != 0 {
		t.Fatalf("expected no queued messages, got %d", len(items))
	}
}

func TestEnqueueMessage_FacebookHumanAgentWindow(t *testing.T) {
	messages := repo.NewMemoryMessageRepo()
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, messages, contacts)
	defer s.Stop()

	c := seedContact(t, contacts)
	// Standard window expired, extended window still open.
	_ = contacts.RecordInbound(context.Background(), c.ID, model.ChannelFacebook, time.Now().Add(-48*time.Hour))

	// Untagged send is rejected.
	rr := postJSON(t, mux, "/v1/messages", map[string]any{
		"channel":   "facebook",
		"contactId": c.ID.String(),
		"payload":   map[string]any{"body": "checking in"},
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for untagged send, got %d body=%q", rr.Code, rr.Body.String())
	}

	// Human-agent tagged send is accepted.
	rr = postJSON(t, mux, "/v1/messages", map[string]any{
		"channel":   "facebook",
		"contactId": c.ID.String(),
		"payload":   map[string]any{"body": "checking in", "tag": "human_agent"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for tagged send, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestWindowStatus_FacebookArithmetic(t *testing.T) {
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), contacts)
	defer s.Stop()

	c := seedContact(t, contacts)
	_ = contacts.RecordInbound(context.Background(), c.ID, model.ChannelFacebook, time.Now().Add(-10*time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/"+c.ID.String()+"/window?channel=facebook", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if canSend, ok := body["canSendAny"].(bool); !ok || !canSend {
		t.Fatalf("expected canSendAny=true at T+10h, got %v", body)
	}

	remaining, ok := body["timeRemainingSeconds"].(float64)
	if !ok {
		t.Fatalf("expected timeRemainingSeconds, got %v", body)
	}
	// ~14h left, allow a minute of slack.
	if remaining < 14*3600-60 || remaining > 14*3600+60 {
		t.Fatalf("expected ~14h remaining, got %vs", remaining)
	}

	// SMS wins the default-channel tie-break.
	if def, ok := body["defaultChannel"].(string); !ok || def != "sms" {
		t.Fatalf("expected defaultChannel sms, got %v", body)
	}
}

func TestWindowStatus_FacebookExpiredStandardWindow(t *testing.T) {
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), contacts)
	defer s.Stop()

	c := seedContact(t, contacts)
	_ = contacts.RecordInbound(context.Background(), c.ID, model.ChannelFacebook, time.Now().Add(-24*time.Hour-time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/"+c.ID.String()+"/window?channel=facebook", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}

	body := decodeJSON(t, rr)
	if canSend, ok := body["canSendAny"].(bool); !ok || canSend {
		t.Fatalf("expected canSendAny=false past 24h, got %v", body)
	}
	if canHA, ok := body["canSendHumanAgent"].(bool); !ok || !canHA {
		t.Fatalf("expected canSendHumanAgent=true inside extended window, got %v", body)
	}
	if kind, ok := body["windowKind"].(string); !ok || kind != "humanAgent" {
		t.Fatalf("expected windowKind humanAgent, got %v", body)
	}
}

func TestWindowStatus_UnknownContact(t *testing.T) {
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo())
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/"+uuid.NewString()+"/window?channel=sms", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRecordInbound_OpensWindow(t *testing.T) {
	contacts := repo.NewMemoryContactRepo()
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), contacts)
	defer s.Stop()

	c := seedContact(t, contacts)

	rr := postJSON(t, mux, "/v1/contacts/"+c.ID.String()+"/inbound", map[string]any{
		"channel": "instagram",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%q", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts/"+c.ID.String()+"/window?channel=instagram", nil)
	wrr := httptest.NewRecorder()
	mux.ServeHTTP(wrr, req)

	body := decodeJSON(t, wrr)
	if canSend, ok := body["canSendAny"].(bool); !ok || !canSend {
		t.Fatalf("expected window open after inbound, got %v", body)
	}
}

type listArgsRepo struct {
	*repo.MemoryMessageRepo

	gotStatus model.Status
	gotLimit  int
	gotOffset int
	err       error
}

func (f *listArgsRepo) List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueuedMessage, error) {
	f.gotStatus = status
	f.gotLimit = limit
	f.gotOffset = offset
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryMessageRepo.List(ctx, status, limit, offset)
}

func TestListMessages_DefaultsAndArgs(t *testing.T) {
	fr := &listArgsRepo{MemoryMessageRepo: repo.NewMemoryMessageRepo()}
	s, mux := newTestServer(t, fr, repo.NewMemoryContactRepo())
	defer s.Stop()

	// No query params => defaults (status=sent, limit=50, offset=0)
	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fr.gotStatus != model.Sent || fr.gotLimit != 50 || fr.gotOffset != 0 {
		t.Fatalf("expected defaults status=sent limit=50 offset=0, got status=%s limit=%d offset=%d",
			fr.gotStatus, fr.gotLimit, fr.gotOffset)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/messages?status=failed&limit=10&offset=5", nil)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if fr.gotStatus != model.Failed || fr.gotLimit != 10 || fr.gotOffset != 5 {
		t.Fatalf("expected status=failed limit=10 offset=5, got status=%s limit=%d offset=%d",
			fr.gotStatus, fr.gotLimit, fr.gotOffset)
	}
}

func TestListMessages_RepoErrorReturns500(t *testing.T) {
	fr := &listArgsRepo{MemoryMessageRepo: repo.NewMemoryMessageRepo(), err: errors.New("db down")}
	s, mux := newTestServer(t, fr, repo.NewMemoryContactRepo())
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "db down") {
		t.Fatalf("expected error body to contain repo error, got %q", rr.Body.String())
	}
}

func TestRouterRoot(t *testing.T) {
	s, mux := newTestServer(t, repo.NewMemoryMessageRepo(), repo.NewMemoryContactRepo())
	defer s.Stop()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "crm-messaging" {
		t.Fatalf("expected body %q, got %q", "crm-messaging", got)
	}
}
