package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/vovakirdan/ltchat/internal/core"
)

func (e *testEnv) apiRequest(t *testing.T, method, path, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestPresenceAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/presence/online", "/api/presence/count", "/api/presence/user/1"} {
		if code := env.apiRequest(t, http.MethodGet, path, "", nil); code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, code)
		}
	}
	if code := env.apiRequest(t, http.MethodGet, "/api/presence/online", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", code)
	}
}

func TestPresenceAPI(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, 3, "carol")

	var online OnlineResponse
	if code := env.apiRequest(t, http.MethodGet, "/api/presence/online", token, &online); code != http.StatusOK {
		t.Fatalf("online: status %d", code)
	}
	if online.OnlineUsers == nil || online.Count != 0 {
		t.Fatalf("expected an empty non-nil list, got %+v", online)
	}

	var beat UserPresenceResponse
	if code := env.apiRequest(t, http.MethodPost, "/api/presence/heartbeat", token, &beat); code != http.StatusOK {
		t.Fatalf("heartbeat: status %d", code)
	}
	if beat.UserID != 3 || !beat.Online {
		t.Fatalf("unexpected heartbeat response %+v", beat)
	}

	var user UserPresenceResponse
	env.apiRequest(t, http.MethodGet, "/api/presence/user/3", token, &user)
	if !user.Online {
		t.Fatalf("user 3 should be online after heartbeat")
	}
	env.apiRequest(t, http.MethodGet, "/api/presence/user/4", token, &user)
	if user.UserID != 4 || user.Online {
		t.Fatalf("user 4 should be offline, got %+v", user)
	}

	var count CountResponse
	env.apiRequest(t, http.MethodGet, "/api/presence/count", token, &count)
	if count.Count != 1 {
		t.Fatalf("expected count 1, got %d", count.Count)
	}

	if code := env.apiRequest(t, http.MethodGet, "/api/presence/user/abc", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad user id, got %d", code)
	}
}

func TestChannelHistory(t *testing.T) {
	env := newTestEnv(t, withMembershipCheck)
	ctx := context.Background()

	if err := env.store.AddMember(ctx, 1, 11); err != nil {
		t.Fatalf("add member: %v", err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := env.store.SaveMessage(ctx, &core.Envelope{
			ChannelID:   11,
			AuthorID:    1,
			Username:    "alice",
			Body:        fmt.Sprintf("m%d", i),
			Nonce:       fmt.Sprintf("tmp-%d", i),
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
			Status:      core.StatusSent,
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	token := env.token(t, 1, "alice")
	var page []MessageResponse
	if code := env.apiRequest(t, http.MethodGet, "/api/channels/11/messages?limit=2", token, &page); code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	if len(page) != 2 || page[0].Content != "m4" || page[1].Content != "m3" {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page[0].TempID != "tmp-4" || page[0].Status != "sent" || page[0].UserID != 1 {
		t.Fatalf("unexpected message shape %+v", page[0])
	}

	var older []MessageResponse
	path := fmt.Sprintf("/api/channels/11/messages?limit=10&before_id=%d", page[1].ID)
	env.apiRequest(t, http.MethodGet, path, token, &older)
	if len(older) != 3 || older[0].Content != "m2" || older[2].Content != "m0" {
		t.Fatalf("unexpected older page %+v", older)
	}

	outsider := env.token(t, 2, "bob")
	if code := env.apiRequest(t, http.MethodGet, "/api/channels/11/messages", outsider, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-member, got %d", code)
	}
	if code := env.apiRequest(t, http.MethodGet, "/api/channels/11/messages?limit=-1", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", code)
	}
}
