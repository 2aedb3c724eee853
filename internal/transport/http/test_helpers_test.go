package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/ltchat/internal/auth"
	"github.com/vovakirdan/ltchat/internal/backplane"
	"github.com/vovakirdan/ltchat/internal/config"
	"github.com/vovakirdan/ltchat/internal/core"
	"github.com/vovakirdan/ltchat/internal/ingest"
	"github.com/vovakirdan/ltchat/internal/metrics"
	"github.com/vovakirdan/ltchat/internal/presence"
	"github.com/vovakirdan/ltchat/internal/store"
	"github.com/vovakirdan/ltchat/internal/store/sqlite"
	"github.com/vovakirdan/ltchat/internal/worker"
)

const testSecret = "test-secret"

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	store *sqlite.SQLiteStore
	queue *ingest.Memory
	jwt   *auth.JWTConfig
}

type envOption func(*config.Config)

func withMembershipCheck(cfg *config.Config) { cfg.MembershipCheck = true }

func withRateLimit(n int) envOption {
	return func(cfg *config.Config) { cfg.RateLimitPerMinute = n }
}

// newTestEnv wires the gateway with in-process drivers, an in-memory
// database and a running persistence worker.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.MembershipCheck = false
	cfg.RateLimitPerMinute = 0
	for _, opt := range opts {
		opt(&cfg)
	}

	disabledLogger := zerolog.New(nil)
	st, err := sqlite.NewWithSetup(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bp := backplane.NewMemory()
	queue := ingest.NewMemory(4)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	hub := core.NewHub(core.HubOptions{
		Presence:    presence.NewTracker(presence.NewMemoryStore()),
		Backplane:   bp,
		Producer:    queue,
		Receipts:    st,
		Metrics:     m,
		Logger:      &disabledLogger,
		SendTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(hub.Shutdown)

	w, err := worker.New(worker.Options{
		Queue:      queue,
		Store:      st,
		Backplane:  bp,
		RetryDelay: 10 * time.Millisecond,
		Metrics:    m,
		Logger:     &disabledLogger,
	})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})

	var membership core.MembershipChecker = core.AllowAll{}
	if cfg.MembershipCheck {
		membership = store.Membership{Store: st}
	}

	jwtCfg := &auth.JWTConfig{Secret: []byte(testSecret), Issuer: "test", Audience: "test", TTL: time.Hour}
	server := NewServer(Deps{
		Hub:        hub,
		Auth:       auth.NewVerifier(jwtCfg),
		Membership: membership,
		History:    st,
		Metrics:    m,
		Gatherer:   reg,
	}, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, store: st, queue: queue, jwt: jwtCfg}
}

func (e *testEnv) token(t *testing.T, userID int64, name string) string {
	t.Helper()
	token, err := auth.GenerateToken(e.jwt, userID, name)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL(channel string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws/" + channel
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, channel string, userID int64, name string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(channel)+"?token="+e.token(t, userID, name), nil)
	if err != nil {
		t.Fatalf("dial %s as %s: %v", channel, name, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type frame map[string]any

func (f frame) str(key string) string {
	s, _ := f[key].(string)
	return s
}

func (f frame) num(key string) int64 {
	v, _ := f[key].(float64)
	return int64(v)
}

// readUntil reads frames until match accepts one. Frames it skips are returned
// as well so tests can assert on ordering.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(frame) bool) (frame, []frame) {
	t.Helper()
	var skipped []frame
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read frame: %v (skipped %v)", err, skipped)
		}
		if match(f) {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

func ofType(typ string) func(frame) bool {
	return func(f frame) bool { return f.str("type") == typ }
}

func presenceOf(userID int64, status string) func(frame) bool {
	return func(f frame) bool {
		return f.str("type") == "presence" && f.num("user_id") == userID && f.str("status") == status
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func sendRaw(t *testing.T, ctx context.Context, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write raw frame: %v", err)
	}
}

// expectNoFrame fails if a frame matching match arrives within d.
func expectNoFrame(t *testing.T, conn *websocket.Conn, d time.Duration, match func(frame) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return
			}
			t.Fatalf("read frame: %v", err)
		}
		if match(f) {
			raw, _ := json.Marshal(f)
			t.Fatalf("unexpected frame %s", raw)
		}
	}
}
