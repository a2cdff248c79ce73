package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/app/consumer"
	"github.com/dkeye/Meet/internal/app/producer"
	"github.com/dkeye/Meet/internal/app/room"
	"github.com/dkeye/Meet/internal/app/transport"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/coretest"
	"github.com/dkeye/Meet/internal/domain"
)

var normal = domain.Role{ID: 1, Label: "normal", Level: 10}

type fixture struct {
	room   *room.Room
	sig    *coretest.Signaler
	stream *EventStream
	srv    *httptest.Server
}

func newFixture(t *testing.T, chatLimit int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Signaling.PeerID = "me"
	cfg.Media.JoinAudio = false
	cfg.HTTP.Secret = "test-secret"
	cfg.HTTP.ChatLimit = chatLimit
	cfg.HTTP.ChatWindow = time.Minute

	sig := coretest.NewSignaler()
	sig.RespondWith("getRouterRtpCapabilities", domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}},
	})
	tm, err := transport.New(cfg, sig, &coretest.Device{})
	require.NoError(t, err)
	tm.AfterFunc = (&coretest.Clock{}).AfterFunc
	cm := consumer.New(cfg, tm, sig)
	cm.AfterFunc = (&coretest.Clock{}).AfterFunc
	pm := producer.New(cfg, tm, sig, &coretest.MediaDevices{Live: true}, &coretest.ScreenCapturer{})

	rm := room.New(cfg, sig, tm, pm, cm)
	rm.Start()
	stream := NewEventStream(rm.Events(), pm.Events(), cm.Events(), rm.Spotlight().Events(), tm.Events())

	f := &fixture{room: rm, sig: sig, stream: stream, srv: httptest.NewServer(SetupRouter(cfg, rm, stream))}
	t.Cleanup(func() {
		f.srv.Close()
		stream.Close()
		rm.Close()
	})
	return f
}

func (f *fixture) join(t *testing.T) {
	t.Helper()
	f.sig.RespondWith("join", map[string]any{
		"roles":           []domain.RoleID{normal.ID},
		"peers":           []domain.Peer{},
		"roomPermissions": domain.RolePermissions{domain.PermSendChat: {normal}},
		"userRoles":       map[string]domain.Role{"NORMAL": normal},
	})
	require.True(t, f.sig.Notify(context.Background(), "roomReady", map[string]any{"turnServers": []domain.IceServer{}}))
	require.Equal(t, domain.RoomConnected, f.room.State())
}

func (f *fixture) client(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func do(t *testing.T, c *http.Client, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStateBeforeJoin(t *testing.T) {
	f := newFixture(t, 0)
	resp := do(t, f.client(t), http.MethodGet, f.srv.URL+"/api/state", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap struct {
		State domain.RoomState `json:"state"`
		Me    struct {
			ID domain.PeerID `json:"id"`
		} `json:"me"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, domain.PeerID("me"), snap.Me.ID)
	assert.NotEqual(t, domain.RoomConnected, snap.State)

	var names []string
	for _, c := range resp.Cookies() {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "MeetSessions")
}

func TestCommandErrorStatuses(t *testing.T) {
	f := newFixture(t, 0)
	c := f.client(t)

	resp := do(t, c, http.MethodPut, f.srv.URL+"/api/me/hand", `{"raised":true}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not joined yet")

	f.join(t)

	resp = do(t, c, http.MethodPost, f.srv.URL+"/api/room/lock", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/me/name", `{"displayName":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/me/name", `{"displayName":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, c, http.MethodPost, f.srv.URL+"/api/consumers/nope/pause", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/consumers/nope/viewport", `{"width":640,"height":360}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/peers/a/roles/moderator", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.sig.Fail("changeDisplayName", errors.New("boom"))
	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/me/name", `{"displayName":"Alice"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/me/hand", `{"raised":true}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, f.sig.Calls("raisedHand"), 1)
}

func TestChatIsRateLimitedPerClient(t *testing.T) {
	f := newFixture(t, 1)
	f.join(t)

	alice := f.client(t)
	resp := do(t, alice, http.MethodPost, f.srv.URL+"/api/chat", `{"text":"hi"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg domain.ChatMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "hi", msg.Text)

	resp = do(t, alice, http.MethodPost, f.srv.URL+"/api/chat", `{"text":"again"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	bob := f.client(t)
	resp = do(t, bob, http.MethodPost, f.srv.URL+"/api/chat", `{"text":"hello"}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Len(t, f.sig.Calls("chatMessage"), 2)
	assert.Len(t, f.room.Snapshot().Chat, 2)
}

func TestSpotlightSelection(t *testing.T) {
	f := newFixture(t, 0)
	f.join(t)
	c := f.client(t)

	resp := do(t, c, http.MethodPost, f.srv.URL+"/api/spotlight/selected/a", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []domain.PeerID{"a"}, f.room.Spotlight().Selected())

	resp = do(t, c, http.MethodPut, f.srv.URL+"/api/spotlight/max", `{"max":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, c, http.MethodDelete, f.srv.URL+"/api/spotlight/selected", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.room.Spotlight().Selected())
}

func TestEventsStreamSnapshotThenEvents(t *testing.T) {
	f := newFixture(t, 0)
	f.join(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := f.client(t).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(want string) bool {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event:"); ok && name == want {
				return true
			}
		}
		return false
	}
	require.True(t, waitFor("snapshot"))

	f.sig.Notify(context.Background(), "lockRoom", map[string]any{"peerId": "a"})
	assert.True(t, waitFor("roomLock"))
}

type tick int

func (tick) EventName() string { return "tick" }

func TestEventStreamDropsForSlowClients(t *testing.T) {
	bus := core.NewBus[core.Event]()
	s := NewEventStream(bus)

	ch, cancel := s.Subscribe()
	for i := range streamBuffer + 10 {
		bus.Emit(tick(i))
	}
	assert.Len(t, ch, streamBuffer)
	first := <-ch
	assert.Equal(t, Envelope{Name: "tick", Data: tick(0)}, first)

	cancel()
	cancel()
	assert.Zero(t, s.Clients())

	late, _ := s.Subscribe()
	s.Close()
	_, open := <-late
	assert.False(t, open)
	assert.Zero(t, bus.Len())

	closed, _ := s.Subscribe()
	_, open = <-closed
	assert.False(t, open)
}

func TestChatLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewChatLimiter(2, 10*time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow("a"))

	assert.True(t, NewChatLimiter(0, time.Second).Allow("a"))
}
