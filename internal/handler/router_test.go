package handler_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/api"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/stream"
	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/ws"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/ai"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/diet"
	"github.com/zhouzirui/ai-dietitian/backend/internal/service/session"
	"github.com/zhouzirui/ai-dietitian/backend/pkg/utils"
)

const testKey = "AI-handler-key"

func newTestServer(t *testing.T, streaming bool) *httptest.Server {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	factory := ai.NewFactory(config.AIConfig{Provider: config.ProviderScripted, StreamResponse: streaming}, log)
	store := session.NewStore(factory.NewInvoker, session.WithLogger(log))
	proc := session.NewProcessor(factory.NewInvoker, session.WithProcessorLogger(log))
	svc := diet.NewService(store, proc, diet.WithCredentialPrefix("AI"), diet.WithLogger(log))

	srv := httptest.NewServer(handler.NewRouter(svc, handler.RouterConfig{
		RequestTimeout: 5 * time.Second,
		Streaming:      factory.StreamingEnabled(),
		Log:            log,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, key string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	body := decode[utils.ErrorBody](t, resp)
	if body.Status != "error" || body.Error != code {
		t.Fatalf("expected error %q, got %+v", code, body)
	}
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, false)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	health := decode[diet.Health](t, resp)
	if health.Status != "healthy" || health.ActiveSessions != 0 {
		t.Fatalf("unexpected health: %+v", health)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/", "", nil)
	root := decode[map[string]any](t, resp)
	if root["status"] != "running" {
		t.Fatalf("unexpected root payload: %v", root)
	}
}

func TestInitSessionRequiresCredential(t *testing.T) {
	srv := newTestServer(t, false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/init-session", "", map[string]string{"session_id": "s1"})
	expectError(t, resp, http.StatusUnauthorized, string(diet.KindUnauthorized))

	resp = doJSON(t, http.MethodPost, srv.URL+"/init-session", "sk-wrong", map[string]string{"session_id": "s1"})
	expectError(t, resp, http.StatusUnauthorized, string(diet.KindInvalidCredentialFormat))

	resp = doJSON(t, http.MethodGet, srv.URL+"/sessions", "", nil)
	listing := decode[map[string]any](t, resp)
	if listing["total_sessions"].(float64) != 0 {
		t.Fatalf("rejected init must not create a session: %v", listing)
	}
}

func TestInitSessionIdempotent(t *testing.T) {
	srv := newTestServer(t, false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/init-session", testKey, map[string]string{"session_id": "s1"})
	first := decode[api.SessionResponse](t, resp)
	if first.Status != diet.StatusInitialized {
		t.Fatalf("expected initialized, got %+v", first)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/init-session", testKey, map[string]string{"session_id": "s1"})
	second := decode[api.SessionResponse](t, resp)
	if second.Status != diet.StatusExists {
		t.Fatalf("expected exists, got %+v", second)
	}
}

func TestInitSessionRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/init-session", testKey, map[string]string{"session_id": "bad id!"})
	expectError(t, resp, http.StatusBadRequest, string(diet.KindInvalidSessionID))

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/init-session", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+testKey)
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer raw.Body.Close()
	expectError(t, raw, http.StatusBadRequest, "invalid_request")
}

func TestChatFlowAndClear(t *testing.T) {
	srv := newTestServer(t, false)

	resp := doJSON(t, http.MethodPost, srv.URL+"/chat", testKey, map[string]string{
		"session_id": "s1",
		"message":    "I want to lose weight",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	reply := decode[api.ChatResponse](t, resp)
	if reply.Status != "success" || !strings.Contains(reply.Response, ai.InterviewQuestions[0]) {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/chat", testKey, map[string]string{
		"session_id": "s1",
		"message":    "   ",
	})
	expectError(t, resp, http.StatusBadRequest, string(diet.KindInvalidMessage))

	resp = doJSON(t, http.MethodDelete, srv.URL+"/clear-session/s1", "", nil)
	cleared := decode[api.SessionResponse](t, resp)
	if cleared.Status != diet.StatusCleared {
		t.Fatalf("expected cleared, got %+v", cleared)
	}

	resp = doJSON(t, http.MethodDelete, srv.URL+"/clear-session/s1", "", nil)
	again := decode[api.SessionResponse](t, resp)
	if again.Status != diet.StatusNotFound {
		t.Fatalf("expected not_found, got %+v", again)
	}
}

func readSSE(t *testing.T, body io.Reader) []stream.StreamResponse {
	t.Helper()

	var events []stream.StreamResponse
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event stream.StreamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		events = append(events, event)
	}
	return events
}

func TestStreamEmitsDeltasAndFinalMessage(t *testing.T) {
	srv := newTestServer(t, true)

	resp := doJSON(t, http.MethodGet, srv.URL+"/stream/s1?message=hello", testKey, nil)
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", got)
	}

	events := readSSE(t, resp.Body)
	if len(events) < 4 {
		t.Fatalf("expected start, deltas, message and end, got %+v", events)
	}
	if events[0].Event != "start" || events[len(events)-1].Event != "end" {
		t.Fatalf("unexpected framing: %+v", events)
	}

	var deltas strings.Builder
	var final string
	for _, e := range events {
		switch e.Event {
		case "delta":
			deltas.WriteString(e.Content)
		case "message":
			final = e.Content
		}
	}
	if final == "" || deltas.String() != final {
		t.Fatalf("deltas %q do not add up to message %q", deltas.String(), final)
	}
}

func TestStreamValidationFailsBeforeEvents(t *testing.T) {
	srv := newTestServer(t, true)

	resp := doJSON(t, http.MethodGet, srv.URL+"/stream/s1", testKey, nil)
	expectError(t, resp, http.StatusBadRequest, string(diet.KindInvalidMessage))

	resp = doJSON(t, http.MethodGet, srv.URL+"/stream/s1?message=hi", "", nil)
	expectError(t, resp, http.StatusUnauthorized, string(diet.KindUnauthorized))
}

func dialChat(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, kind string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteJSON(ws.InboundMessage{Type: kind, Data: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketChat(t *testing.T) {
	srv := newTestServer(t, true)
	conn := dialChat(t, srv, "ws-1")

	hello := readFrame(t, conn)
	if hello.Type != ws.TypeConnected {
		t.Fatalf("expected connected frame, got %+v", hello)
	}
	var welcome ws.ConnectedData
	if err := json.Unmarshal(hello.Data, &welcome); err != nil || welcome.Welcome != ai.WelcomeMessage {
		t.Fatalf("unexpected welcome %s (%v)", hello.Data, err)
	}

	sendFrame(t, conn, ws.TypeMessage, ws.TextPayload{Text: "hi"})
	refused := readFrame(t, conn)
	var refusal ws.ErrorData
	if err := json.Unmarshal(refused.Data, &refusal); err != nil || refused.Type != ws.TypeError || refusal.Code != string(diet.KindUnauthorized) {
		t.Fatalf("expected unauthorized error, got %+v", refused)
	}

	sendFrame(t, conn, ws.TypeAuth, ws.AuthPayload{Credential: testKey})
	if ready := readFrame(t, conn); ready.Type != ws.TypeReady {
		t.Fatalf("expected ready frame, got %+v", ready)
	}

	sendFrame(t, conn, ws.TypeMessage, ws.TextPayload{Text: "I want more energy"})

	var deltas strings.Builder
	for {
		f := readFrame(t, conn)
		var text ws.TextData
		if err := json.Unmarshal(f.Data, &text); err != nil {
			t.Fatalf("decode %s frame: %v", f.Type, err)
		}
		if f.Type == ws.TypeDelta {
			deltas.WriteString(text.Text)
			continue
		}
		if f.Type != ws.TypeReply {
			t.Fatalf("unexpected frame %+v", f)
		}
		if text.Text != deltas.String() || !strings.Contains(text.Text, ai.InterviewQuestions[0]) {
			t.Fatalf("reply %q does not match deltas %q", text.Text, deltas.String())
		}
		break
	}

	sendFrame(t, conn, ws.TypeClear, struct{}{})
	cleared := readFrame(t, conn)
	var status ws.StatusData
	if err := json.Unmarshal(cleared.Data, &status); err != nil || cleared.Type != ws.TypeCleared || status.Status != diet.StatusCleared {
		t.Fatalf("expected cleared frame, got %+v", cleared)
	}
}

func TestWebSocketRejectsInvalidSession(t *testing.T) {
	srv := newTestServer(t, false)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/bad%20id"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake response, got %+v", resp)
	}
}
