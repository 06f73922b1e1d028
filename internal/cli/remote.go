package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/zhouzirui/ai-dietitian/backend/internal/handler/ws"
)

// RemoteError is an error frame returned by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RemoteBackend drives a session on a running server over its chat socket.
type RemoteBackend struct {
	conn    *websocket.Conn
	welcome ws.ConnectedData
}

// DialRemote connects to serverURL (ws:// or wss://, with or without the
// /ws/{id} path) and waits for the connected frame.
func DialRemote(ctx context.Context, serverURL, sessionID string) (*RemoteBackend, error) {
	url := strings.TrimRight(serverURL, "/")
	if !strings.Contains(url, "/ws/") {
		url += "/ws/" + sessionID
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)

	b := &RemoteBackend{conn: conn}
	frame, err := b.read(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}
	if frame.Type != ws.TypeConnected {
		conn.Close(websocket.StatusProtocolError, "unexpected frame")
		return nil, fmt.Errorf("unexpected first frame %q", frame.Type)
	}
	if err := json.Unmarshal(frame.Data, &b.welcome); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad connected frame")
		return nil, fmt.Errorf("decode connected frame: %w", err)
	}
	return b, nil
}

// Welcome is the greeting the server sent on connect.
func (b *RemoteBackend) Welcome() string {
	return b.welcome.Welcome
}

func (b *RemoteBackend) Authenticate(ctx context.Context, credential string) error {
	if err := b.write(ctx, ws.TypeAuth, ws.AuthPayload{Credential: credential}); err != nil {
		return err
	}
	_, err := b.await(ctx, ws.TypeReady, nil)
	return err
}

func (b *RemoteBackend) Send(ctx context.Context, message string, onDelta func(string)) (string, error) {
	if err := b.write(ctx, ws.TypeMessage, ws.TextPayload{Text: message}); err != nil {
		return "", err
	}
	frame, err := b.await(ctx, ws.TypeReply, onDelta)
	if err != nil {
		return "", err
	}
	var reply ws.TextData
	if err := json.Unmarshal(frame.Data, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	return reply.Text, nil
}

func (b *RemoteBackend) Clear(ctx context.Context) error {
	if err := b.write(ctx, ws.TypeClear, struct{}{}); err != nil {
		return err
	}
	_, err := b.await(ctx, ws.TypeCleared, nil)
	return err
}

func (b *RemoteBackend) Close() error {
	return b.conn.Close(websocket.StatusNormalClosure, "")
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (b *RemoteBackend) write(ctx context.Context, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, b.conn, ws.InboundMessage{Type: kind, Data: data})
}

func (b *RemoteBackend) read(ctx context.Context) (inboundFrame, error) {
	var frame inboundFrame
	if err := wsjson.Read(ctx, b.conn, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("read frame: %w", err)
	}
	return frame, nil
}

// await reads frames until want arrives, forwarding deltas on the way.
func (b *RemoteBackend) await(ctx context.Context, want string, onDelta func(string)) (inboundFrame, error) {
	for {
		frame, err := b.read(ctx)
		if err != nil {
			return inboundFrame{}, err
		}

		switch frame.Type {
		case want:
			return frame, nil
		case ws.TypeDelta:
			if onDelta == nil {
				continue
			}
			var delta ws.TextData
			if err := json.Unmarshal(frame.Data, &delta); err == nil {
				onDelta(delta.Text)
			}
		case ws.TypeError:
			var remote ws.ErrorData
			if err := json.Unmarshal(frame.Data, &remote); err != nil {
				return inboundFrame{}, errors.New("server returned an unreadable error frame")
			}
			return inboundFrame{}, &RemoteError{Code: remote.Code, Message: remote.Message}
		}
	}
}
