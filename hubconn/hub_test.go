package hubconn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

// testHub is a minimal JSON hub protocol server.
//
//	Echo(x)      completes with x
//	Fail()       completes with an error
//	Broadcast(x) invokes "message"(x) on the client, then completes
//	Drop()       closes the socket without a close message
//	Close(msg)   sends a close message carrying msg
type testHub struct {
	server *httptest.Server

	negotiateStatus int
	handshakeError  string
	allowReconnect  bool

	connections atomic.Int32
	negotiates  atomic.Int32

	mu    sync.Mutex
	calls []string
}

func newTestHub(t *testing.T, configure func(*testHub)) *testHub {
	t.Helper()
	h := &testHub{negotiateStatus: http.StatusOK}
	if configure != nil {
		configure(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hub/negotiate", h.negotiate)
	mux.HandleFunc("/hub", h.serveSocket)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *testHub) URL() string {
	return h.server.URL + "/hub"
}

func (h *testHub) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *testHub) negotiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Query().Get("negotiateVersion") != "1" {
		http.Error(w, "bad negotiate request", http.StatusBadRequest)
		return
	}
	n := h.negotiates.Add(1)
	if h.negotiateStatus != http.StatusOK {
		http.Error(w, "negotiation refused", h.negotiateStatus)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"connectionId":     fmt.Sprintf("conn-%d", n),
		"connectionToken":  fmt.Sprintf("token-%d", n),
		"negotiateVersion": 1,
		"availableTransports": []map[string]any{
			{"transport": "WebSockets", "transferFormats": []string{"Text", "Binary"}},
		},
	})
}

var upgrader = websocket.Upgrader{}

func (h *testHub) serveSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer socket.Close()
	h.connections.Add(1)

	_, data, err := socket.ReadMessage()
	if err != nil || !bytes.Contains(data, []byte(`"protocol":"json"`)) {
		return
	}
	if h.handshakeError != "" {
		_ = write(socket, map[string]any{"error": h.handshakeError})
		return
	}
	if err := write(socket, map[string]any{}); err != nil {
		return
	}

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			return
		}
		for _, frame := range splitFrames(data) {
			var msg struct {
				Type         int               `json:"type"`
				InvocationID string            `json:"invocationId"`
				Target       string            `json:"target"`
				Arguments    []json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(frame, &msg); err != nil || msg.Type != typeInvocation {
				continue
			}
			h.mu.Lock()
			h.calls = append(h.calls, msg.Target)
			h.mu.Unlock()

			if !h.handle(socket, msg.InvocationID, msg.Target, msg.Arguments) {
				return
			}
		}
	}
}

// handle answers one invocation and reports whether the socket stays open.
func (h *testHub) handle(socket *websocket.Conn, id, target string, args []json.RawMessage) bool {
	complete := func(result json.RawMessage, errText string) bool {
		if id == "" {
			return true
		}
		msg := map[string]any{"type": typeCompletion, "invocationId": id}
		if errText != "" {
			msg["error"] = errText
		} else if result != nil {
			msg["result"] = result
		}
		return write(socket, msg) == nil
	}

	switch target {
	case "Echo":
		if len(args) == 0 {
			return complete(nil, "")
		}
		return complete(args[0], "")
	case "Fail":
		return complete(nil, "method failed")
	case "Broadcast":
		if err := write(socket, map[string]any{"type": typeInvocation, "target": "Message", "arguments": args}); err != nil {
			return false
		}
		return complete(nil, "")
	case "Drop":
		return false
	case "Close":
		var reason string
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &reason)
		}
		_ = write(socket, map[string]any{"type": typeClose, "error": reason, "allowReconnect": h.allowReconnect})
		return false
	default:
		return complete(nil, fmt.Sprintf("unknown method %s", target))
	}
}

func write(socket *websocket.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return socket.WriteMessage(websocket.TextMessage, append(data, recordSeparator))
}
