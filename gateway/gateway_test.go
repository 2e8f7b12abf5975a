package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skunkforce/node-agnostic-datastream-interface/control"
	"github.com/skunkforce/node-agnostic-datastream-interface/envelope"
	"github.com/skunkforce/node-agnostic-datastream-interface/registry"
	"github.com/skunkforce/node-agnostic-datastream-interface/router"
)

// testStack wires a full graph with the controller at handle 0 and a gateway
// in front of it.
type testStack struct {
	reg     *registry.Registry
	gateway *Gateway
	server  *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	reg := registry.New()
	rt := router.New(reg)
	ctrl := control.New(reg, rt)
	require.NoError(t, reg.CreateContext(ctrl.Receive))
	require.NoError(t, reg.SetDescriptor(envelope.ContextHandle, ctrl.Descriptor()))

	gw := New(reg, rt)
	server := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Close()
		server.Close()
	})

	return &testStack{reg: reg, gateway: gw, server: server}
}

func (s *testStack) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(frame, &reply))
	return reply
}

func TestSessionListsAbstractNodes(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"context.abstract_nodes","id":"q1"}`)))

	reply := readReply(t, conn)
	assert.Equal(t, "context.abstract_nodes.list", reply["type"])
	assert.Equal(t, "q1", reply["id"])
}

func TestSessionNodeAppearsInGraph(t *testing.T) {
	stack := newTestStack(t)
	stack.dial(t)

	require.Eventually(t, func() bool {
		return stack.reg.Count() == 2 // controller + session
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, stack.gateway.SessionCount())
}

func TestInvalidFrameAnsweredLocally(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))

	reply := readReply(t, conn)
	assert.Equal(t, "gateway.error", reply["type"])
	assert.Equal(t, "error", reply["status"])

	// The session is still usable afterwards.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"context.nodes","id":"q2"}`)))
	reply = readReply(t, conn)
	assert.Equal(t, "context.nodes.list", reply["type"])
}

func TestMalformedJSONAnsweredLocally(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not json`)))

	reply := readReply(t, conn)
	assert.Equal(t, "gateway.error", reply["type"])
}

func TestDisconnectDestroysSessionNode(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t)

	require.Eventually(t, func() bool {
		return stack.reg.Count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool {
		return stack.reg.Count() == 1 && stack.gateway.SessionCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCloseRefusesNewConnections(t *testing.T) {
	stack := newTestStack(t)
	require.NoError(t, stack.gateway.Close())

	wsURL := "ws" + strings.TrimPrefix(stack.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}
}
