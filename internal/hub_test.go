package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/box-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub 啟動一個掛載了 WebSocket 路由的測試服務器
func newTestHub(t *testing.T) (*httptest.Server, *internal.Registry) {
	t.Helper()

	logger := testLogger()
	registry := internal.NewRegistry("game", logger)
	router := internal.NewRouter(registry, logger)
	hub := internal.NewHub(registry, router, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/game/{room_name}", hub.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
	})

	return srv, registry
}

// dial 建立 WebSocket 連接
func dial(t *testing.T, srv *httptest.Server, room, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game/" + room
	if userID != "" {
		url += "?user_id=" + userID
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

// readEvent 讀取一個出站事件
func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

// expectNoEvent 在給定時間內不應收到任何事件
//
// 注意：超時後連接不可再讀，只在測試尾聲使用。
func expectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

// TestHub_EndToEndPairing 端到端配對流程
//
// A 連到 g1（人數 1，不導向）；B 連到 g1（人數 2，雙方收到人數更新）；
// C 連到 g1 → 被導向 game_1 並收到 redirected 事件。
func TestHub_EndToEndPairing(t *testing.T) {
	srv, registry := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	event := readEvent(t, connA)
	assert.Equal(t, "occupancy", event["type"])
	assert.EqualValues(t, 1, event["count"])

	connB := dial(t, srv, "g1", "bob")
	event = readEvent(t, connB)
	assert.Equal(t, "occupancy", event["type"])
	assert.EqualValues(t, 2, event["count"])

	// 先加入的成員也收到人數更新
	event = readEvent(t, connA)
	assert.Equal(t, "occupancy", event["type"])
	assert.EqualValues(t, 2, event["count"])

	connC := dial(t, srv, "g1", "carol")
	event = readEvent(t, connC)
	assert.Equal(t, "redirected", event["type"])
	assert.Equal(t, "game_1", event["roomId"])
	assert.Equal(t, "carol", event["userId"])

	assert.Equal(t, 2, registry.Occupancy("g1"))
	assert.Equal(t, 1, registry.Occupancy("game_1"))
}

// TestHub_MoveBroadcast 移動訊息廣播給雙方（含發送者）
func TestHub_MoveBroadcast(t *testing.T) {
	srv, _ := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	readEvent(t, connA) // occupancy 1

	connB := dial(t, srv, "g1", "bob")
	readEvent(t, connB) // occupancy 2
	readEvent(t, connA) // occupancy 2

	require.NoError(t, connA.WriteJSON(map[string]string{
		"boxId": "b1",
		"move":  "up",
	}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		event := readEvent(t, conn)
		assert.Equal(t, "move", event["type"])
		assert.Equal(t, "b1", event["boxId"])
		assert.Equal(t, "up", event["move"])
		assert.Equal(t, "alice", event["userId"])
	}
}

// TestHub_HeartbeatIsolation 心跳只送達對手，不回送給發送者
func TestHub_HeartbeatIsolation(t *testing.T) {
	srv, _ := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	readEvent(t, connA) // occupancy 1

	connB := dial(t, srv, "g1", "bob")
	readEvent(t, connB) // occupancy 2
	readEvent(t, connA) // occupancy 2

	require.NoError(t, connA.WriteJSON(map[string]string{
		"boxId": "no move",
		"move":  "no move",
	}))

	event := readEvent(t, connB)
	assert.Equal(t, "move", event["type"])
	assert.Equal(t, "no move", event["boxId"])
	assert.Equal(t, "no move", event["move"])
	_, hasUserID := event["userId"]
	assert.False(t, hasUserID)

	// 發送者零事件
	expectNoEvent(t, connA, 300*time.Millisecond)
}

// TestHub_HeartbeatAloneDropped 沒有對手時心跳被靜默丟棄
func TestHub_HeartbeatAloneDropped(t *testing.T) {
	srv, _ := newTestHub(t)

	connA := dial(t, srv, "solo", "alice")
	readEvent(t, connA) // occupancy 1

	require.NoError(t, connA.WriteJSON(map[string]string{
		"boxId": "no move",
		"move":  "no move",
	}))

	// 連接保持開啟：後續的移動訊息照常回到發送者
	require.NoError(t, connA.WriteJSON(map[string]string{
		"boxId": "b1",
		"move":  "up",
	}))

	event := readEvent(t, connA)
	assert.Equal(t, "move", event["type"])
	assert.Equal(t, "b1", event["boxId"])
}

// TestHub_MalformedMessageDropped 格式錯誤的訊息被丟棄，連接不中斷
func TestHub_MalformedMessageDropped(t *testing.T) {
	srv, _ := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	readEvent(t, connA) // occupancy 1

	// 無效 JSON 與缺欄位的訊息都不會觸發廣播或斷線
	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, connA.WriteJSON(map[string]string{"boxId": "b1"}))

	require.NoError(t, connA.WriteJSON(map[string]string{
		"boxId": "b2",
		"move":  "down",
	}))

	event := readEvent(t, connA)
	assert.Equal(t, "b2", event["boxId"])
}

// TestHub_DisconnectReleasesSlot 斷線釋放空位，空位可被重用
func TestHub_DisconnectReleasesSlot(t *testing.T) {
	srv, registry := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	readEvent(t, connA) // occupancy 1

	connB := dial(t, srv, "g1", "bob")
	readEvent(t, connB) // occupancy 2
	readEvent(t, connA) // occupancy 2

	require.NoError(t, connB.Close())

	require.Eventually(t, func() bool {
		return registry.Occupancy("g1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 空出的位置可以直接加入，不會被導向
	connC := dial(t, srv, "g1", "carol")
	event := readEvent(t, connC)
	assert.Equal(t, "occupancy", event["type"])
	assert.EqualValues(t, 2, event["count"])
}

// TestHub_RoomVacatedOnAllDisconnect 全員斷線後房間被回收
func TestHub_RoomVacatedOnAllDisconnect(t *testing.T) {
	srv, registry := newTestHub(t)

	connA := dial(t, srv, "g1", "alice")
	readEvent(t, connA)

	require.NoError(t, connA.Close())

	require.Eventually(t, func() bool {
		return registry.Stats()["total_rooms"] == 0
	}, 2*time.Second, 10*time.Millisecond)
}
