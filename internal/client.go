package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把每個 WebSocket 連接安全地接進配對協議？
//
// 核心挑戰：
//   1. 連接生命週期：CONNECTING → JOINED → CLOSED，不支援斷線重連
//   2. 競態兜底：分配時有空位，加入時被搶走（ErrRoomFull）
//   3. 清理保證：連接中途死亡也必須恰好執行一次 LeaveRoom
//   4. 心跳機制：檢測死連接（54s Ping / 60s 讀取超時）
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有連接（參與優雅關閉）
//   ✅ 加入失敗重試一次分配 - 絕不把連接塞進已滿的房間
//   ✅ defer + sync.Once - 每條退出路徑都觸發且只觸發一次離開
//   ✅ 緩衝 channel - 異步發送（不阻塞協議邏輯）

const (
	// writeWait 寫入單一訊息的超時
	writeWait = 10 * time.Second
	// pongWait 讀取超時：這段時間內沒有任何訊息（含 Pong）就關閉連接
	pongWait = 60 * time.Second
	// pingPeriod Ping 間隔，必須小於 pongWait（留余量給網絡延遲）
	pingPeriod = 54 * time.Second
)

// Hub WebSocket 連接中心
type Hub struct {
	registry *Registry
	router   *Router
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*Client // connID -> Client
}

// NewHub 創建 WebSocket Hub
func NewHub(registry *Registry, router *Router, logger *slog.Logger) *Hub {
	return &Hub{
		registry: registry,
		router:   router,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*Client),
	}
}

// Client 單一 WebSocket 連接的處理器
type Client struct {
	member *Member
	roomID string
	conn   *websocket.Conn
	hub    *Hub

	leaveOnce sync.Once
}

// ServeWS 處理 WebSocket 連接
//
// 路徑攜帶請求的房間名稱，查詢參數攜帶用戶 ID（允許缺失）。
// 升級成功後先完成配對，再啟動讀寫 goroutine。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_name")
	if roomID == "" {
		http.Error(w, "缺少房間名稱", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &Client{
		member: NewMember(userID),
		conn:   conn,
		hub:    hub,
	}

	if err := client.join(roomID); err != nil {
		hub.logger.Error("加入房間失敗",
			"requested", roomID,
			"user_id", userID,
			"error", err)
		conn.Close()
		return
	}

	hub.register(client)

	go client.writePump()
	go client.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"room_id", client.roomID,
		"conn_id", client.member.ConnID,
		"user_id", userID)
}

// join 決定連接實際進入的房間
//
// 配對流程：
//  1. 查詢請求房間的人數（諮詢性讀取）
//  2. 已滿 → 分配替代房間，加入後單播 redirected 通知
//  3. 未滿 → 直接加入，成功後向整個房間廣播最新人數
//  4. 直接加入輸掉競態（ErrRoomFull）時重新分配一次，視同導向
func (c *Client) join(requested string) error {
	if c.hub.registry.Occupancy(requested) >= RoomCapacity {
		return c.joinAlternate(requested)
	}

	count, err := c.hub.registry.JoinRoom(requested, c.member)
	if errors.Is(err, ErrRoomFull) {
		// 分配與加入之間的競態窗口：輸掉的連接重新分配，
		// 絕不接受進入已滿的房間
		return c.joinAlternate(requested)
	}
	if err != nil {
		return err
	}

	c.roomID = requested
	c.hub.router.BroadcastToRoom(requested, OccupancyEvent{
		Type:  EventOccupancy,
		Count: count,
	})
	return nil
}

// joinAlternate 加入替代房間並通知客戶端已被導向
func (c *Client) joinAlternate(requested string) error {
	for attempt := 0; attempt < 2; attempt++ {
		alternate := c.hub.registry.AllocateRoomFor(requested)

		_, err := c.hub.registry.JoinRoom(alternate, c.member)
		if errors.Is(err, ErrRoomFull) {
			continue
		}
		if err != nil {
			return err
		}

		c.roomID = alternate
		c.hub.router.SendTo(c.member, RedirectedEvent{
			Type:   EventRedirected,
			RoomID: alternate,
			UserID: c.member.UserID,
		})

		c.hub.logger.Info("連接已導向替代房間",
			"requested", requested,
			"room_id", alternate,
			"user_id", c.member.UserID)
		return nil
	}

	return fmt.Errorf("重試分配後仍無法加入替代房間: %w", ErrRoomFull)
}

// leave 離開房間（每條退出路徑都會調用，只生效一次）
func (c *Client) leave() {
	c.leaveOnce.Do(func() {
		c.hub.registry.LeaveRoom(c.roomID, c.member.ConnID)
		c.hub.unregister(c)

		c.hub.logger.Info("WebSocket 連接關閉",
			"room_id", c.roomID,
			"conn_id", c.member.ConnID)
	})
}

// readPump 讀取客戶端訊息
//
// 心跳機制（讀取端）：60 秒內沒有收到任何訊息（包括 Pong）
// 就關閉連接，配合 writePump 的 54 秒 Ping。
func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.conn.Close()
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"room_id", c.roomID,
					"conn_id", c.member.ConnID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 心跳機制（發送端）：每 54 秒發送一次 Ping，
// 避開常見代理服務器的 60 秒超時閾值。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.member.Send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(c.member.Send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.member.Send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端訊息
//
// 依解碼後的變體分派：
//   - 格式錯誤 → 記錄日誌後丟棄，連接保持開啟
//   - 心跳 → 只轉送給對手，沒有對手時靜默丟棄
//   - 移動 → 廣播給房間內所有成員（含發送者）
func (c *Client) handleMessage(data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		c.hub.logger.Warn("無效的訊息格式",
			"room_id", c.roomID,
			"conn_id", c.member.ConnID,
			"error", err)
		return
	}

	switch msg.Kind {
	case KindHeartbeat:
		other, ok := c.hub.registry.OtherMember(c.roomID, c.member.ConnID)
		if !ok {
			return
		}
		c.hub.router.SendTo(other, MoveEvent{
			Type:  EventMove,
			BoxID: noMoveSentinel,
			Move:  noMoveSentinel,
		})

	case KindMove:
		c.hub.router.BroadcastToRoom(c.roomID, MoveEvent{
			Type:   EventMove,
			BoxID:  msg.BoxID,
			Move:   msg.Move,
			UserID: c.member.UserID,
		})
	}
}

// register 註冊連接
func (hub *Hub) register(c *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[c.member.ConnID] = c
}

// unregister 取消註冊連接並關閉發送通道
func (hub *Hub) unregister(c *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.clients[c.member.ConnID]; exists {
		delete(hub.clients, c.member.ConnID)
	}
	c.member.closeSend()
}

// ConnectionCount 獲取當前連接數
func (hub *Hub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.clients)
}

// Stop 停止 Hub，關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	clients := make([]*Client, 0, len(hub.clients))
	for _, c := range hub.clients {
		clients = append(clients, c)
	}
	hub.clients = make(map[string]*Client)
	hub.mu.Unlock()

	for _, c := range clients {
		c.member.closeSend()
		c.conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止")
}
