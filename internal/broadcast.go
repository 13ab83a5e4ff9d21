package internal

import (
	"encoding/json"
	"log/slog"
)

// Router 事件投遞器
//
// 取代對外部 pub/sub 管道的依賴：成員名單由 Registry 持有，
// 廣播就是對名單的顯式迭代。投遞是 fire-and-forget —
// 任何操作都不等待送達確認。
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter 創建事件投遞器
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
	}
}

// BroadcastToRoom 廣播事件給房間內所有成員（依加入順序）
//
// 序列化只做一次。投遞到已關閉或緩衝區已滿的成員不會阻塞
// 也不會 panic，只記錄日誌後跳過（慢客戶端不能拖累整個房間）。
func (rt *Router) BroadcastToRoom(roomID string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		rt.logger.Error("序列化事件失敗", "room_id", roomID, "error", err)
		return
	}

	for _, m := range rt.registry.Members(roomID) {
		if !m.deliver(data) {
			rt.logger.Warn("投遞事件失敗，跳過成員",
				"room_id", roomID,
				"conn_id", m.ConnID)
		}
	}
}

// SendTo 單播事件給單一成員
//
// 用於 redirected 通知與心跳轉送。
func (rt *Router) SendTo(m *Member, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		rt.logger.Error("序列化事件失敗", "conn_id", m.ConnID, "error", err)
		return
	}

	if !m.deliver(data) {
		rt.logger.Warn("單播事件失敗", "conn_id", m.ConnID)
	}
}
