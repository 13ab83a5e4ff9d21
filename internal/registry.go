package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// 系統設計問題：
//   如何在併發連接下保持「每個房間最多兩人」的不變量？
//
// 核心挑戰：
//   1. 分配與加入之間存在競態窗口：分配時觀察到有空位，
//      加入時空位可能已被搶走
//   2. 廢棄房間回收：人數歸零的房間若不移除，映射會無限增長
//   3. 重複離開訊號：傳輸層可能送出多次關閉通知
//
// 設計方案：
//   ✅ 單一 RWMutex - 檢查容量與寫入成員在同一臨界區完成
//   ✅ AllocateRoomFor 諮詢性讀取 - 權威檢查留給 JoinRoom
//   ✅ 離開即回收 - 人數歸零立刻刪除房間記錄
//   ✅ 冪等離開 - 重複離開視為成功的空操作

// ErrRoomFull 房間已滿
//
// 內部錯誤：觸發一次重新分配，不會以失敗形式暴露給客戶端。
var ErrRoomFull = errors.New("房間已滿")

// Registry 房間註冊表
//
// 單一共享的房間狀態權威。映射只包含至少有一名成員的房間；
// 缺少某個鍵代表該房間從未使用或已被完全清空。
type Registry struct {
	rooms          map[string]*Room
	overflowPrefix string
	mu             sync.RWMutex
	logger         *slog.Logger
}

// NewRegistry 創建房間註冊表
//
// overflowPrefix 決定溢出房間的命名（<prefix>_1、<prefix>_2、...）。
func NewRegistry(overflowPrefix string, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:          make(map[string]*Room),
		overflowPrefix: overflowPrefix,
		logger:         logger,
	}
}

// AllocateRoomFor 為連接決定目標房間（純決策，無副作用）
//
// 請求的房間有空位（包括「房間未知」，佔用數為 0）時直接返回；
// 已滿時掃描溢出序列，返回第一個有空位的房間。
// 掃描必然終止：從未使用過的編號佔用數為 0。
//
// 返回的房間只保證在檢查的瞬間有空位，調用方仍需透過 JoinRoom
// 實際佔位；競態由 JoinRoom 的原子檢查兜底。
func (reg *Registry) AllocateRoomFor(requested string) string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	if reg.occupancyLocked(requested) < RoomCapacity {
		return requested
	}

	for n := 1; ; n++ {
		id := fmt.Sprintf("%s_%d", reg.overflowPrefix, n)
		if reg.occupancyLocked(id) < RoomCapacity {
			return id
		}
	}
}

// JoinRoom 加入房間
//
// 檢查容量與寫入成員在同一臨界區內完成：兩個併發連接
// 不可能同時觀察到人數為 1 而都成功加入。房間記錄不存在時
// 延遲創建。返回加入後的人數（1 或 2）。
func (reg *Registry) JoinRoom(roomID string, m *Member) (int, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, exists := reg.rooms[roomID]
	if exists && room.full() {
		return room.occupancy(), ErrRoomFull
	}

	if !exists {
		room = newRoom(roomID)
		reg.rooms[roomID] = room
		reg.logger.Debug("房間已創建", "room_id", roomID)
	}

	room.add(m)

	reg.logger.Info("成員加入房間",
		"room_id", roomID,
		"conn_id", m.ConnID,
		"user_id", m.UserID,
		"occupancy", room.occupancy())

	return room.occupancy(), nil
}

// LeaveRoom 離開房間
//
// 冪等操作：房間不存在或成員不在房間內都是空操作，
// 不是錯誤（容忍傳輸層的重複關閉訊號）。人數歸零時
// 刪除整個房間記錄，防止廢棄房間無限增長。
func (reg *Registry) LeaveRoom(roomID, connID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return
	}

	if !room.remove(connID) {
		return
	}

	reg.logger.Info("成員離開房間",
		"room_id", roomID,
		"conn_id", connID,
		"occupancy", room.occupancy())

	if room.occupancy() == 0 {
		delete(reg.rooms, roomID)
		reg.logger.Debug("房間已清空並移除", "room_id", roomID)
	}
}

// Occupancy 查詢房間人數（未知房間為 0）
func (reg *Registry) Occupancy(roomID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.occupancyLocked(roomID)
}

// OtherMember 返回房間內連接識別碼不同的另一位成員
//
// 容量上限為 2，「對手」定義明確；房間人數 ≤ 1 時返回 false。
func (reg *Registry) OtherMember(roomID, connID string) (*Member, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return nil, false
	}

	other := room.other(connID)
	if other == nil {
		return nil, false
	}
	return other, true
}

// Members 獲取房間成員快照（依加入順序）
func (reg *Registry) Members(roomID string) []*Member {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, exists := reg.rooms[roomID]
	if !exists {
		return nil
	}

	snapshot := make([]*Member, len(room.members))
	copy(snapshot, room.members)
	return snapshot
}

// RoomInfo 房間摘要（供查詢 API 使用）
type RoomInfo struct {
	ID        string   `json:"room_id"`
	Occupancy int      `json:"occupancy"`
	UserIDs   []string `json:"user_ids"`
}

// ListRooms 列出所有活躍房間（依房間 ID 排序）
func (reg *Registry) ListRooms() []RoomInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	result := make([]RoomInfo, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		userIDs := make([]string, 0, len(room.members))
		for _, m := range room.members {
			userIDs = append(userIDs, m.UserID)
		}
		result = append(result, RoomInfo{
			ID:        room.ID,
			Occupancy: room.occupancy(),
			UserIDs:   userIDs,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// Stats 獲取統計資訊
func (reg *Registry) Stats() map[string]any {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	totalMembers := 0
	availableRooms := 0
	for _, room := range reg.rooms {
		totalMembers += room.occupancy()
		if !room.full() {
			availableRooms++
		}
	}

	return map[string]any{
		"total_rooms":     len(reg.rooms),
		"total_members":   totalMembers,
		"available_rooms": availableRooms,
	}
}

// occupancyLocked 查詢人數（調用方需持有鎖）
func (reg *Registry) occupancyLocked(roomID string) int {
	if room, exists := reg.rooms[roomID]; exists {
		return room.occupancy()
	}
	return 0
}
