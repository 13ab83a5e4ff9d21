package internal

import (
	"sync"

	"github.com/google/uuid"
)

// RoomCapacity 每個房間的最大成員數。
// 配對系統以雙人對戰為前提，容量固定為 2。
const RoomCapacity = 2

// sendBufferSize 成員發送通道的緩衝大小
const sendBufferSize = 256

// Member 房間成員
//
// ConnID 是連接級別的不透明識別碼，只用於投遞與身份比較；
// UserID 由調用方提供，允許為空。
type Member struct {
	ConnID string
	UserID string
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

// NewMember 創建成員，為連接生成唯一識別碼
func NewMember(userID string) *Member {
	return &Member{
		ConnID: uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, sendBufferSize),
	}
}

// deliver 非阻塞投遞
//
// 投遞到已關閉的成員不會 panic：關閉狀態由 mu 保護，
// 與 closeSend 互斥。緩衝區滿時返回 false，由調用方記錄日誌。
func (m *Member) deliver(data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	select {
	case m.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend 關閉發送通道（只會生效一次）
func (m *Member) closeSend() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.Send)
}

// Room 配對房間
//
// 成員依加入順序排列，順序決定「對手」（另一位成員）。
// 所有讀寫都必須在 Registry 的鎖保護下進行，
// Room 本身不持有鎖（避免雙層鎖的死鎖風險）。
type Room struct {
	ID      string
	members []*Member
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make([]*Member, 0, RoomCapacity),
	}
}

// add 加入成員（調用方需保證未滿）
func (r *Room) add(m *Member) {
	r.members = append(r.members, m)
}

// remove 移除成員，返回是否實際移除
func (r *Room) remove(connID string) bool {
	for i, m := range r.members {
		if m.ConnID == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// other 返回連接識別碼不同的另一位成員
func (r *Room) other(connID string) *Member {
	for _, m := range r.members {
		if m.ConnID != connID {
			return m
		}
	}
	return nil
}

func (r *Room) occupancy() int {
	return len(r.members)
}

func (r *Room) full() bool {
	return len(r.members) >= RoomCapacity
}
