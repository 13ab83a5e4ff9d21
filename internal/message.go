package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// noMoveSentinel 哨兵值
//
// (boxId, move) 兩個欄位同時為 "no move" 代表心跳訊號：
// 只轉送給對手，不廣播給整個房間，也不回送給發送者。
const noMoveSentinel = "no move"

// ErrMalformedMessage 無效的訊息格式
//
// 協議層面靜默丟棄（只透過日誌可觀察），不會回報給任何客戶端。
var ErrMalformedMessage = errors.New("無效的訊息格式")

// InboundKind 入站訊息變體
//
// 入站訊息在邊界解碼一次，下游邏輯依變體標籤分派，
// 不需要重複比對字串。
type InboundKind int

const (
	// KindMove 一般移動訊息，廣播給房間內所有成員
	KindMove InboundKind = iota
	// KindHeartbeat 心跳訊號，只轉送給對手
	KindHeartbeat
)

// Inbound 解碼後的入站訊息
type Inbound struct {
	Kind  InboundKind
	BoxID string
	Move  string
}

// ParseInbound 解碼入站訊息
//
// 兩個欄位缺一（缺失或為空字串）即視為格式錯誤；
// 哨兵對被識別為獨立的心跳變體。
func ParseInbound(data []byte) (Inbound, error) {
	var raw struct {
		BoxID *string `json:"boxId"`
		Move  *string `json:"move"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if raw.BoxID == nil || *raw.BoxID == "" || raw.Move == nil || *raw.Move == "" {
		return Inbound{}, ErrMalformedMessage
	}

	if *raw.BoxID == noMoveSentinel && *raw.Move == noMoveSentinel {
		return Inbound{Kind: KindHeartbeat, BoxID: noMoveSentinel, Move: noMoveSentinel}, nil
	}

	return Inbound{Kind: KindMove, BoxID: *raw.BoxID, Move: *raw.Move}, nil
}

// 出站事件類型
const (
	EventRedirected = "redirected"
	EventOccupancy  = "occupancy"
	EventMove       = "move"
)

// RedirectedEvent 一次性通知：連接已被導向替代房間
type RedirectedEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// OccupancyEvent 房間人數更新，廣播給所有成員（含剛加入者）
type OccupancyEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// MoveEvent 移動訊息
//
// 廣播時帶發送者的 UserID；心跳轉送時兩個欄位都是哨兵值，
// 不帶 UserID。
type MoveEvent struct {
	Type   string `json:"type"`
	BoxID  string `json:"boxId"`
	Move   string `json:"move"`
	UserID string `json:"userId,omitempty"`
}
