// Package boxrelay 提供了一個雙人對戰的配對與訊息轉發服務器。
//
// 實現了一個基於 WebSocket 的即時配對系統，每個房間最多容納兩名玩家，
// 玩家之間透過小型結構化的移動訊息進行對戰交流。
//
// 配對協議
//
// 連接到達時的房間分配規則：
//   - 請求的房間未滿（人數 < 2）→ 直接加入，並向房間廣播最新人數
//   - 請求的房間已滿 → 掃描溢出房間序列（game_1、game_2、...），
//     加入第一個有空位的房間，並單播 redirected 事件通知客戶端
//   - 房間人數歸零時立即從註冊表移除，避免廢棄房間無限增長
//
// 併發安全設計
//
// 所有房間狀態由單一 Registry 持有：
//   - 讀寫鎖保護房間映射與成員名單
//   - 加入操作在單一臨界區內完成「檢查容量 + 寫入成員」，
//     杜絕兩個併發連接同時觀察到人數為 1 而擠進同一房間的競態
//   - 分配（AllocateRoomFor）是諮詢性讀取，輸掉競態的連接會重試一次分配
//
// 訊息協議
//
// 入站訊息在邊界解碼一次，分派為明確的變體：
//   - 移動訊息 {boxId, move} → 廣播給房間內所有成員（含發送者）
//   - 哨兵對 ("no move","no move") → 心跳訊號，只轉送給對手，
//     沒有對手時靜默丟棄
//   - 格式錯誤 → 記錄日誌後丟棄，連接保持開啟
//
// 架構設計
//
// 系統採用分層架構：
//   - Registry 層：房間分配、成員管理、佔用數查詢
//   - Router 層：房間廣播與單播投遞
//   - Hub/Client 層：WebSocket 連接生命週期與訊息分派
//   - Handler 層：健康檢查與房間查詢 API
//
// 每層透過注入的依賴交互，便於測試與擴展。
//
// 使用範例
//
// 啟動服務器：
//
//	registry := internal.NewRegistry("game", logger)
//	router := internal.NewRouter(registry, logger)
//	hub := internal.NewHub(registry, router, logger)
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/ws/game/{room_name}", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
//
// 客戶端連接：
//
//	ws://localhost:8080/ws/game/g1?user_id=alice
package boxrelay
