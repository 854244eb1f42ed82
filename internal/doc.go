// Package internal 實現一個多人飛行遊戲的中繼服務器。
//
// 服務器透過單一 WebSocket 端點接受連接，以 JSON 文本幀通訊。
// 客戶端創建或加入遊戲房間（上限 4 人），位置更新與遊戲事件
// 由服務器轉發給同房間的其他成員；房間在人數到達 2 人並經過
// 固定延遲後自動開始。
//
// 分層：
//   - Game：單一房間的成員與狀態（位置、分數、存活、配色）
//   - Manager：房間目錄（創建、查詢、回收、自動開始排程）
//   - Hub / Client：WebSocket 升級、讀寫泵與訊息分發
//
// 所有狀態都在進程內存中，重啟即清空；跨進程擴展不在本服務器
// 的設計範圍內。
package internal
