package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把一條 WebSocket 連接上的訊息流，安全地分發到共享的遊戲狀態？
//
// 核心挑戰：
//   1. 每條連接一個讀取任務，共享狀態（遊戲、目錄）被並發觸碰
//   2. 廣播不能被慢客戶端拖住（fire-and-forget）
//   3. 斷線清理必須恰好一次，且與顯式 leave_game 冪等
//
// 設計方案：
//   - 讀寫泵分離：readPump 解碼與分發，writePump 序列化所有寫出
//   - 緩衝 send channel：非阻塞投遞，滿了就丟
//   - Ping/Pong 心跳（54s/60s）檢測死連接
//   - 封閉的訊息類型 switch：未知類型記錄後丟棄

const (
	// writeWait 單次寫出的期限
	writeWait = 10 * time.Second

	// pongWait 未收到任何訊息（含 Pong）即視為死連接
	pongWait = 60 * time.Second

	// pingPeriod Ping 間隔，必須小於 pongWait
	pingPeriod = 54 * time.Second

	// sendBufferSize 每條連接的出站緩衝
	sendBufferSize = 256
)

// Hub WebSocket 接入層
//
// Hub 本身不持有連接註冊表：傳輸句柄在 create/join 時交給 Game 保管，
// 廣播由 Game 沿成員表投遞。Hub 只負責升級、分發與斷線清理。
type Hub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub 創建 WebSocket 接入層
func NewHub(manager *Manager, logger *slog.Logger) *Hub {
	return &Hub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 客戶端來自原生 App，不做來源檢查
				return true
			},
		},
	}
}

// ServeWS 處理 WebSocket 升級，為每條連接啟動讀寫泵
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	go client.writePump()
	go client.readPump()

	hub.logger.Info("新客戶端連接", "remote", conn.RemoteAddr().String())
}

// Client 單一 WebSocket 連接
//
// 實現 Sender 介面：Game 透過它投遞出站訊息。
// playerID / gameID 在 create_game / join_game 成功後綁定，
// 斷線時據此補做一次離開。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	playerID string
	gameID   string
	closed   bool

	closeOnce sync.Once
}

// Send 非阻塞投遞；已關閉或緩衝滿時丟棄並回傳 false
func (c *Client) Send(message []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- message:
		return true
	default:
		// 慢客戶端：丟棄而非阻塞，避免拖累同房間的其他玩家
		return false
	}
}

// IsOpen 查詢底層傳輸是否仍可用
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// close 標記關閉並釋放底層連接（恰好一次）
//
// send channel 不關閉：writePump 以 done 收尾，
// 避免與併發的 Send 產生 send-on-closed-channel
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// bind 綁定連接所屬的玩家與遊戲
func (c *Client) bind(playerID, gameID string) {
	c.mu.Lock()
	c.playerID = playerID
	c.gameID = gameID
	c.mu.Unlock()
}

// unbind 清除綁定，回傳清除前的值
func (c *Client) unbind() (playerID, gameID string) {
	c.mu.Lock()
	playerID, gameID = c.playerID, c.gameID
	c.playerID, c.gameID = "", ""
	c.mu.Unlock()
	return playerID, gameID
}

// readPump 讀取並分發入站訊息
//
// 讀取失敗（斷線、超時）即退出；退出時補做一次離開並釋放連接。
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 序列化所有寫出，並定期發送 Ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 順帶送出隊列中已累積的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			deadline := time.Now().Add(time.Second)
			if err := c.conn.SetWriteDeadline(deadline); err == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

// handleMessage 解碼信封並按類型分發
//
// 信封解析失敗回覆 Invalid message format，不改任何狀態，連接保持開啟。
func (c *Client) handleMessage(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.hub.logger.Warn("解析訊息失敗", "error", err)
		c.Send(newErrorMessage(ErrMsgInvalidFormat))
		return
	}

	switch msg.Type {
	case TypeCreateGame:
		c.hub.handleCreateGame(c, msg)
	case TypeJoinGame:
		c.hub.handleJoinGame(c, msg)
	case TypeLeaveGame:
		c.hub.handleLeaveGame(c, msg)
	case TypePlayerMove:
		c.hub.handlePlayerMove(c, msg)
	case TypeGameEvent:
		c.hub.handleGameEvent(c, msg)
	case TypePing:
		c.Send(newPongMessage())
	default:
		c.hub.logger.Debug("未知訊息類型", "type", msg.Type)
	}
}

// handleCreateGame 創建遊戲，回覆 game_created 與初始大廳快照
func (hub *Hub) handleCreateGame(c *Client, msg Message) {
	game := hub.manager.CreateGame(msg.PlayerID, msg.PlayerName, c)
	c.bind(msg.PlayerID, game.ID)

	reply, err := newMessage(TypeGameCreated, game.ID, msg.PlayerID, msg.PlayerName, game.LobbyState())
	if err != nil {
		hub.logger.Error("序列化大廳快照失敗", "game_id", game.ID, "error", err)
		return
	}
	c.Send(reply)
}

// handleJoinGame 加入遊戲
//
// 成功：向加入者回覆 game_joined，向其他成員廣播 player_joined，
// 人數到 2 且未開始時排程自動開始。
// 失敗：按哨兵錯誤回覆 Game not found / Game is full，不改狀態。
func (hub *Hub) handleJoinGame(c *Client, msg Message) {
	game, err := hub.manager.JoinGame(msg.GameID, msg.PlayerID, msg.PlayerName, c)
	switch {
	case errors.Is(err, ErrGameNotFound):
		c.Send(newErrorMessage(ErrMsgGameNotFound))
		return
	case errors.Is(err, ErrGameFull):
		c.Send(newErrorMessage(ErrMsgGameFull))
		return
	case err != nil:
		hub.logger.Error("加入遊戲失敗", "game_id", msg.GameID, "error", err)
		return
	}

	c.bind(msg.PlayerID, game.ID)

	lobby := game.LobbyState()

	joined, err := newMessage(TypeGameJoined, game.ID, msg.PlayerID, msg.PlayerName, lobby)
	if err != nil {
		hub.logger.Error("序列化大廳快照失敗", "game_id", game.ID, "error", err)
		return
	}
	c.Send(joined)

	notify, err := newMessage(TypePlayerJoined, game.ID, msg.PlayerID, msg.PlayerName, lobby)
	if err == nil {
		game.Broadcast(notify, msg.PlayerID)
	}

	if game.PlayerCount() >= MinPlayersToStart && !game.Started() {
		hub.manager.ScheduleStart(game.ID)
	}
}

// handleLeaveGame 離開遊戲，向剩餘成員廣播 player_left
//
// 遊戲不存在時靜默返回，協議對此不定義回覆。
func (hub *Hub) handleLeaveGame(c *Client, msg Message) {
	game, err := hub.manager.GetGame(msg.GameID)
	if err != nil {
		return
	}

	hub.manager.LeaveGame(msg.GameID, msg.PlayerID)
	c.unbind()

	notify, err := newMessage(TypePlayerLeft, msg.GameID, msg.PlayerID, "", game.LobbyState())
	if err != nil {
		hub.logger.Error("序列化大廳快照失敗", "game_id", msg.GameID, "error", err)
		return
	}
	game.Broadcast(notify, "")
}

// handlePlayerMove 更新位置並向其他成員原樣轉發
//
// 遊戲不存在或尚未開始時靜默丟棄（視為競態而非錯誤）。
func (hub *Hub) handlePlayerMove(c *Client, msg Message) {
	game, err := hub.manager.GetGame(msg.GameID)
	if err != nil || !game.Started() {
		return
	}

	var move MoveData
	if err := json.Unmarshal(msg.Data, &move); err != nil {
		c.Send(newErrorMessage(ErrMsgInvalidFormat))
		return
	}

	game.UpdatePosition(msg.PlayerID, move.Position, move.Velocity, move.Rotation)

	relay, err := newRelayMessage(TypePlayerMove, msg.GameID, msg.PlayerID, msg.Data)
	if err != nil {
		return
	}
	game.Broadcast(relay, msg.PlayerID)
}

// handleGameEvent 套用事件並向其他成員原樣轉發
//
// 遊戲不存在時靜默丟棄。
func (hub *Hub) handleGameEvent(c *Client, msg Message) {
	game, err := hub.manager.GetGame(msg.GameID)
	if err != nil {
		return
	}

	var event EventData
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.Send(newErrorMessage(ErrMsgInvalidFormat))
		return
	}

	game.ApplyEvent(msg.PlayerID, event)

	relay, err := newRelayMessage(TypeGameEvent, msg.GameID, msg.PlayerID, msg.Data)
	if err != nil {
		return
	}
	game.Broadcast(relay, msg.PlayerID)
}

// handleDisconnect 傳輸關閉時補做一次 leave_game
//
// 與顯式 leave_game 冪等：綁定已被清除就什麼都不做，
// 否則移除玩家、必要時回收空遊戲、通知剩餘成員。
func (hub *Hub) handleDisconnect(c *Client) {
	playerID, gameID := c.unbind()
	if gameID == "" {
		return
	}

	game, err := hub.manager.GetGame(gameID)
	hub.manager.LeaveGame(gameID, playerID)

	hub.logger.Info("客戶端斷線",
		"game_id", gameID,
		"player_id", playerID)

	if err != nil {
		return
	}
	notify, err := newMessage(TypePlayerLeft, gameID, playerID, "", game.LobbyState())
	if err != nil {
		return
	}
	game.Broadcast(notify, "")
}
