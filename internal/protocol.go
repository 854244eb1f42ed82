package internal

import (
	"encoding/json"
	"time"
)

// 客戶端 → 服務器 的訊息類型
const (
	TypeCreateGame = "create_game"
	TypeJoinGame   = "join_game"
	TypeLeaveGame  = "leave_game"
	TypePlayerMove = "player_move"
	TypeGameEvent  = "game_event"
	TypePing       = "ping"
)

// 服務器 → 客戶端 的訊息類型
// player_move 與 game_event 會以同名類型轉發給房間內其他玩家
const (
	TypeGameCreated  = "game_created"
	TypeGameJoined   = "game_joined"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypeGameStart    = "game_start"
	TypeGameState    = "game_state" // 保留：完整狀態目前只隨 game_start 下發
	TypePong         = "pong"
	TypeError        = "error"
)

// 錯誤回覆的標準文案（與客戶端約定，不可更動）
const (
	ErrMsgInvalidFormat = "Invalid message format"
	ErrMsgGameNotFound  = "Game not found"
	ErrMsgGameFull      = "Game is full"
)

// Message 協議信封
//
// 所有訊息共用同一個信封結構：
//   - type：訊息類型（封閉集合，見上面的常量）
//   - gameId / playerId / playerName：依訊息類型選填
//   - timestamp：epoch 毫秒
//   - data：依類型而異的載荷；入站時保留原始位元組，
//     轉發（player_move / game_event）時原樣送出，不重新編碼
//   - message：僅 error 類型使用
type Message struct {
	Type       string          `json:"type"`
	GameID     string          `json:"gameId,omitempty"`
	PlayerID   string          `json:"playerId,omitempty"`
	PlayerName string          `json:"playerName,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Vec2 平面座標
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Velocity 平面速度
type Velocity struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// MoveData player_move 的載荷
type MoveData struct {
	Position Vec2     `json:"position"`
	Velocity Velocity `json:"velocity"`
	Rotation float64  `json:"rotation"`
}

// EventData game_event 的載荷
//
// Value 使用指標以區分「未帶值」與「帶 0」：
// 未帶值的 collectible_gathered 計 50 分（協議約定的預設值）
type EventData struct {
	EventType string `json:"eventType"`
	Position  *Vec2  `json:"position,omitempty"`
	Value     *int   `json:"value,omitempty"`
	ObjectID  string `json:"objectId,omitempty"`
}

// LobbyPlayer 大廳快照中的玩家條目
//
// IsReady 恆為 true：協議保留了這個欄位但服務器不追蹤準備狀態
type LobbyPlayer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsReady bool   `json:"isReady"`
	Color   string `json:"color"`
}

// LobbyState 大廳快照
// 用於 game_created / game_joined / player_joined / player_left
type LobbyState struct {
	GameID         string        `json:"gameId"`
	MaxPlayers     int           `json:"maxPlayers"`
	CurrentPlayers int           `json:"currentPlayers"`
	Players        []LobbyPlayer `json:"players"`
	GameStarted    bool          `json:"gameStarted"`
}

// PlayerState 完整遊戲狀態中的玩家條目
type PlayerState struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Vec2     `json:"position"`
	Velocity Velocity `json:"velocity"`
	Rotation float64  `json:"rotation"`
	Score    int      `json:"score"`
	IsAlive  bool     `json:"isAlive"`
	Color    string   `json:"color"`
}

// Obstacle 世界中的障礙物（模型中存在，服務器目前不生成）
type Obstacle struct {
	ID       string `json:"id"`
	Position Vec2   `json:"position"`
}

// Collectible 世界中的收集物（模型中存在，服務器目前不生成）
type Collectible struct {
	ID       string `json:"id"`
	Position Vec2   `json:"position"`
	Value    int    `json:"value"`
}

// GameState 完整遊戲狀態，用於 game_start
type GameState struct {
	Players      []PlayerState `json:"players"`
	Obstacles    []Obstacle    `json:"obstacles"`
	Collectibles []Collectible `json:"collectibles"`
	GameStarted  bool          `json:"gameStarted"`
	GameTime     int64         `json:"gameTime"`
	WorldOffset  float64       `json:"worldOffset"`
}

// nowMillis 當前時間的 epoch 毫秒
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// newMessage 組裝一條出站訊息（載荷先序列化為 RawMessage）
func newMessage(msgType, gameID, playerID, playerName string, data any) ([]byte, error) {
	msg := Message{
		Type:       msgType,
		GameID:     gameID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Timestamp:  nowMillis(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(&msg)
}

// newRelayMessage 組裝一條轉發訊息，載荷原樣透傳
func newRelayMessage(msgType, gameID, playerID string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(&Message{
		Type:      msgType,
		GameID:    gameID,
		PlayerID:  playerID,
		Timestamp: nowMillis(),
		Data:      data,
	})
}

// newErrorMessage 組裝一條錯誤回覆
// 錯誤回覆只有 type 與 message 兩個欄位，不帶時間戳
func newErrorMessage(text string) []byte {
	b, _ := json.Marshal(&Message{Type: TypeError, Message: text})
	return b
}

// newPongMessage 組裝 pong 回覆，攜帶服務器當前時間
func newPongMessage() []byte {
	b, _ := json.Marshal(&Message{Type: TypePong, Timestamp: nowMillis()})
	return b
}
