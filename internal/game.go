package internal

import (
	"sync"
	"time"
)

// 系統設計問題：
//   如何安全地維護一個被多條連接並發讀寫的遊戲房間？
//
// 核心挑戰：
//   1. 並發控制：多個玩家同時移動、觸發事件、加入離開
//   2. 選擇性廣播：訊息只發給同房間的其他玩家，不能串房
//   3. 生命週期：房間自動開始（人到齊 + 延遲），人走光即回收
//
// 設計方案：
//   - RWMutex：讀多寫少（廣播走讀鎖，成員變更走寫鎖）
//   - 傳輸句柄作為能力物件（Sender 介面）：房間只管「投遞」，
//     不關心底層是 WebSocket 還是測試替身
//   - started 單向翻轉：一旦開始永不回退，開始檢查在鎖內完成

const (
	// MaxPlayersPerGame 單一遊戲的玩家上限
	MaxPlayersPerGame = 4

	// MinPlayersToStart 自動開始所需的最少玩家數
	MinPlayersToStart = 2

	// DefaultCollectibleValue collectible_gathered 未帶值時的分數
	DefaultCollectibleValue = 50
)

// 遊戲事件類型
const (
	EventPlayerCrashed       = "player_crashed"
	EventCollectibleGathered = "collectible_gathered"
)

// playerColors 固定調色盤，依加入順序循環配色
var playerColors = []string{
	"#FFFFFF", "#FF6B6B", "#4ECDC4", "#45B7D1",
	"#96CEB4", "#FFEAA7", "#DDA0DD", "#98D8C8",
}

// Sender 出站傳輸能力
//
// 房間持有的是「發送能力」而非連接本身：
//   - Send 一次性投遞，不等待、不重試；投遞失敗（緩衝滿、已關閉）
//     由回傳值表達，呼叫端不視為錯誤
//   - IsOpen 查詢底層傳輸是否仍可用，廣播時跳過已關閉者
type Sender interface {
	Send(message []byte) bool
	IsOpen() bool
}

// Player 房間內單一玩家的會話狀態
//
// 只會被玩家自己的 move / event 訊息修改；隨離開或斷線銷毀
type Player struct {
	ID         string
	Name       string
	Conn       Sender
	Position   Vec2
	Velocity   Velocity
	Rotation   float64
	Score      int
	IsAlive    bool
	Color      string
	LastUpdate time.Time
}

// Game 遊戲房間
type Game struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	players     map[string]*Player
	order       []string // 加入順序（配色與快照輸出依此排序）
	started     bool
	worldOffset float64
}

// NewGame 創建遊戲房間
func NewGame(id string) *Game {
	return &Game{
		ID:        id,
		CreatedAt: time.Now(),
		players:   make(map[string]*Player),
	}
}

// AddPlayer 加入玩家
//
// 滿房時回傳 false 且不做任何修改。
// 顏色依當前人數從調色盤取出，保證前 8 位玩家顏色互不相同。
func (g *Game) AddPlayer(id, name string, conn Sender) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.players) >= MaxPlayersPerGame {
		return false
	}

	player := &Player{
		ID:         id,
		Name:       name,
		Conn:       conn,
		IsAlive:    true,
		Color:      playerColors[len(g.players)%len(playerColors)],
		LastUpdate: time.Now(),
	}

	if _, exists := g.players[id]; !exists {
		g.order = append(g.order, id)
	}
	g.players[id] = player

	return true
}

// RemovePlayer 移除玩家；不在房間內則為 no-op（冪等）
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.players[id]; !exists {
		return
	}

	delete(g.players, id)
	for i, pid := range g.order {
		if pid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// UpdatePosition 覆寫玩家的位置、速度與旋轉
//
// 玩家不在房間內時為 no-op（可能剛離開，視為競態而非錯誤）。
// 只更新狀態，不廣播；轉發是訊息分發層的責任。
func (g *Game) UpdatePosition(id string, position Vec2, velocity Velocity, rotation float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	player, exists := g.players[id]
	if !exists {
		return
	}

	player.Position = position
	player.Velocity = velocity
	player.Rotation = rotation
	player.LastUpdate = time.Now()
}

// ApplyEvent 將遊戲事件套用到玩家狀態
//
//   - player_crashed：存活標記置為 false（冪等）
//   - collectible_gathered：分數累加（未帶值計 50）。
//     注意：累加無去重，重複投遞會重複計分（協議層沒有事件去重機制）
//   - 未知事件類型：忽略，不回報錯誤
func (g *Game) ApplyEvent(id string, event EventData) {
	g.mu.Lock()
	defer g.mu.Unlock()

	player, exists := g.players[id]
	if !exists {
		return
	}

	switch event.EventType {
	case EventPlayerCrashed:
		player.IsAlive = false
	case EventCollectibleGathered:
		value := DefaultCollectibleValue
		if event.Value != nil {
			value = *event.Value
		}
		player.Score += value
	}
}

// TryStart 嘗試開始遊戲
//
// 已開始或人數不足時回傳 false。檢查與翻轉在同一把鎖內完成，
// 多個計時器同時到點也只會有一個成功（started 永不回退）。
func (g *Game) TryStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started || len(g.players) < MinPlayersToStart {
		return false
	}
	g.started = true
	return true
}

// Started 查詢遊戲是否已開始
func (g *Game) Started() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.started
}

// PlayerCount 當前玩家數量
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players)
}

// PlayerIDs 當前玩家 ID（加入順序）
func (g *Game) PlayerIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// LobbyState 大廳快照（不可變副本，加入順序輸出）
func (g *Game) LobbyState() LobbyState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	players := make([]LobbyPlayer, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		players = append(players, LobbyPlayer{
			ID:      p.ID,
			Name:    p.Name,
			IsReady: true,
			Color:   p.Color,
		})
	}

	return LobbyState{
		GameID:         g.ID,
		MaxPlayers:     MaxPlayersPerGame,
		CurrentPlayers: len(g.players),
		Players:        players,
		GameStarted:    g.started,
	}
}

// State 完整遊戲狀態快照（不可變副本）
//
// obstacles / collectibles 目前恆為空陣列：模型中保留了這兩類實體，
// 但服務器不生成世界物件，序列化為 [] 而非 null
func (g *Game) State() GameState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	players := make([]PlayerState, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		players = append(players, PlayerState{
			ID:       p.ID,
			Name:     p.Name,
			Position: p.Position,
			Velocity: p.Velocity,
			Rotation: p.Rotation,
			Score:    p.Score,
			IsAlive:  p.IsAlive,
			Color:    p.Color,
		})
	}

	return GameState{
		Players:      players,
		Obstacles:    make([]Obstacle, 0),
		Collectibles: make([]Collectible, 0),
		GameStarted:  g.started,
		GameTime:     time.Since(g.CreatedAt).Milliseconds(),
		WorldOffset:  g.worldOffset,
	}
}

// Broadcast 將已編碼的訊息發給房間內所有傳輸仍開啟的玩家
//
// excludePlayerID 非空時跳過該玩家（通常是訊息的發送者）。
// 投遞是一次性的：已關閉的傳輸靜默跳過，不重試、不回報錯誤。
func (g *Game) Broadcast(message []byte, excludePlayerID string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, p := range g.players {
		if id == excludePlayerID {
			continue
		}
		if p.Conn == nil || !p.Conn.IsOpen() {
			continue
		}
		p.Conn.Send(message)
	}
}
