package internal_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/koopa0/flight-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender 測試用的傳輸替身，記錄所有投遞的訊息
type fakeSender struct {
	mu       sync.Mutex
	open     bool
	messages [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{open: true}
}

func (s *fakeSender) Send(message []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.messages = append(s.messages, message)
	return true
}

func (s *fakeSender) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSender) closeNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

func intPtr(v int) *int { return &v }

// TestNewGame 測試創建遊戲
func TestNewGame(t *testing.T) {
	game := internal.NewGame("game_001")

	require.NotNil(t, game)
	assert.Equal(t, "game_001", game.ID)
	assert.False(t, game.Started())
	assert.Equal(t, 0, game.PlayerCount())
	assert.False(t, game.CreatedAt.IsZero())
}

// TestGame_AddPlayer 測試加入玩家
func TestGame_AddPlayer(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() *internal.Game
		playerID string
		wantOK   bool
		validate func(t *testing.T, game *internal.Game)
	}{
		{
			name: "first player gets first palette color",
			setup: func() *internal.Game {
				return internal.NewGame("game_001")
			},
			playerID: "player_001",
			wantOK:   true,
			validate: func(t *testing.T, game *internal.Game) {
				assert.Equal(t, 1, game.PlayerCount())
				lobby := game.LobbyState()
				require.Len(t, lobby.Players, 1)
				assert.Equal(t, "#FFFFFF", lobby.Players[0].Color)
				assert.True(t, lobby.Players[0].IsReady)
			},
		},
		{
			name: "fourth player fills the game",
			setup: func() *internal.Game {
				game := internal.NewGame("game_002")
				game.AddPlayer("player_001", "玩家一", newFakeSender())
				game.AddPlayer("player_002", "玩家二", newFakeSender())
				game.AddPlayer("player_003", "玩家三", newFakeSender())
				return game
			},
			playerID: "player_004",
			wantOK:   true,
			validate: func(t *testing.T, game *internal.Game) {
				assert.Equal(t, 4, game.PlayerCount())
			},
		},
		{
			name: "fifth player rejected without mutation",
			setup: func() *internal.Game {
				game := internal.NewGame("game_003")
				for i := 1; i <= 4; i++ {
					game.AddPlayer(fmt.Sprintf("player_%03d", i), fmt.Sprintf("玩家%d", i), newFakeSender())
				}
				return game
			},
			playerID: "player_005",
			wantOK:   false,
			validate: func(t *testing.T, game *internal.Game) {
				assert.Equal(t, 4, game.PlayerCount())
				assert.NotContains(t, game.PlayerIDs(), "player_005")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			game := tt.setup()
			ok := game.AddPlayer(tt.playerID, "測試玩家", newFakeSender())
			assert.Equal(t, tt.wantOK, ok)
			tt.validate(t, game)
		})
	}
}

// TestGame_PlayerColors 測試配色互不相同
func TestGame_PlayerColors(t *testing.T) {
	game := internal.NewGame("game_colors")
	for i := 1; i <= 4; i++ {
		require.True(t, game.AddPlayer(fmt.Sprintf("player_%03d", i), fmt.Sprintf("玩家%d", i), newFakeSender()))
	}

	lobby := game.LobbyState()
	require.Len(t, lobby.Players, 4)

	seen := make(map[string]bool)
	for _, p := range lobby.Players {
		assert.False(t, seen[p.Color], "重複的顏色: %s", p.Color)
		seen[p.Color] = true
	}
}

// TestGame_RemovePlayer 測試移除玩家（冪等）
func TestGame_RemovePlayer(t *testing.T) {
	game := internal.NewGame("game_remove")
	game.AddPlayer("player_001", "玩家一", newFakeSender())
	game.AddPlayer("player_002", "玩家二", newFakeSender())

	game.RemovePlayer("player_001")
	assert.Equal(t, 1, game.PlayerCount())
	assert.Equal(t, []string{"player_002"}, game.PlayerIDs())

	// 第二次移除同一玩家是 no-op
	game.RemovePlayer("player_001")
	assert.Equal(t, 1, game.PlayerCount())

	// 移除不存在的玩家也是 no-op
	game.RemovePlayer("player_999")
	assert.Equal(t, 1, game.PlayerCount())
}

// TestGame_UpdatePosition 測試位置更新
func TestGame_UpdatePosition(t *testing.T) {
	game := internal.NewGame("game_move")
	game.AddPlayer("player_001", "玩家一", newFakeSender())

	game.UpdatePosition("player_001",
		internal.Vec2{X: 10, Y: 5},
		internal.Velocity{DX: 1, DY: 0},
		0.2)

	state := game.State()
	require.Len(t, state.Players, 1)
	assert.Equal(t, internal.Vec2{X: 10, Y: 5}, state.Players[0].Position)
	assert.Equal(t, internal.Velocity{DX: 1, DY: 0}, state.Players[0].Velocity)
	assert.InDelta(t, 0.2, state.Players[0].Rotation, 1e-9)

	// 玩家不存在時為 no-op，不恐慌、不影響其他玩家
	game.UpdatePosition("player_999", internal.Vec2{X: 99, Y: 99}, internal.Velocity{}, 0)
	state = game.State()
	require.Len(t, state.Players, 1)
	assert.Equal(t, internal.Vec2{X: 10, Y: 5}, state.Players[0].Position)
}

// TestGame_ApplyEvent 測試事件套用
func TestGame_ApplyEvent(t *testing.T) {
	tests := []struct {
		name     string
		events   []internal.EventData
		validate func(t *testing.T, p internal.PlayerState)
	}{
		{
			name:   "player crashed sets alive false",
			events: []internal.EventData{{EventType: "player_crashed"}},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.False(t, p.IsAlive)
			},
		},
		{
			name: "player crashed is idempotent",
			events: []internal.EventData{
				{EventType: "player_crashed"},
				{EventType: "player_crashed"},
			},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.False(t, p.IsAlive)
			},
		},
		{
			name:   "collectible without value scores 50",
			events: []internal.EventData{{EventType: "collectible_gathered"}},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.Equal(t, 50, p.Score)
			},
		},
		{
			name:   "collectible with explicit value",
			events: []internal.EventData{{EventType: "collectible_gathered", Value: intPtr(75)}},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.Equal(t, 75, p.Score)
			},
		},
		{
			// 累加無去重：重複投遞會重複計分（協議層沒有事件去重機制）
			name: "duplicate collectible double counts",
			events: []internal.EventData{
				{EventType: "collectible_gathered", Value: intPtr(50)},
				{EventType: "collectible_gathered", Value: intPtr(50)},
			},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.Equal(t, 100, p.Score)
			},
		},
		{
			name:   "unknown event type ignored",
			events: []internal.EventData{{EventType: "teleport"}},
			validate: func(t *testing.T, p internal.PlayerState) {
				assert.Equal(t, 0, p.Score)
				assert.True(t, p.IsAlive)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			game := internal.NewGame("game_event")
			game.AddPlayer("player_001", "玩家一", newFakeSender())

			for _, event := range tt.events {
				game.ApplyEvent("player_001", event)
			}

			state := game.State()
			require.Len(t, state.Players, 1)
			tt.validate(t, state.Players[0])
		})
	}
}

// TestGame_ApplyEvent_AbsentPlayer 測試對不存在玩家套用事件
func TestGame_ApplyEvent_AbsentPlayer(t *testing.T) {
	game := internal.NewGame("game_event_absent")
	game.AddPlayer("player_001", "玩家一", newFakeSender())

	// 不恐慌，也不影響他人
	game.ApplyEvent("player_999", internal.EventData{EventType: "collectible_gathered"})

	state := game.State()
	require.Len(t, state.Players, 1)
	assert.Equal(t, 0, state.Players[0].Score)
}

// TestGame_TryStart 測試自動開始條件
func TestGame_TryStart(t *testing.T) {
	game := internal.NewGame("game_start")
	game.AddPlayer("player_001", "玩家一", newFakeSender())

	// 人數不足
	assert.False(t, game.TryStart())
	assert.False(t, game.Started())

	game.AddPlayer("player_002", "玩家二", newFakeSender())

	// 條件滿足，只成功一次
	assert.True(t, game.TryStart())
	assert.True(t, game.Started())
	assert.False(t, game.TryStart())

	// started 不因人數下降而回退
	game.RemovePlayer("player_002")
	assert.True(t, game.Started())
}

// TestGame_Broadcast 測試選擇性廣播
func TestGame_Broadcast(t *testing.T) {
	game := internal.NewGame("game_broadcast")
	senderA := newFakeSender()
	senderB := newFakeSender()
	senderC := newFakeSender()
	game.AddPlayer("player_a", "A", senderA)
	game.AddPlayer("player_b", "B", senderB)
	game.AddPlayer("player_c", "C", senderC)

	// 排除發送者
	game.Broadcast([]byte(`{"type":"test"}`), "player_a")
	assert.Equal(t, 0, senderA.count())
	assert.Equal(t, 1, senderB.count())
	assert.Equal(t, 1, senderC.count())

	// 已關閉的傳輸靜默跳過
	senderB.closeNow()
	game.Broadcast([]byte(`{"type":"test2"}`), "")
	assert.Equal(t, 1, senderA.count())
	assert.Equal(t, 1, senderB.count())
	assert.Equal(t, 2, senderC.count())
}

// TestGame_Broadcast_OnlyMemberExcluded 測試唯一成員被排除時零投遞
func TestGame_Broadcast_OnlyMemberExcluded(t *testing.T) {
	game := internal.NewGame("game_broadcast_solo")
	sender := newFakeSender()
	game.AddPlayer("player_a", "A", sender)

	game.Broadcast([]byte(`{"type":"test"}`), "player_a")
	assert.Equal(t, 0, sender.count())
}

// TestGame_State 測試完整狀態快照
func TestGame_State(t *testing.T) {
	game := internal.NewGame("game_state")
	game.AddPlayer("player_001", "玩家一", newFakeSender())
	game.AddPlayer("player_002", "玩家二", newFakeSender())

	state := game.State()

	require.Len(t, state.Players, 2)
	// 快照依加入順序輸出
	assert.Equal(t, "player_001", state.Players[0].ID)
	assert.Equal(t, "player_002", state.Players[1].ID)
	assert.False(t, state.GameStarted)
	assert.GreaterOrEqual(t, state.GameTime, int64(0))
	// 未生成世界物件，但序列化為空陣列而非 null
	assert.NotNil(t, state.Obstacles)
	assert.NotNil(t, state.Collectibles)
	assert.Empty(t, state.Obstacles)
	assert.Empty(t, state.Collectibles)
}

// TestGame_LobbyState 測試大廳快照
func TestGame_LobbyState(t *testing.T) {
	game := internal.NewGame("game_lobby")
	game.AddPlayer("player_001", "玩家一", newFakeSender())
	game.AddPlayer("player_002", "玩家二", newFakeSender())

	lobby := game.LobbyState()

	assert.Equal(t, "game_lobby", lobby.GameID)
	assert.Equal(t, 4, lobby.MaxPlayers)
	assert.Equal(t, 2, lobby.CurrentPlayers)
	assert.False(t, lobby.GameStarted)
	require.Len(t, lobby.Players, 2)
	assert.Equal(t, "玩家一", lobby.Players[0].Name)
	assert.Equal(t, "玩家二", lobby.Players[1].Name)
}
