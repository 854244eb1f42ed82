package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// GameStartDelay 人到齊後到自動開始的延遲
	GameStartDelay = 3 * time.Second

	// sweepInterval 閒置遊戲的掃描週期
	sweepInterval = 5 * time.Minute

	// emptyGameMaxAge 空遊戲的存活上限，超過即被掃描移除
	// 正常路徑是最後一人離開時同步移除，掃描只是防禦性兜底
	emptyGameMaxAge = time.Hour
)

var (
	// ErrGameNotFound 遊戲不存在
	ErrGameNotFound = errors.New("game not found")

	// ErrGameFull 遊戲已滿
	ErrGameFull = errors.New("game is full")
)

// Manager 遊戲目錄
//
// 管理所有存活遊戲的生命週期：創建、查詢、玩家進出、過期回收。
// playerGame 是 playerID → gameID 的反向索引，斷線時用來快速定位
// 該連接所屬的遊戲。
//
// 鎖順序約定：先 Manager.mu 後 Game.mu，全程一致，避免死鎖。
type Manager struct {
	mu         sync.RWMutex
	games      map[string]*Game
	playerGame map[string]string
	logger     *slog.Logger

	// StartDelay 自動開始延遲，預設 GameStartDelay（測試可縮短）
	StartDelay time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager 創建遊戲目錄並啟動背景掃描
func NewManager(logger *slog.Logger) *Manager {
	m := &Manager{
		games:      make(map[string]*Game),
		playerGame: make(map[string]string),
		logger:     logger,
		StartDelay: GameStartDelay,
		stopCh:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// CreateGame 創建遊戲並將創建者加為第一位玩家
//
// 遊戲 ID 為服務器生成的 UUID，全局唯一。此操作不會失敗。
func (m *Manager) CreateGame(playerID, playerName string, conn Sender) *Game {
	gameID := uuid.NewString()
	game := NewGame(gameID)
	game.AddPlayer(playerID, playerName, conn)

	m.mu.Lock()
	m.games[gameID] = game
	m.playerGame[playerID] = gameID
	m.mu.Unlock()

	m.logger.Info("遊戲已創建",
		"game_id", gameID,
		"player_id", playerID,
		"player_name", playerName)

	return game
}

// GetGame 查詢遊戲
func (m *Manager) GetGame(gameID string) (*Game, error) {
	m.mu.RLock()
	game, exists := m.games[gameID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return game, nil
}

// JoinGame 將玩家加入遊戲
//
// 錯誤以哨兵區分：遊戲不存在（ErrGameNotFound）與滿房（ErrGameFull），
// 分發層據此映射為對應的協議錯誤回覆。
func (m *Manager) JoinGame(gameID, playerID, playerName string, conn Sender) (*Game, error) {
	game, err := m.GetGame(gameID)
	if err != nil {
		return nil, err
	}

	if !game.AddPlayer(playerID, playerName, conn) {
		return nil, fmt.Errorf("%w: %s", ErrGameFull, gameID)
	}

	m.mu.Lock()
	m.playerGame[playerID] = gameID
	m.mu.Unlock()

	m.logger.Info("玩家加入遊戲",
		"game_id", gameID,
		"player_id", playerID,
		"player_name", playerName,
		"players", game.PlayerCount())

	return game, nil
}

// LeaveGame 將玩家移出遊戲（冪等）
//
// 遊戲因此變空時立即從目錄移除；這是正常回收路徑，
// 背景掃描只處理漏網的空遊戲。
func (m *Manager) LeaveGame(gameID, playerID string) {
	m.mu.Lock()
	delete(m.playerGame, playerID)
	game, exists := m.games[gameID]
	m.mu.Unlock()

	if !exists {
		return
	}

	game.RemovePlayer(playerID)

	m.logger.Info("玩家離開遊戲",
		"game_id", gameID,
		"player_id", playerID,
		"players", game.PlayerCount())

	if game.PlayerCount() == 0 {
		m.removeGame(gameID)
	}
}

// PlayerGame 反向查詢玩家所在的遊戲
func (m *Manager) PlayerGame(playerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gameID, exists := m.playerGame[playerID]
	return gameID, exists
}

// ScheduleStart 排程自動開始
//
// 到點時重新檢查條件而非取消計時器：遊戲仍在目錄、人數仍 ≥ 2、
// 尚未開始，全部成立才開始。期間有人離開，這次排程就靜默作廢；
// 多個計時器同時到點由 TryStart 的鎖內檢查保證只開始一次。
func (m *Manager) ScheduleStart(gameID string) {
	time.AfterFunc(m.StartDelay, func() {
		game, err := m.GetGame(gameID)
		if err != nil {
			return
		}
		if !game.TryStart() {
			return
		}

		msg, err := newMessage(TypeGameStart, gameID, "", "", game.State())
		if err != nil {
			m.logger.Error("序列化遊戲狀態失敗", "game_id", gameID, "error", err)
			return
		}
		game.Broadcast(msg, "")

		m.logger.Info("遊戲開始",
			"game_id", gameID,
			"players", game.PlayerCount())
	})
}

// removeGame 從目錄移除遊戲（冪等）
func (m *Manager) removeGame(gameID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	game, exists := m.games[gameID]
	if !exists {
		return
	}

	// 清理殘留的反向索引
	for _, playerID := range game.PlayerIDs() {
		delete(m.playerGame, playerID)
	}

	delete(m.games, gameID)

	m.logger.Info("遊戲已移除", "game_id", gameID)
}

// sweepLoop 定期掃描閒置遊戲
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stopCh:
			return
		}
	}
}

// Cleanup 立即執行一次過期掃描（公開供測試使用，與定時器共用邏輯）
func (m *Manager) Cleanup() {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for gameID, game := range m.games {
		if game.PlayerCount() == 0 && now.Sub(game.CreatedAt) > emptyGameMaxAge {
			stale = append(stale, gameID)
		}
	}
	m.mu.RUnlock()

	for _, gameID := range stale {
		m.removeGame(gameID)
		m.logger.Info("清除閒置遊戲", "game_id", gameID)
	}
}

// Stats 統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalPlayers := 0
	started := 0
	for _, game := range m.games {
		totalPlayers += game.PlayerCount()
		if game.Started() {
			started++
		}
	}

	return map[string]any{
		"total_games":   len(m.games),
		"started_games": started,
		"total_players": totalPlayers,
	}
}

// Stop 停止背景掃描
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("遊戲目錄已停止")
}
