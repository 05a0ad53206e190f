package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-execution-core/internal/logger"
	"github.com/ducminhle1904/crypto-execution-core/internal/orders"
	"github.com/ducminhle1904/crypto-execution-core/internal/risk"
)

// StatePersistence manages saving and loading of the execution engine state
// so a restart can resume with the portfolios and order history it had.
type StatePersistence struct {
	logger   *logger.Logger
	stateDir string

	currentState *EngineState
	stateMutex   sync.RWMutex

	autoSave     bool
	saveInterval time.Duration
	lastSave     time.Time

	// Append-only audit trail of terminal strategy orders
	orderLogFile *os.File
}

// EngineState is the complete recoverable state of the execution engine
type EngineState struct {
	Version      string    `json:"version"`
	LastUpdated  time.Time `json:"last_updated"`
	SessionStart time.Time `json:"session_start"`

	// Portfolio snapshots from the risk system
	Portfolios []*risk.Portfolio `json:"portfolios"`

	// Strategy order lifecycle records
	Orders []*orders.OrderExecutionState `json:"orders"`

	SessionMetrics *SessionMetrics `json:"session_metrics"`
}

// SessionMetrics tracks overall session activity
type SessionMetrics struct {
	SessionStart time.Time `json:"session_start"`

	OrdersSubmitted int `json:"orders_submitted"`
	OrdersFilled    int `json:"orders_filled"`
	OrdersCanceled  int `json:"orders_canceled"`
	OrdersFailed    int `json:"orders_failed"`

	ChildOrdersPlaced int     `json:"child_orders_placed"`
	TotalFilledQty    float64 `json:"total_filled_qty"`
}

// NewStatePersistence creates a new state persistence manager
func NewStatePersistence(log *logger.Logger, stateDir string) *StatePersistence {
	return &StatePersistence{
		logger:       log,
		stateDir:     stateDir,
		currentState: NewEngineState(),
		autoSave:     true,
		saveInterval: 5 * time.Minute,
		lastSave:     time.Now(),
	}
}

// NewEngineState creates a new empty engine state
func NewEngineState() *EngineState {
	return &EngineState{
		Version:      "1.0.0",
		LastUpdated:  time.Now(),
		SessionStart: time.Now(),
		Portfolios:   make([]*risk.Portfolio, 0),
		Orders:       make([]*orders.OrderExecutionState, 0),
		SessionMetrics: &SessionMetrics{
			SessionStart: time.Now(),
		},
	}
}

// Initialize sets up the state directory and audit log
func (sp *StatePersistence) Initialize() error {
	if err := os.MkdirAll(sp.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	orderLogPath := filepath.Join(sp.stateDir, "order_log.jsonl")
	orderFile, err := os.OpenFile(orderLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open order log file: %w", err)
	}
	sp.orderLogFile = orderFile

	if sp.logger != nil {
		sp.logger.Info("State persistence initialized: %s", sp.stateDir)
	}
	return nil
}

// LoadState loads the engine state from disk. A missing or invalid state file
// leaves the clean state in place rather than failing startup.
func (sp *StatePersistence) LoadState() error {
	sp.stateMutex.Lock()
	defer sp.stateMutex.Unlock()

	stateFile := filepath.Join(sp.stateDir, "engine_state.json")

	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		if sp.logger != nil {
			sp.logger.Info("No existing state file found, starting with clean state")
		}
		return nil
	}

	data, err := os.ReadFile(stateFile)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	if err := validateState(&state); err != nil {
		if sp.logger != nil {
			sp.logger.LogWarning("State Validation", "Loaded state has issues: %v, using clean state", err)
		}
		return nil
	}

	sp.currentState = &state
	if sp.logger != nil {
		sp.logger.Info("State loaded successfully from %s", stateFile)
	}
	return nil
}

// SaveState saves the current engine state to disk with a backup of the
// previous file and an atomic rename.
func (sp *StatePersistence) SaveState() error {
	sp.stateMutex.RLock()
	state := *sp.currentState
	sp.stateMutex.RUnlock()

	state.LastUpdated = time.Now()

	stateFile := filepath.Join(sp.stateDir, "engine_state.json")
	backupFile := filepath.Join(sp.stateDir, "engine_state_backup.json")

	if _, err := os.Stat(stateFile); err == nil {
		if err := copyFile(stateFile, backupFile); err != nil && sp.logger != nil {
			sp.logger.LogWarning("State Backup", "Failed to create backup: %v", err)
		}
	}

	data, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	sp.stateMutex.Lock()
	sp.lastSave = time.Now()
	sp.stateMutex.Unlock()

	return nil
}

// CaptureFrom refreshes the in-memory state from the live managers and
// triggers an auto-save when the save interval has elapsed.
func (sp *StatePersistence) CaptureFrom(riskMgr *risk.Manager, orderMgr *orders.Manager) {
	sp.stateMutex.Lock()

	if riskMgr != nil {
		portfolios := make([]*risk.Portfolio, 0)
		for _, id := range riskMgr.ListPortfolios() {
			if portfolio, err := riskMgr.GetPortfolio(id); err == nil {
				portfolios = append(portfolios, portfolio)
			}
		}
		sp.currentState.Portfolios = portfolios
	}

	if orderMgr != nil {
		orderStates := orderMgr.ListOrders()
		sp.currentState.Orders = orderStates
		sp.currentState.SessionMetrics = summarize(orderStates, sp.currentState.SessionMetrics.SessionStart)
	}

	shouldSave := sp.autoSave && time.Since(sp.lastSave) > sp.saveInterval
	sp.stateMutex.Unlock()

	if shouldSave {
		go func() {
			if err := sp.SaveState(); err != nil && sp.logger != nil {
				sp.logger.LogError("Auto Save Failed", err)
			}
		}()
	}
}

// RestorePortfolios re-registers persisted portfolios into the risk manager.
// Already-registered ids are skipped.
func (sp *StatePersistence) RestorePortfolios(riskMgr *risk.Manager) error {
	sp.stateMutex.RLock()
	portfolios := sp.currentState.Portfolios
	sp.stateMutex.RUnlock()

	for _, portfolio := range portfolios {
		if _, err := riskMgr.RegisterPortfolio(portfolio.ID, portfolio.Cash, portfolio.Leverage); err != nil {
			if riskErr, ok := err.(*risk.RiskError); ok && riskErr.Code == risk.CodeDuplicatePortfolio {
				continue
			}
			return fmt.Errorf("failed to restore portfolio %s: %w", portfolio.ID, err)
		}

		positions := make([]risk.Position, 0, len(portfolio.Positions))
		for _, position := range portfolio.Positions {
			positions = append(positions, position)
		}
		if len(positions) > 0 {
			if err := riskMgr.UpdatePortfolioPositions(portfolio.ID, positions); err != nil {
				return fmt.Errorf("failed to restore positions for %s: %w", portfolio.ID, err)
			}
		}

		if sp.logger != nil {
			sp.logger.Info("Restored portfolio %s: cash $%.2f, %d positions",
				portfolio.ID, portfolio.Cash, len(positions))
		}
	}
	return nil
}

// RecordTerminalOrder appends a terminal order record to the audit log
func (sp *StatePersistence) RecordTerminalOrder(order *orders.OrderExecutionState) {
	if order == nil || !order.Status.Terminal() || sp.orderLogFile == nil {
		return
	}
	sp.stateMutex.Lock()
	defer sp.stateMutex.Unlock()

	data, err := json.Marshal(order)
	if err != nil {
		return
	}
	sp.orderLogFile.WriteString(string(data) + "\n")
	sp.orderLogFile.Sync()
}

// GetEngineState returns a copy of the current engine state
func (sp *StatePersistence) GetEngineState() *EngineState {
	sp.stateMutex.RLock()
	defer sp.stateMutex.RUnlock()

	stateCopy := *sp.currentState
	return &stateCopy
}

// Cleanup flushes state to disk and closes the audit log
func (sp *StatePersistence) Cleanup() error {
	if sp.orderLogFile != nil {
		sp.orderLogFile.Close()
	}
	return sp.SaveState()
}

func summarize(orderStates []*orders.OrderExecutionState, sessionStart time.Time) *SessionMetrics {
	metrics := &SessionMetrics{SessionStart: sessionStart}
	for _, order := range orderStates {
		metrics.OrdersSubmitted++
		metrics.ChildOrdersPlaced += len(order.ChildOrders)
		metrics.TotalFilledQty += order.FilledQty
		switch order.Status {
		case orders.StatusFilled:
			metrics.OrdersFilled++
		case orders.StatusCanceled:
			metrics.OrdersCanceled++
		case orders.StatusFailed:
			metrics.OrdersFailed++
		}
	}
	return metrics
}

func validateState(state *EngineState) error {
	if state.Version == "" {
		return fmt.Errorf("state version is empty")
	}
	if time.Since(state.LastUpdated) > 7*24*time.Hour {
		return fmt.Errorf("state is too old: %v", state.LastUpdated)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
