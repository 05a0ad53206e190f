package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes engine activity to a daily log file. Safe for concurrent use.
type Logger struct {
	component string
	logFile   *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logDir    string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelOrder   LogLevel = "ORDER"
	LogLevelRisk    LogLevel = "RISK"
)

// NewLogger creates a file logger for the named engine component. Log files
// are per component per day, under logDir.
func NewLogger(logDir, component string) (*Logger, error) {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", component, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		component: component,
		logFile:   file,
		logger:    log.New(file, "", 0),
		logDir:    logDir,
	}

	l.writeSessionHeader()
	return l, nil
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
EXECUTION ENGINE SESSION STARTED
================================================================================
Component: %s
Started: %s
================================================================================
`, l.component, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Order logs an order lifecycle event
func (l *Logger) Order(format string, args ...interface{}) {
	l.Log(LogLevelOrder, format, args...)
}

// Risk logs a risk gate or limit event
func (l *Logger) Risk(format string, args ...interface{}) {
	l.Log(LogLevelRisk, format, args...)
}

// LogOrderSubmission logs a strategy order submission
func (l *Logger) LogOrderSubmission(orderID, strategy, exchangeID, symbol, side string) {
	l.Order("Submitted %s order %s on %s: %s %s", strategy, orderID, exchangeID, side, symbol)
}

// LogOrderCompletion logs a strategy order reaching a terminal status
func (l *Logger) LogOrderCompletion(orderID, status string, filledQty, avgPrice float64) {
	l.Order("Order %s finished %s - filled %.8f @ avg $%.2f", orderID, status, filledQty, avgPrice)
}

// LogChildOrder logs a venue child order placement
func (l *Logger) LogChildOrder(orderID, exchangeOrderID, exchangeID, label string, quantity, price float64) {
	l.Order("Order %s child %s (%s) placed on %s: qty %.8f price %.2f",
		orderID, exchangeOrderID, label, exchangeID, quantity, price)
}

// LogRiskRejection logs a pre-trade risk block
func (l *Logger) LogRiskRejection(portfolioID, symbol string, blockers []string) {
	l.Risk("Portfolio %s rejected order for %s: %v", portfolioID, symbol, blockers)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s", fmt.Sprintf(context+": "+message, args...))
}

// Close writes a session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		footer := fmt.Sprintf(`
================================================================================
EXECUTION ENGINE SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"))
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	timestamp := time.Now().Format("2006-01-02")
	return filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", l.component, timestamp))
}
