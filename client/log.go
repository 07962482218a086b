package client

import (
	"fmt"
	"sync"
	"time"
)

// ExternalLogger defines the minimal logger the client package can use.
// Implemented by the app's structured logger. We keep it small to avoid
// tight coupling.
type ExternalLogger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

var (
	logMu     sync.RWMutex
	extLogger ExternalLogger
)

// SetLogger allows the application to inject a structured logger.
// When unset, log output falls back to stdout.
func SetLogger(l ExternalLogger) {
	logMu.Lock()
	defer logMu.Unlock()
	extLogger = l
}

func currentLogger() ExternalLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return extLogger
}

func writeLine(level, msg string, context ...interface{}) {
	if l := currentLogger(); l != nil {
		switch level {
		case "ERROR":
			l.Error(msg, context...)
		case "WARN":
			l.Warn(msg, context...)
		case "DEBUG":
			l.Debug(msg, context...)
		default:
			l.Info(msg, context...)
		}
		return
	}
	if len(context) > 0 {
		msg = fmt.Sprintf("%s %v", msg, context)
	}
	fmt.Printf("%s [%s] %s\n", time.Now().Format(time.RFC3339), level, msg)
}

func logInfo(msg string, context ...interface{})  { writeLine("INFO", msg, context...) }
func logWarn(msg string, context ...interface{})  { writeLine("WARN", msg, context...) }
func logError(msg string, context ...interface{}) { writeLine("ERROR", msg, context...) }
func logDebug(msg string, context ...interface{}) { writeLine("DEBUG", msg, context...) }
