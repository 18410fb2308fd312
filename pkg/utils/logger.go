package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger represents the session logger. File output rotates via lumberjack;
// process steps are additionally echoed to stdout so a user following along
// sees the orchestration advance.
type Logger struct {
	logger   *log.Logger
	quiet    bool
	jsonMode bool
}

var (
	globalLogger *Logger
	once         sync.Once
)

// GetLogger returns the singleton instance of Logger. The quiet parameter
// suppresses the stdout echo of process steps; it can be overridden on
// subsequent calls.
func GetLogger(quiet bool) *Logger {
	once.Do(func() {
		logFile := &lumberjack.Logger{
			Filename:   ".forgeloop/session.log",
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		globalLogger = &Logger{
			logger: log.New(logFile, "", log.LstdFlags),
		}
	})
	globalLogger.quiet = quiet
	if os.Getenv("FORGELOOP_JSON_LOGS") == "1" {
		globalLogger.jsonMode = true
	}
	return globalLogger
}

// Close closes the logger resources.
func (w *Logger) Close() error {
	if logFile, ok := w.logger.Writer().(*lumberjack.Logger); ok {
		return logFile.Close()
	}
	return nil
}

// LogProcessStep logs the current step in the build process and echoes it to
// stdout unless quiet mode is on.
func (w *Logger) LogProcessStep(step string) {
	w.logger.Printf("Process Step: %s", step)
	if !w.quiet {
		fmt.Println(step)
	}
}

// Log logs a general message only to the log file.
func (w *Logger) Log(message string) {
	if w.jsonMode {
		_ = json.NewEncoder(w.logger.Writer()).Encode(map[string]any{"level": "info", "msg": message})
		return
	}
	w.logger.Print(message)
}

// Logf logs a formatted general message only to the log file.
func (w *Logger) Logf(format string, v ...interface{}) {
	if w.jsonMode {
		w.Log(fmt.Sprintf(format, v...))
		return
	}
	w.logger.Printf(format, v...)
}

// LogError logs an error to the log file.
func (w *Logger) LogError(err error) {
	if w.jsonMode {
		_ = json.NewEncoder(w.logger.Writer()).Encode(map[string]any{"level": "error", "error": err.Error()})
		return
	}
	w.logger.Printf("Error: %s", err)
}
