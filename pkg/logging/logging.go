// pkg/logging/logging.go - Structured, rotated logging for lexsetup
//
// This package keeps a process-wide logger with a small package-level API
// (Info, Debug, Warn, Error with key/value pairs) used by every stage of the
// installer and uninstaller. Features include:
// - Rotated plain-text log (setup.log) via lumberjack
// - JSON-lines mirror (events.jsonl) for external tooling
// - Optional console echo
// - Per-run session identifiers

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string onto a LogLevel. Unknown values
// fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

func (ll LogLevel) logrus() logrus.Level {
	switch ll {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// RetentionPolicy defines log rotation rules
type RetentionPolicy struct {
	MaxSizeMB  int  // Rotate once the active file exceeds this size
	MaxBackups int  // Keep at most this many rotated files
	MaxAgeDays int  // Delete rotated files older than this
	Compress   bool // gzip rotated files
}

// DefaultRetentionPolicy returns sensible defaults for log retention
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxSizeMB:  5,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// LoggerConfig holds configuration for the logger
type LoggerConfig struct {
	BaseDir       string          // Directory holding setup.log and events.jsonl
	FileName      string          // Main log file name (default setup.log)
	Component     string          // installer, uninstaller
	Level         LogLevel        // Minimum level written
	Retention     RetentionPolicy // Rotation policy
	EnableJSON    bool            // Mirror entries to events.jsonl
	EnableConsole bool            // Echo entries to stderr
}

// Logger encapsulates the file-backed logger and the console printer.
type Logger struct {
	mu        sync.RWMutex
	logger    *log.Logger // console printer used by the instance methods
	logLevel  LogLevel
	main      *logrus.Logger
	jsonl     *logrus.Logger
	closers   []io.Closer
	config    LoggerConfig
	logFile   string
	sessionID string
	hostname  string
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the singleton Logger. It must be called before file
// logging is expected; until then entries go to the logrus standard logger.
func Init(cfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(cfg)
	})
	return initErr
}

// ReInit closes the existing logger (if any) and creates a new one.
func ReInit(cfg LoggerConfig) error {
	CloseLogger()
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	once.Do(func() {})
	instance = l
	return nil
}

func newLogger(cfg LoggerConfig) (*Logger, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("log directory must not be empty")
	}
	if cfg.FileName == "" {
		cfg.FileName = "setup.log"
	}
	if cfg.Component == "" {
		cfg.Component = "lexsetup"
	}
	if cfg.Retention == (RetentionPolicy{}) {
		cfg.Retention = DefaultRetentionPolicy()
	}

	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.BaseDir, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		logger:    log.New(os.Stderr, "", 0),
		logLevel:  cfg.Level,
		config:    cfg,
		logFile:   filepath.Join(cfg.BaseDir, cfg.FileName),
		sessionID: uuid.NewString(),
		hostname:  hostname,
	}

	rotator := l.rotator(l.logFile)
	var out io.Writer = rotator
	if cfg.EnableConsole {
		out = io.MultiWriter(os.Stderr, rotator)
	}
	l.main = logrus.New()
	l.main.SetOutput(out)
	l.main.SetLevel(cfg.Level.logrus())
	l.main.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})

	if cfg.EnableJSON {
		l.jsonl = logrus.New()
		l.jsonl.SetOutput(l.rotator(filepath.Join(cfg.BaseDir, "events.jsonl")))
		l.jsonl.SetLevel(cfg.Level.logrus())
		l.jsonl.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	return l, nil
}

func (l *Logger) rotator(path string) *lumberjack.Logger {
	r := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.config.Retention.MaxSizeMB,
		MaxBackups: l.config.Retention.MaxBackups,
		MaxAge:     l.config.Retention.MaxAgeDays,
		Compress:   l.config.Retention.Compress,
	}
	l.closers = append(l.closers, r)
	return r
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.mu.Lock()
	defer instance.mu.Unlock()

	for _, c := range instance.closers {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
		}
	}
	instance.closers = nil
	instance.main = nil
	instance.jsonl = nil
}

// CurrentLogFile returns the path of the active log file, or "" when file
// logging has not been initialised.
func CurrentLogFile() string {
	if instance == nil {
		return ""
	}
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	return instance.logFile
}

// SessionID returns the current session ID
func SessionID() string {
	if instance == nil {
		return ""
	}
	return instance.sessionID
}

// fields converts alternating key/value pairs into logrus fields.
func fields(keyValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		f[fmt.Sprintf("%v", keyValues[i])] = keyValues[i+1]
	}
	return f
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, f logrus.Fields) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.main == nil {
		logrus.WithFields(f).Log(level.logrus(), message)
		return
	}

	l.main.WithFields(f).Log(level.logrus(), message)

	if l.jsonl != nil {
		jf := logrus.Fields{
			"component":  l.config.Component,
			"session_id": l.sessionID,
			"hostname":   l.hostname,
			"pid":        os.Getpid(),
		}
		for k, v := range f {
			jf[k] = v
		}
		l.jsonl.WithFields(jf).Log(level.logrus(), message)
	}
}

func logAt(level LogLevel, message string, keyValues []interface{}) {
	f := fields(keyValues)
	if instance == nil {
		logrus.WithFields(f).Log(level.logrus(), message)
		return
	}
	instance.logMessage(level, message, f)
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	logAt(LevelInfo, message, keyValues)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	logAt(LevelDebug, message, keyValues)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	logAt(LevelWarn, message, keyValues)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	logAt(LevelError, message, keyValues)
}

// LogStructured logs a message with explicit properties.
func LogStructured(level LogLevel, message string, properties map[string]interface{}) {
	f := logrus.Fields(properties)
	if instance == nil {
		logrus.WithFields(f).Log(level.logrus(), message)
		return
	}
	instance.logMessage(level, message, f)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

// New creates a console Logger used by the command-line front ends.
func New(verbose bool) *Logger {
	enableColors()

	output := os.Stdout
	if !verbose {
		output = os.Stderr
	}
	return &Logger{
		logger:   log.New(output, "", 0),
		logLevel: LevelInfo,
	}
}

// SetOutput changes the console output destination.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.SetOutput(w)
}

// colorPrintf prints a colored message.
func (l *Logger) colorPrintf(color, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	l.logger.Printf("%s[%s] %s%s", color, ts, msg, colorReset)
}

// Printf prints a regular message.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf(format, v...)
	l.logger.Printf("[%s] %s", ts, msg)
}

// Info prints an informational message (instance method counterpart to the package-level Info).
func (l *Logger) Info(format string, v ...interface{}) {
	l.Printf(format, v...)
}

// Success prints a success message in green.
func (l *Logger) Success(format string, v ...interface{}) {
	l.colorPrintf(colorGreen, format, v...)
}

// Error prints an error message in red.
func (l *Logger) Error(format string, v ...interface{}) {
	l.colorPrintf(colorRed, format, v...)
}

// Warning prints a warning message in yellow.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.colorPrintf(colorYellow, format, v...)
}

// Debug prints a debug message in blue.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.colorPrintf(colorBlue, format, v...)
}

// Fatal prints an error message in red and exits.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.Error(format, v...)
	os.Exit(1)
}
