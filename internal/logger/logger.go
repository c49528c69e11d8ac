package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) valid() bool {
	return l >= LevelDebug && l <= LevelError
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(level string) (Level, bool) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	}
	return LevelInfo, false
}

// Config describes where and how log lines are written.
type Config struct {
	Level     string
	Format    string
	Outputs   []string
	QueueSize int
	Rotation  RotationConfig
}

// RotationConfig enables size based rotation for file outputs.
type RotationConfig struct {
	Enabled    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type entry struct {
	level Level
	msg   string
	at    time.Time
}

var (
	currentLevel atomic.Int32
	sink         atomic.Pointer[zap.Logger]

	// queue is nil while the logger runs synchronously.
	queueMu sync.RWMutex
	queue   chan entry
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	sink.Store(newLogger(consoleEncoder(), zapcore.AddSync(os.Stdout)))
}

func SetLevel(level string) {
	if l, ok := ParseLevel(level); ok {
		currentLevel.Store(int32(l))
	}
}

// GetLevel returns the minimum level currently written.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Configure replaces the sink with one built from cfg and switches to
// asynchronous mode when cfg.QueueSize is positive.
func Configure(cfg Config) error {
	level, ok := ParseLevel(cfg.Level)
	if !ok && cfg.Level != "" {
		return fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		encoder = consoleEncoder()
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(outputs))
	for _, out := range outputs {
		ws, err := openOutput(out, cfg.Rotation)
		if err != nil {
			return err
		}
		syncers = append(syncers, ws)
	}

	old := sink.Swap(newLogger(encoder, zapcore.NewMultiWriteSyncer(syncers...)))
	if old != nil {
		_ = old.Sync()
	}
	currentLevel.Store(int32(level))

	if cfg.QueueSize > 0 {
		EnableAsync(cfg.QueueSize)
	} else {
		DisableAsync()
	}
	return nil
}

// SetWriter sends plain text log lines to w. Mostly useful in tests.
func SetWriter(w io.Writer) {
	old := sink.Swap(newLogger(consoleEncoder(), zapcore.AddSync(w)))
	if old != nil {
		_ = old.Sync()
	}
}

func openOutput(out string, rotation RotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	if rotation.Enabled {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    max(rotation.MaxSizeMB, 10),
			MaxBackups: max(rotation.MaxBackups, 1),
			MaxAge:     max(rotation.MaxAgeDays, 7),
			Compress:   rotation.Compress,
		}), nil
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", out, err)
	}
	return zapcore.AddSync(f), nil
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}

func newLogger(enc zapcore.Encoder, ws zapcore.WriteSyncer) *zap.Logger {
	// Filtering happens in log(); the core accepts everything.
	return zap.New(zapcore.NewCore(enc, ws, zapcore.DebugLevel))
}

// EnableAsync routes log lines through a bounded queue of the given size.
// Lines are written by whoever calls Drain, normally the log drain task.
func EnableAsync(size int) {
	if size <= 0 {
		return
	}
	queueMu.Lock()
	if queue == nil {
		queue = make(chan entry, size)
	}
	queueMu.Unlock()
}

// DisableAsync reverts to synchronous writes after flushing the queue.
func DisableAsync() {
	queueMu.Lock()
	q := queue
	queue = nil
	queueMu.Unlock()

	if q != nil {
		drainAll(q)
	}
	_ = sink.Load().Sync()
}

// Async reports whether log lines are currently queued.
func Async() bool {
	queueMu.RLock()
	defer queueMu.RUnlock()
	return queue != nil
}

// Pending returns the number of queued lines not yet written.
func Pending() int {
	queueMu.RLock()
	defer queueMu.RUnlock()
	if queue == nil {
		return 0
	}
	return len(queue)
}

// Drain writes up to limit queued lines. It waits at most wait for the first
// line and returns the number of lines written.
func Drain(limit int, wait time.Duration) int {
	queueMu.RLock()
	q := queue
	queueMu.RUnlock()
	if q == nil || limit <= 0 {
		return 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var first entry
	select {
	case first = <-q:
	case <-timer.C:
		return 0
	}
	write(first)

	n := 1
	for n < limit {
		select {
		case e := <-q:
			write(e)
			n++
		default:
			return n
		}
	}
	return n
}

// Flush writes every queued line and syncs the sink.
func Flush() {
	queueMu.RLock()
	q := queue
	queueMu.RUnlock()
	if q != nil {
		drainAll(q)
	}
	_ = sink.Load().Sync()
}

func drainAll(q chan entry) {
	for {
		select {
		case e := <-q:
			write(e)
		default:
			return
		}
	}
}

func write(e entry) {
	if ce := sink.Load().Check(e.level.zapLevel(), e.msg); ce != nil {
		ce.Time = e.at
		ce.Write()
	}
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}
	enqueue(entry{level: level, msg: fmt.Sprintf(format, v...), at: time.Now()})
}

func enqueue(e entry) {
	queueMu.RLock()
	if queue != nil {
		select {
		case queue <- e:
			queueMu.RUnlock()
			return
		default:
			// Saturated: fall through to a synchronous write.
		}
	}
	queueMu.RUnlock()
	write(e)
}

// Log writes message with the given severity. An unknown severity is a
// programming error and panics.
func Log(message string, level Level) {
	if !level.valid() {
		panic(fmt.Sprintf("logger: invalid severity %d", int(level)))
	}
	if level < GetLevel() {
		return
	}
	enqueue(entry{level: level, msg: message, at: time.Now()})
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}
