package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Logger is a subsystem logger. All messages are appended with the subsystem
// tag and forwarded to the owning Backend.
type Logger struct {
	lvl       Level // atomic
	tag       string
	b         *Backend
	writeChan chan<- logEntry
}

// Trace formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelTrace.
func (l *Logger) Trace(args ...interface{}) {
	l.print(LevelTrace, args...)
}

// Tracef formats message according to format specifier, prepends the prefix as
// necessary, and writes to log with LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.printf(LevelTrace, format, args...)
}

// Debug formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelDebug.
func (l *Logger) Debug(args ...interface{}) {
	l.print(LevelDebug, args...)
}

// Debugf formats message according to format specifier, prepends the prefix as
// necessary, and writes to log with LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(LevelDebug, format, args...)
}

// Info formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelInfo.
func (l *Logger) Info(args ...interface{}) {
	l.print(LevelInfo, args...)
}

// Infof formats message according to format specifier, prepends the prefix as
// necessary, and writes to log with LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.printf(LevelInfo, format, args...)
}

// Warn formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelWarn.
func (l *Logger) Warn(args ...interface{}) {
	l.print(LevelWarn, args...)
}

// Warnf formats message according to format specifier, prepends the prefix as
// necessary, and writes to log with LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.printf(LevelWarn, format, args...)
}

// Error formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelError.
func (l *Logger) Error(args ...interface{}) {
	l.print(LevelError, args...)
}

// Errorf formats message according to format specifier, prepends the prefix as
// necessary, and writes to log with LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(LevelError, format, args...)
}

// Critical formats message using the default formats for its operands, prepends
// the prefix as necessary, and writes to log with LevelCritical.
func (l *Logger) Critical(args ...interface{}) {
	l.print(LevelCritical, args...)
}

// Criticalf formats message according to format specifier, prepends the prefix
// as necessary, and writes to log with LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.printf(LevelCritical, format, args...)
}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32((*uint32)(&l.lvl)))
}

// SetLevel changes the logging level to the passed level.
func (l *Logger) SetLevel(logLevel Level) {
	atomic.StoreUint32((*uint32)(&l.lvl), uint32(logLevel))
}

func (l *Logger) print(logLevel Level, args ...interface{}) {
	if logLevel < l.Level() {
		return
	}
	l.write(logLevel, fmt.Sprint(args...))
}

func (l *Logger) printf(logLevel Level, format string, args ...interface{}) {
	if logLevel < l.Level() {
		return
	}
	l.write(logLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) write(logLevel Level, msg string) {
	// The write channel has no consumer until the backend runs. Entries
	// written before InitLog are dropped rather than blocking the caller.
	if !l.b.IsRunning() {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	entry := fmt.Sprintf("%s [%s] %s: %s\n", timestamp, logLevel, l.tag, msg)
	l.writeChan <- logEntry{log: []byte(entry), level: logLevel}
}

// BackendLog is the default logging backend all subsystem loggers in the
// application are registered with.
var BackendLog = NewBackend()

var (
	subsystemsMutex sync.Mutex
	subsystems      = make(map[string]*Logger)
)

// RegisterSubSystem registers a new subsystem logger with the default backend,
// returning the existing logger if the tag was already registered.
func RegisterSubSystem(subsystem string) *Logger {
	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	if log, ok := subsystems[subsystem]; ok {
		return log
	}
	log := BackendLog.Logger(subsystem)
	subsystems[subsystem] = log
	return log
}

// InitLog attaches log file and stdout writers to the default backend and
// starts it. Must be called before the first log message is written.
func InitLog(logFile string, stdoutLevel Level) error {
	err := BackendLog.AddLogWriter(os.Stdout, stdoutLevel)
	if err != nil {
		return errors.Wrap(err, "error adding stdout to the logger")
	}
	if logFile != "" {
		err = BackendLog.AddLogFile(logFile, LevelTrace)
		if err != nil {
			return errors.Wrapf(err, "error adding log file %s to the logger", logFile)
		}
	}
	return BackendLog.Run()
}

// SetLogLevels sets the logging level of all registered subsystems to the
// provided level string.
func SetLogLevels(level string) error {
	lvl, ok := LevelFromString(level)
	if !ok {
		return errors.Errorf("invalid log level: %s", level)
	}
	subsystemsMutex.Lock()
	defer subsystemsMutex.Unlock()
	for _, log := range subsystems {
		log.SetLevel(lvl)
	}
	return nil
}
