// Package log wraps seelog to provide structured, leveled logging of
// ratchet-branch lifecycle events (handshake, eviction, prekey
// consumption) without requiring callers to wire up a logging backend
// themselves.
package log

import (
	"fmt"
	"path"

	"github.com/cihub/seelog"
)

var logger seelog.LoggerInterface

func init() {
	logger = seelog.Disabled
}

// Init configures the package logger at the given level, optionally
// writing to a rolling file under logDir and/or the console.
func Init(level, logDir string, logToConsole bool) error {
	if _, found := seelog.LogLevelFromString(level); !found {
		return fmt.Errorf("log: level %q is invalid", level)
	}

	console := ""
	if logToConsole {
		console = "<console />"
	}
	var file string
	if logDir != "" {
		file = fmt.Sprintf(`<rollingfile type="size" filename="%s" maxsize="10485760" maxrolls="3" />`,
			path.Join(logDir, "proteus.log"))
	}

	config := fmt.Sprintf(`
<seelog type="adaptive" mininterval="2000000" maxinterval="100000000"
	critmsgcount="500" minlevel="%s">
	<outputs formatid="all">
		%s
		%s
	</outputs>
	<formats>
		<format id="all" format="%%UTCDate %%UTCTime [proteus] [%%LEV] %%Msg%%n" />
	</formats>
</seelog>`, level, console, file)

	l, err := seelog.LoggerFromConfigAsString(config)
	if err != nil {
		return err
	}
	l.SetAdditionalStackDepth(1)
	UseLogger(l)
	return nil
}

// UseLogger replaces the package logger with one supplied by the embedding
// application.
func UseLogger(l seelog.LoggerInterface) { logger = l }

// Flush drains buffered log messages.
func Flush() { logger.Flush() }

// Critical logs at the Critical level.
func Critical(v ...interface{}) { _ = logger.Critical(v...) }

// Criticalf logs a formatted message at the Critical level.
func Criticalf(format string, params ...interface{}) { _ = logger.Criticalf(format, params...) }

// Error logs at the Error level.
func Error(v ...interface{}) { _ = logger.Error(v...) }

// Errorf logs a formatted message at the Error level.
func Errorf(format string, params ...interface{}) { _ = logger.Errorf(format, params...) }

// Warn logs at the Warn level.
func Warn(v ...interface{}) { _ = logger.Warn(v...) }

// Warnf logs a formatted message at the Warn level.
func Warnf(format string, params ...interface{}) { _ = logger.Warnf(format, params...) }

// Info logs at the Info level.
func Info(v ...interface{}) { logger.Info(v...) }

// Infof logs a formatted message at the Info level.
func Infof(format string, params ...interface{}) { logger.Infof(format, params...) }

// Debug logs at the Debug level.
func Debug(v ...interface{}) { logger.Debug(v...) }

// Debugf logs a formatted message at the Debug level.
func Debugf(format string, params ...interface{}) { logger.Debugf(format, params...) }

// Trace logs at the Trace level.
func Trace(v ...interface{}) { logger.Trace(v...) }

// Tracef logs a formatted message at the Trace level.
func Tracef(format string, params ...interface{}) { logger.Tracef(format, params...) }
