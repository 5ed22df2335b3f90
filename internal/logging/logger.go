// Package logging provides the leveled, tagged diagnostic log used
// throughout udpcam. Levels are configured at startup from the LOGLEVEL
// environment variable, either globally ("LOGLEVEL=debug") or per tag
// ("LOGLEVEL=pump=9,warn").
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05.000"

const envVar = "LOGLEVEL"

type Logger struct {
	// Messages intended for a more verbose level than this are ignored.
	Level

	// Tag used to filter and classify log messages.
	Tag string

	out io.Writer

	// Serializes writes from different goroutines. Shared by all
	// loggers derived from the same root.
	mu *sync.Mutex
}

// All diagnostics go to stderr; stdout is reserved for operator output.
var DefaultLogger = &Logger{defaultLevel, "", os.Stderr, new(sync.Mutex)}

var tagLevels map[string]Level

func init() {
	// Comma-separated "tag=level" directives; a bare level sets the
	// default for untagged and unlisted loggers.
	tagLevels = make(map[string]Level)
	for _, d := range strings.Split(os.Getenv(envVar), ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid %s directive %q: %s\n", envVar, d, err)
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels[v[0]] = level
		}
	}
	DefaultLogger.Level = defaultLevel
}

// Override the destination for this logger. Used by tests to capture
// diagnostics.
func (log *Logger) SetDestination(out io.Writer) {
	log.out = out
}

// Derive a new logger with the given tag, at the level configured for
// that tag (or the parent's level when the tag is not configured).
func (log *Logger) WithTag(tag string) *Logger {
	level := log.Level
	if l, ok := tagLevels[tag]; ok {
		level = l
	}
	return &Logger{level, tag, log.out, log.mu}
}

// Log a message at the given level, annotated with the file and line
// 'calldepth' frames up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		return
	}

	var b strings.Builder
	b.WriteString(ansiGray)
	b.WriteString(time.Now().Format(timestampFormat))
	fmt.Fprintf(&b, " %s%c/%s", level.color(), level.letter(), log.Tag)

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file = "?"
	}
	fmt.Fprintf(&b, "[%s:%d] %s", filepath.Base(file), line, ansiReset)

	fmt.Fprintf(&b, format, a...)
	if n := len(format); n == 0 || format[n-1] != '\n' {
		b.WriteByte('\n')
	}

	log.mu.Lock()
	io.WriteString(log.out, b.String())
	log.mu.Unlock()
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}

func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.Log(Level(n), 1, format, a...)
}
