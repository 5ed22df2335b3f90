package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{level, "test", &buf, new(sync.Mutex)}, &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error": Error,
		"W":     Warn,
		"Info":  Info,
		"d":     Debug,
		"trace": MaxLevel,
		"-2":    Error,
		"5":     Level(5),
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		require.NoError(t, err, "level %q", in)
		assert.Equal(t, want, got, "level %q", in)
	}

	for _, bad := range []string{"", "verbose", "10", "-3"} {
		_, err := parseLevel(bad)
		assert.Error(t, err, "level %q", bad)
	}
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newTestLogger(Info)

	log.Debug("quiet %d", 1)
	assert.Empty(t, buf.String())

	log.Warn("loud %d", 2)
	out := buf.String()
	assert.Contains(t, out, "loud 2")
	assert.Contains(t, out, "W/test")
	assert.Contains(t, out, "logging_test.go:")
}

func TestOneRecordPerLine(t *testing.T) {
	log, buf := newTestLogger(Debug)

	log.Info("no trailing newline")
	log.Info("explicit trailing newline\n")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestWithTagPicksConfiguredLevel(t *testing.T) {
	log, _ := newTestLogger(Info)

	tagLevels["chatty"] = Debug
	defer delete(tagLevels, "chatty")

	assert.Equal(t, Debug, log.WithTag("chatty").Level)
	assert.Equal(t, Info, log.WithTag("other").Level)
}

func TestSetDestinationRedirects(t *testing.T) {
	log, buf := newTestLogger(Info)

	var other bytes.Buffer
	log.SetDestination(&other)
	log.Error("elsewhere")

	assert.Empty(t, buf.String())
	assert.Contains(t, other.String(), "elsewhere")
}
