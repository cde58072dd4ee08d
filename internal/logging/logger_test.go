package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lines decodes every JSON log line written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func jsonLogger(buf *bytes.Buffer, level string) Logger {
	return New(Config{Level: level, Format: "json", Writer: buf})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warning"))
	assert.Equal(t, logrus.ErrorLevel, parseLevel("error"))
	assert.Equal(t, logrus.InfoLevel, parseLevel(""))
	assert.Equal(t, logrus.InfoLevel, parseLevel("verbose"))
}

func TestJSONLine(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").Info("commit flushed", "seq", 7, "objects", 2)

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "commit flushed", got[0]["msg"])
	assert.Equal(t, "info", got[0]["level"])
	assert.EqualValues(t, 7, got[0]["seq"])
	assert.EqualValues(t, 2, got[0]["objects"])
	assert.Contains(t, got[0], "ts")
}

func TestTextLine(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf}).Warn("version conflict", "oid", 12)
	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, `msg="version conflict"`)
	assert.Contains(t, out, "oid=12")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, "warn")
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	got := lines(t, &buf)
	require.Len(t, got, 2)
	assert.Equal(t, "w", got[0]["msg"])
	assert.Equal(t, "e", got[1]["msg"])
}

func TestWithFieldsIsolation(t *testing.T) {
	var buf bytes.Buffer
	root := jsonLogger(&buf, "debug")
	file := root.WithFields("file", "/tmp/a.odb")
	handle := file.WithFields("handle", "h1")

	root.Info("root")
	file.Info("file")
	handle.Info("handle")

	got := lines(t, &buf)
	require.Len(t, got, 3)
	assert.NotContains(t, got[0], "file")
	assert.Equal(t, "/tmp/a.odb", got[1]["file"])
	assert.NotContains(t, got[1], "handle")
	assert.Equal(t, "/tmp/a.odb", got[2]["file"])
	assert.Equal(t, "h1", got[2]["handle"])
}

func TestWithTx(t *testing.T) {
	var buf bytes.Buffer
	trace := NewTraceID()
	_, err := uuid.Parse(trace)
	require.NoError(t, err)
	assert.NotEqual(t, trace, NewTraceID())

	jsonLogger(&buf, "info").WithTx(42, trace).Info("transaction committed")
	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.EqualValues(t, 42, got[0]["tx"])
	assert.Equal(t, trace, got[0]["trace"])
}

func TestMalformedPairs(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger(&buf, "info").Info("m", "a", 1, 2, "skipped", "dangling")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0]["a"])
	assert.NotContains(t, got[0], "dangling")
	assert.NotContains(t, got[0], "skipped")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oodb.log")
	New(Config{Output: path, Format: "json"}).Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Debug("x", "k", 1)
		l.Info("x")
		l.Warn("x")
		l.Error("x")
	})
	assert.Equal(t, l, l.WithFields("k", "v"))
	assert.Equal(t, l, l.WithTx(1, "t"))
}
