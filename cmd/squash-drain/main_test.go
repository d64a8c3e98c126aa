package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/squash-go/pkg/squash"
)

// clearEnv keeps the caller's SQUASH_* variables out of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SQUASH_API_KEY", "SQUASH_ENVIRONMENT", "SQUASH_HOST", "SQUASH_REVISION",
		"SQUASH_NOTIFY_PATH", "SQUASH_DIR", "SQUASH_LOG_LEVEL", "SQUASH_TIMEOUT", "SQUASH_DISABLED",
	} {
		t.Setenv(k, "")
	}
}

func queueOccurrence(t *testing.T, dir, class, message string) squash.Occurrence {
	t.Helper()
	store, err := squash.NewStore(dir)
	require.NoError(t, err)
	o := squash.Occurrence{
		ID:          uuid.NewString(),
		Environment: "test",
		Revision:    "abc123",
		Client:      squash.ClientName,
		OccurredAt:  time.Now().UTC().Truncate(time.Second),
		Kind:        squash.Exception{ClassName: class, Message: message},
	}
	require.NoError(t, store.Append(o))
	return o
}

func writeConfig(t *testing.T, host, dir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "squash.yaml")
	body := "api_key: key-1\nenvironment: test\nrevision: abc123\nhost: " + host + "\ndirectory: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &stdout, &stderr))
}

func TestRun_RequiresDirectory(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "queue directory required")
}

func TestRun_List(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	o := queueOccurrence(t, dir, "*os.PathError", "open x: no such file")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-dir", dir, "-list"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	line := strings.TrimSpace(stdout.String())
	fields := strings.Split(line, "\t")
	require.Len(t, fields, 4)
	assert.Equal(t, o.ID, fields[0])
	assert.Equal(t, "*os.PathError", fields[2])
	assert.Equal(t, "open x: no such file", fields[3])
}

func TestRun_ListShowsCorruptRecords(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	store, err := squash.NewStore(dir)
	require.NoError(t, err)
	id := uuid.NewString()
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), id+".json"), []byte("{"), 0o600))

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-dir", dir, "-list"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), id+"\tCORRUPT\t"), stdout.String())
}

func TestRun_DrainUnconfigured(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-dir", t.TempDir()}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "api_key")
}

func TestRun_DrainDelivers(t *testing.T) {
	clearEnv(t)
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	queueOccurrence(t, dir, "E", "one")
	queueOccurrence(t, dir, "E", "two")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", writeConfig(t, srv.URL, dir)}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	assert.Equal(t, "acknowledged=2 retry_later=0 corrupt=0 expired=0\n", stdout.String())
	assert.Equal(t, int32(2), posts.Load())

	store, err := squash.NewStore(dir)
	require.NoError(t, err)
	n, err := store.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_DrainServerDown(t *testing.T) {
	clearEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dir := t.TempDir()
	queueOccurrence(t, dir, "E", "kept")

	t.Setenv("SQUASH_API_KEY", "key-1")
	t.Setenv("SQUASH_ENVIRONMENT", "test")
	t.Setenv("SQUASH_REVISION", "abc123")
	t.Setenv("SQUASH_HOST", srv.URL)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-dir", dir, "-rate", "50"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Equal(t, "acknowledged=0 retry_later=1 corrupt=0 expired=0\n", stdout.String())
}

func TestRun_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml")}, &stdout, &stderr))
}

func TestPrintReport_Error(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, squash.DrainReport{Err: os.ErrPermission})
	assert.Equal(t, "drain failed: permission denied\n", buf.String())
}
