package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tasksync/internal/models"
	"tasksync/internal/offline"
	"tasksync/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls []string
	limit int
	days  int
}

func (f *fakeRunner) ResetFailed(context.Context) (int, error) {
	f.calls = append(f.calls, "reset")
	return 2, nil
}

func (f *fakeRunner) ProcessSyncQueue(_ context.Context, limit int) offline.Result {
	f.calls = append(f.calls, "process")
	f.limit = limit
	return offline.Result{Processed: 1, Failed: 1, Status: offline.StatusOK}
}

func (f *fakeRunner) Cleanup(_ context.Context, days int) (int, error) {
	f.calls = append(f.calls, "cleanup")
	f.days = days
	return 3, nil
}

func TestRunSync(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())

	r := &fakeRunner{}
	require.NoError(t, runSync(cmd, r, syncOptions{limit: 5, retryFailed: true, cleanup: true, days: 9}))

	assert.Equal(t, []string{"reset", "process", "cleanup"}, r.calls)
	assert.Equal(t, 5, r.limit)
	assert.Equal(t, 9, r.days)
	assert.Contains(t, out.String(), "Reset 2 failed records")
	assert.Contains(t, out.String(), "status=ok processed=1 failed=1")
	assert.Contains(t, out.String(), "Removed 3 completed records")

	r = &fakeRunner{}
	out.Reset()
	require.NoError(t, runSync(cmd, r, syncOptions{}))
	assert.Equal(t, []string{"process"}, r.calls)
}

func TestRenderFeatures(t *testing.T) {
	snap := models.FeatureSnapshot{
		Features:   map[models.Feature]bool{models.FeatureOnline: true},
		CapturedAt: time.Now(),
	}
	rendered := renderFeatures(snap)
	for _, f := range models.Features {
		assert.Contains(t, rendered, string(f))
	}

	lines := strings.Split(rendered, "\n")
	var online, database string
	for _, l := range lines {
		switch {
		case strings.Contains(l, "online"):
			online = l
		case strings.Contains(l, "database"):
			database = l
		}
	}
	assert.Contains(t, online, "yes")
	assert.Contains(t, database, "no")
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
app:
  name: tasksync-test
logging:
  level: error
database:
  driver: sqlite3
  path: %[1]s/db/tasksync.db
sync:
  enabled: true
  mode: standalone
  queue_path: %[1]s/taskmanager/sync_queue/queue.json
storage:
  driver: memory
detection:
  network_check_url: http://127.0.0.1:1/unreachable
  timeout: 1
tasks:
  driver: database
  path: %[1]s/tasks.json
`, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestStorageState(t *testing.T) {
	assert.Equal(t, "file", storageState("file", storage.NewMemoryDriver()))

	fd := storage.NewFailoverDriver(storage.NewRedisDriver(nil, "x:"), storage.NewMemoryDriver(), nil)
	assert.Equal(t, "redis", storageState("redis", fd))
	require.NoError(t, fd.Set(context.Background(), "k", 1))
	assert.Equal(t, "redis (degraded, using memory)", storageState("redis", fd))
}

func TestSyncCommand_Offline(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sync", "--config", path, "--limit", "3"})
	require.NoError(t, root.Execute())

	// GitHub is not configured, so nothing is drained.
	assert.Contains(t, out.String(), "status=disabled processed=0 failed=0")
	assert.FileExists(t, filepath.Join(dir, "db", "tasksync.db"))
}

func TestNewApp_Wiring(t *testing.T) {
	dir := t.TempDir()
	v := viper.New()
	v.Set("config", writeConfig(t, dir))

	a, err := newApp(v)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.db)
	ctx := context.Background()

	task := &models.Task{Title: "Wired"}
	require.NoError(t, a.tasks.CreateTask(ctx, task))

	// No provider is configured, so the create event is queued in the database.
	stats, err := a.coordinator.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["database"][models.SyncPending])
	assert.Equal(t, 0, stats["file"].Total())

	stored, err := a.tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wired", stored.Title)
}
