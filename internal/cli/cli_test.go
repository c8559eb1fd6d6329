package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCLI struct {
	t      *testing.T
	config string
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "lockctl.yaml")
	data := "backend: sqlite\n" +
		"dsn: " + filepath.Join(dir, "locks.db") + "\n" +
		"region: test\n" +
		"ttl: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cli := &testCLI{t: t, config: path}
	out, code := cli.run("migrate")
	require.Equal(t, ExitOK, code, out)
	return cli
}

func (c *testCLI) run(args ...string) (string, int) {
	c.t.Helper()

	return runCLI(append([]string{"--config", c.config}, args...)...)
}

func runCLI(args ...string) (string, int) {
	var out bytes.Buffer
	root, a := newRoot()
	root.SetOut(&out)
	root.SetErr(&out)
	code := a.execute(context.Background(), root, args)
	return out.String(), code
}

func TestMigrate(t *testing.T) {
	cli := newTestCLI(t)

	out, code := cli.run("migrate", "--json")
	require.Equal(t, ExitOK, code, out)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "sqlite", got["backend"])
	assert.Equal(t, true, got["migrated"])
}

func TestLeaseRoundTrip(t *testing.T) {
	cli := newTestCLI(t)

	out, code := cli.run("acquire", "jobs", "--owner", "alice", "--json")
	require.Equal(t, ExitOK, code, out)
	var rec leaseRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "jobs", rec.Name)
	assert.Equal(t, "alice", rec.Owner)
	assert.Equal(t, "test", rec.Region)
	assert.Len(t, rec.Key, 36)

	out, code = cli.run("acquire", "jobs", "--owner", "bob")
	assert.Equal(t, ExitBusy, code, out)
	assert.Contains(t, out, "held by another owner")

	out, code = cli.run("acquire", "jobs", "--owner", "bob", "--wait", "30ms")
	assert.Equal(t, ExitBusy, code, out)

	out, code = cli.run("status", "jobs")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "locked")

	out, code = cli.run("status", "--json")
	require.Equal(t, ExitOK, code, out)
	var rows []leaseRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Owner)
	assert.Equal(t, rec.Key, rows[0].Key)

	out, code = cli.run("renew", "jobs", "--owner", "bob")
	assert.Equal(t, ExitLostOwnership, code, out)

	out, code = cli.run("renew", "jobs", "--owner", "alice", "--ttl", "2m")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "renewed")

	out, code = cli.run("release", "jobs", "--owner", "bob")
	assert.Equal(t, ExitLostOwnership, code, out)

	out, code = cli.run("release", "jobs", "--owner", "alice")
	require.Equal(t, ExitOK, code, out)

	out, code = cli.run("status", "jobs")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "free")

	out, code = cli.run("status")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "No leases in region test")
}

func TestRegionFlag(t *testing.T) {
	cli := newTestCLI(t)

	_, code := cli.run("acquire", "jobs", "--owner", "alice", "--region", "eu")
	require.Equal(t, ExitOK, code)

	out, code := cli.run("acquire", "jobs", "--owner", "bob")
	assert.Equal(t, ExitOK, code, "regions are independent: %s", out)
}

func TestGC(t *testing.T) {
	cli := newTestCLI(t)

	_, code := cli.run("acquire", "short", "--owner", "alice", "--ttl", "1ms")
	require.Equal(t, ExitOK, code)

	require.Eventually(t, func() bool {
		out, code := cli.run("status", "short")
		return code == ExitOK && bytes.Contains([]byte(out), []byte("free"))
	}, time.Second, 5*time.Millisecond)

	out, code := cli.run("gc", "--json")
	require.Equal(t, ExitOK, code, out)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 1, got["deleted"])
}

func TestExec(t *testing.T) {
	cli := newTestCLI(t)

	out, code := cli.run("exec", "task", "--", "sh", "-c", "echo running")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "running")

	out, code = cli.run("status", "task")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "free", "exec releases the lock when the command exits")
}

func TestExecExitCode(t *testing.T) {
	cli := newTestCLI(t)

	_, code := cli.run("exec", "task", "--", "sh", "-c", "exit 7")
	assert.Equal(t, 7, code)

	out, code := cli.run("status", "task")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "free")
}

func TestExecBusy(t *testing.T) {
	cli := newTestCLI(t)

	_, code := cli.run("acquire", "task", "--owner", "alice")
	require.Equal(t, ExitOK, code)

	out, code := cli.run("exec", "task", "--wait", "30ms", "--", "sh", "-c", "echo never")
	assert.Equal(t, ExitBusy, code, out)
	assert.NotContains(t, out, "never")
}

func TestUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: etcd\n"), 0o600))

	out, code := runCLI("--config", path, "status")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, out, "lockctl:")
}
