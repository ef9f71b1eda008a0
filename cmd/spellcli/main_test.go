package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/sim"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
)

func startSim(t *testing.T) *sim.Listener {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := sim.Start(ctx, sim.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		cancel()
	})
	return l
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newRootCmd(strings.NewReader(stdin), out)
	cmd.SetArgs(args)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBatchStartsAndAttachesContext(t *testing.T) {
	testlog.Start(t)
	l := startSim(t)

	out, err := execute(t, "",
		"--host", l.Host(), "--port", strconv.Itoa(l.Port()), "--context", "SAT-A",
		"--timeout", "2s", "--exec", "start executor PROC1;list")
	require.NoError(t, err)
	assert.Contains(t, out, "context SAT-A started")
	assert.Contains(t, out, "attached to context SAT-A")
	assert.Contains(t, out, "executors: PROC1#1")
	assert.Contains(t, out, "detached from context SAT-A")

	st := l.States()
	assert.Equal(t, "RUNNING", st[0].Status)
	assert.Empty(t, st[0].Attached)
}

func TestBatchFailureReturnsError(t *testing.T) {
	testlog.Start(t)
	l := startSim(t)

	_, err := execute(t, "",
		"--host", l.Host(), "--port", strconv.Itoa(l.Port()), "--context", "SAT-A",
		"--exec", "bogus;start executor PROC1")
	require.ErrorIs(t, err, command.ErrUnknownCommand)

	c, ok := l.Context("SAT-A")
	require.True(t, ok)
	assert.Empty(t, c.Executors())
}

func TestInteractiveSessionWithoutPrompt(t *testing.T) {
	testlog.Start(t)
	l := startSim(t)

	out, err := execute(t, "list procedures\nattach SAT-B\nquit\n",
		"--host", l.Host(), "--port", strconv.Itoa(l.Port()), "--context", "SAT-A")
	require.NoError(t, err)
	assert.Contains(t, out, "procedures: PROC1 (Power On), PROC2 (Telemetry Check), PROC3 (Safe Mode)")
	assert.Contains(t, out, "error: attach: already attached to SAT-A")
	assert.NotContains(t, out, "spell[")
}

func TestRequiredFlags(t *testing.T) {
	testlog.Start(t)
	_, err := execute(t, "", "--host", "localhost", "--port", "9988")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestUnreachableListener(t *testing.T) {
	testlog.Start(t)
	_, err := execute(t, "", "--host", "127.0.0.1", "--port", "1", "--context", "SAT-A", "--exec", "list")
	require.Error(t, err)
}
