package command

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/spellctl/internal/session"
	"github.com/danmuck/spellctl/internal/sim"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/danmuck/spellctl/internal/transport"
)

func startDeployment(t *testing.T) (*sim.Listener, *Processor, *bytes.Buffer) {
	t.Helper()
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	l, err := sim.Start(ctx, sim.DefaultConfig())
	require.NoError(t, err)

	cfg := transport.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.DisconnectTimeout = 500 * time.Millisecond
	opts := session.Options{Transport: cfg, ClientKey: "operator-1", ClientHost: "console"}

	ls := session.NewListener(opts)
	cs := session.NewContext(opts)
	out := &bytes.Buffer{}
	p := NewProcessor(ls, cs, Options{Out: out})

	t.Cleanup(func() {
		cs.Logout(context.Background())
		ls.Logout(context.Background())
		l.Close()
		cancel()
	})
	return l, p, out
}

func TestBatchAgainstSimulatedDeployment(t *testing.T) {
	l, p, out := startDeployment(t)

	script := fmt.Sprintf("connect %s %d; start context SAT-A; attach SAT-A; start executor PROC1; list; info executor all",
		l.Host(), l.Port())
	require.NoError(t, p.RunBatch(context.Background(), script))

	assert.Equal(t, "SAT-A", p.Attached())
	text := out.String()
	assert.Contains(t, text, "context SAT-A started")
	assert.Contains(t, text, "attached to context SAT-A")
	assert.Contains(t, text, "executor PROC1#1 started")
	assert.Contains(t, text, "executors: PROC1#1")
	assert.Contains(t, text, "PROC1#1 name=\"Power On\" status=RUNNING mode=CONTROL")
}

func TestStopAttachedContextAgainstSimulatedDeployment(t *testing.T) {
	l, p, _ := startDeployment(t)
	ctx := context.Background()

	require.NoError(t, p.Connect(ctx, l.Host(), l.Port()))
	require.NoError(t, p.StartContext(ctx, "SAT-A"))
	require.NoError(t, p.Attach(ctx, "SAT-A"))

	require.NoError(t, p.StopContext(ctx, "SAT-A"))
	assert.Equal(t, "", p.Attached())

	journal := l.Journal()
	logout := indexOf(journal, "SAT-A logout")
	detach := indexOf(journal, "listener detach-context SAT-A")
	closeCtx := indexOf(journal, "listener close-context SAT-A")
	require.NotEqual(t, -1, logout, "journal: %v", journal)
	require.NotEqual(t, -1, detach, "journal: %v", journal)
	require.NotEqual(t, -1, closeCtx, "journal: %v", journal)
	assert.Less(t, logout, detach)
	assert.Less(t, detach, closeCtx)

	states := l.States()
	require.Len(t, states, 2)
	assert.Equal(t, "AVAILABLE", states[0].Status)
}

func TestContextConnectionLossReleasesAttachment(t *testing.T) {
	l, p, _ := startDeployment(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Connect(ctx, l.Host(), l.Port()))
	require.NoError(t, p.StartContext(ctx, "SAT-A"))
	require.NoError(t, p.Attach(ctx, "SAT-A"))
	go p.Pump(ctx)

	c, ok := l.Context("SAT-A")
	require.True(t, ok)
	c.DropClients()

	require.Eventually(t, func() bool {
		return p.Attached() == "" && len(l.States()[0].Attached) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, l.Journal(), "listener detach-context SAT-A")

	require.NoError(t, p.StopContext(ctx, "SAT-A"))
	assert.Equal(t, "AVAILABLE", l.States()[0].Status)
}

func TestAttachToAvailableContextSendsNothing(t *testing.T) {
	l, p, _ := startDeployment(t)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, l.Host(), l.Port()))
	before := len(l.Journal())

	err := p.Attach(ctx, "SAT-B")
	requirePrecondition(t, err, ErrContextNotRunning)

	journal := l.Journal()
	assert.Equal(t, []string{"listener context-info SAT-B"}, journal[before:])
}

func TestBatchStopsOnRemoteFailure(t *testing.T) {
	l, p, _ := startDeployment(t)

	script := fmt.Sprintf("connect %s %d; stop context SAT-A; list", l.Host(), l.Port())
	err := p.RunBatch(context.Background(), script)
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "not-running", remote.Reason)
	assert.NotContains(t, l.Journal(), "listener list-contexts")
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}
