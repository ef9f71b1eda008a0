package sim

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/danmuck/spellctl/internal/testutil/tlstest"
	"github.com/danmuck/spellctl/internal/transport"
)

type recordingListener struct {
	transport.NopListener
	notes chan protocol.Message
}

func (r *recordingListener) OnNotification(msg protocol.Message) {
	select {
	case r.notes <- msg:
	default:
	}
}

func startTestListener(t *testing.T) *Listener {
	t.Helper()
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	l, err := Start(ctx, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		cancel()
	})
	return l
}

func dialSim(t *testing.T, peer, addr, key string) (*transport.Transport, *recordingListener) {
	t.Helper()
	rec := &recordingListener{notes: make(chan protocol.Message, 16)}
	tr := transport.New(peer, transport.DefaultConfig(), rec)
	require.NoError(t, tr.Connect(context.Background(), addr))
	t.Cleanup(tr.Disconnect)

	resp := request(t, tr, protocol.NewRequest(protocol.MsgLogin).
		WithField(protocol.FieldClientKey, key).
		WithField(protocol.FieldClientHost, "test"))
	require.True(t, resp.OK())
	return tr, rec
}

func request(t *testing.T, tr *transport.Transport, req protocol.Message) transport.Response {
	t.Helper()
	resp, err := tr.SendRequest(context.Background(), req, 2*time.Second)
	require.NoError(t, err)
	return resp
}

func TestListenerContextLifecycle(t *testing.T) {
	l := startTestListener(t)
	tr, rec := dialSim(t, protocol.RoleListener, l.Addr(), "client-1")

	resp := request(t, tr, protocol.NewRequest(protocol.MsgListContexts))
	assert.Equal(t, []string{"SAT-A", "SAT-B"}, resp.Message().List(protocol.FieldContextList))

	resp = request(t, tr, protocol.NewRequest(protocol.MsgOpenContext).WithField(protocol.FieldContextName, "SAT-A"))
	require.True(t, resp.OK())

	select {
	case note := <-rec.notes:
		assert.Equal(t, protocol.MsgContextStatus, note.ID())
		assert.Equal(t, "RUNNING", note.Get(protocol.FieldStatus))
	case <-time.After(time.Second):
		t.Fatal("no context-status notification")
	}

	resp = request(t, tr, protocol.NewRequest(protocol.MsgAttachContext).WithField(protocol.FieldContextName, "SAT-A"))
	require.True(t, resp.OK())
	port, err := strconv.Atoi(resp.Message().Get(protocol.FieldPort))
	require.NoError(t, err)
	c, ok := l.Context("SAT-A")
	require.True(t, ok)
	assert.Equal(t, c.Port(), port)

	resp = request(t, tr, protocol.NewRequest(protocol.MsgCloseContext).WithField(protocol.FieldContextName, "SAT-A"))
	remote, ok := resp.Err().(*transport.RemoteError)
	require.True(t, ok)
	assert.Equal(t, "attached", remote.Reason)

	require.NoError(t, tr.SendMessage(protocol.New(protocol.MsgDetachContext).WithField(protocol.FieldContextName, "SAT-A")))
	resp = request(t, tr, protocol.NewRequest(protocol.MsgCloseContext).WithField(protocol.FieldContextName, "SAT-A"))
	require.True(t, resp.OK())

	states := l.States()
	assert.Equal(t, "AVAILABLE", states[0].Status)
	assert.Empty(t, states[0].Attached)
	_, ok = l.Context("SAT-A")
	assert.False(t, ok)
}

func TestContextExecutorFlow(t *testing.T) {
	l := startTestListener(t)
	tr, _ := dialSim(t, protocol.RoleListener, l.Addr(), "client-1")
	request(t, tr, protocol.NewRequest(protocol.MsgOpenContext).WithField(protocol.FieldContextName, "SAT-B"))
	c, ok := l.Context("SAT-B")
	require.True(t, ok)

	ctr, _ := dialSim(t, protocol.RoleContext, c.Addr(), "client-1")

	resp := request(t, ctr, protocol.NewRequest(protocol.MsgGetInstanceID).WithField(protocol.FieldProcID, "PROC2"))
	id := resp.Message().Get(protocol.FieldInstanceID)
	assert.Equal(t, "PROC2#1", id)

	request(t, ctr, protocol.NewRequest(protocol.MsgOpenExec).WithField(protocol.FieldInstanceID, id))
	status, ok := c.ExecutorStatus(id)
	require.True(t, ok)
	assert.Equal(t, "LOADED", status)

	request(t, ctr, protocol.NewRequest(protocol.MsgBackgroundExec).WithField(protocol.FieldInstanceID, id))
	status, _ = c.ExecutorStatus(id)
	assert.Equal(t, "RUNNING", status)

	resp = request(t, ctr, protocol.NewRequest(protocol.MsgExecInfo).WithField(protocol.FieldInstanceID, id))
	assert.Equal(t, "Telemetry Check", resp.Message().Get(protocol.FieldProcName))
	assert.Equal(t, "client-1", resp.Message().Get(protocol.FieldControllingClient))

	request(t, ctr, protocol.NewRequest(protocol.MsgKillExec).WithField(protocol.FieldInstanceID, id))
	assert.Empty(t, c.Executors())

	resp = request(t, ctr, protocol.NewRequest(protocol.MsgExecInfo).WithField(protocol.FieldInstanceID, id))
	assert.Error(t, resp.Err())
}

func TestFaultInjection(t *testing.T) {
	l := startTestListener(t)
	tr, _ := dialSim(t, protocol.RoleListener, l.Addr(), "client-1")

	l.FailNext(protocol.MsgListContexts, "injected")
	resp := request(t, tr, protocol.NewRequest(protocol.MsgListContexts))
	remote, ok := resp.Err().(*transport.RemoteError)
	require.True(t, ok)
	assert.Equal(t, "injected", remote.Reason)

	resp = request(t, tr, protocol.NewRequest(protocol.MsgListContexts))
	assert.True(t, resp.OK(), "failure should apply once")

	l.DropNext(protocol.MsgPing, 1)
	_, err := tr.SendRequest(context.Background(), protocol.NewRequest(protocol.MsgPing), 100*time.Millisecond)
	var timeout *transport.TimeoutError
	require.ErrorAs(t, err, &timeout)

	resp = request(t, tr, protocol.NewRequest("no-such-request"))
	assert.Error(t, resp.Err())

	assert.Contains(t, l.Journal(), "listener list-contexts")
	assert.Equal(t, int64(1), l.ConnectedClients())
}

func TestDelayedRepliesTimeOut(t *testing.T) {
	l := startTestListener(t)
	tr, _ := dialSim(t, protocol.RoleListener, l.Addr(), "client-1")

	l.SetDelay(300 * time.Millisecond)
	_, err := tr.SendRequest(context.Background(), protocol.NewRequest(protocol.MsgPing), 50*time.Millisecond)
	var timeout *transport.TimeoutError
	require.ErrorAs(t, err, &timeout)

	l.SetDelay(0)
	resp := request(t, tr, protocol.NewRequest(protocol.MsgListContexts))
	assert.True(t, resp.OK())
}

func TestLoginChecksCredentials(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := DefaultConfig()
	cfg.Auth = auth.Static{"ops": "s3cret"}
	l, err := Start(ctx, cfg)
	require.NoError(t, err)
	defer l.Close()

	tr := transport.New(protocol.RoleListener, transport.DefaultConfig(), transport.NopListener{})
	require.NoError(t, tr.Connect(context.Background(), l.Addr()))
	defer tr.Disconnect()

	login := protocol.NewRequest(protocol.MsgLogin).WithField(protocol.FieldClientKey, "client-1")
	resp := request(t, tr, login.WithField(protocol.FieldAuthUser, "ops").WithField(protocol.FieldAuthPassword, "guess"))
	remote, ok := resp.Err().(*transport.RemoteError)
	require.True(t, ok)
	assert.Equal(t, "unauthorized", remote.Reason)

	resp = request(t, tr, login.WithField(protocol.FieldAuthUser, "ops").WithField(protocol.FieldAuthPassword, "s3cret"))
	assert.True(t, resp.OK())
	assert.NotEmpty(t, resp.Message().Get(protocol.FieldSessionID))
}

func TestServesListenerAndContextsOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "sim-ca")
	server := ca.Server(t, "sim", "127.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := DefaultConfig()
	cfg.TLS = ca.ServerConfig(t, server, false)
	l, err := Start(ctx, cfg)
	require.NoError(t, err)
	defer l.Close()

	tcfg := transport.DefaultConfig()
	tcfg.TLS = transport.TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	dial := func(peer, addr string) *transport.Transport {
		tr := transport.New(peer, tcfg, transport.NopListener{})
		require.NoError(t, tr.Connect(context.Background(), addr))
		t.Cleanup(tr.Disconnect)
		resp := request(t, tr, protocol.NewRequest(protocol.MsgLogin).WithField(protocol.FieldClientKey, "tls-client"))
		require.True(t, resp.OK())
		return tr
	}

	tr := dial(protocol.RoleListener, l.Addr())
	resp := request(t, tr, protocol.NewRequest(protocol.MsgOpenContext).WithField(protocol.FieldContextName, "SAT-A"))
	require.True(t, resp.OK())
	c, ok := l.Context("SAT-A")
	require.True(t, ok)

	ctr := dial(protocol.RoleContext, c.Addr())
	resp = request(t, ctr, protocol.NewRequest(protocol.MsgProcList))
	assert.Equal(t, "Power On", resp.Message().Map(protocol.FieldProcList)["PROC1"])
}
