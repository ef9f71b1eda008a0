package sim

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/protocol"
)

type executor struct {
	id         string
	procID     string
	name       string
	status     string
	mode       string
	background bool
	controller string
	monitors   []string
	args       map[string]string
	stageID    string
	stageTitle string
	action     string
}

// Context is one running simulated context server.
type Context struct {
	name  string
	procs map[string]string
	srv   *server

	mu       sync.Mutex
	order    []string
	execs    map[string]*executor
	reserved map[string]string
	counters map[string]int
	auth     auth.Validator
}

func startContext(ctx context.Context, spec ContextSpec, cfg Config, j *journal) (*Context, error) {
	ln, err := listen(net.JoinHostPort(cfg.Host, "0"), cfg.TLS)
	if err != nil {
		return nil, err
	}
	procs := make(map[string]string, len(cfg.Procedures))
	for id, name := range cfg.Procedures {
		procs[id] = name
	}
	c := &Context{
		name:     spec.Name,
		procs:    procs,
		execs:    make(map[string]*executor),
		reserved: make(map[string]string),
		counters: make(map[string]int),
		auth:     cfg.Auth,
	}
	c.srv = newServer(spec.Name, protocol.RoleContext, ln, c, j)
	c.srv.start(ctx)
	return c, nil
}

func (c *Context) Name() string { return c.name }
func (c *Context) Addr() string { return c.srv.Addr() }
func (c *Context) Port() int    { return c.srv.Port() }

func (c *Context) DropNext(id string, n int)  { c.srv.DropNext(id, n) }
func (c *Context) FailNext(id, reason string) { c.srv.FailNext(id, reason) }

// DropClients cuts every client connection to this context.
func (c *Context) DropClients() { c.srv.dropClients() }

func (c *Context) shutdown() {
	c.srv.shutdown()
}

// Executors lists open instance ids in creation order.
func (c *Context) Executors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// ExecutorStatus reports the status of one open executor.
func (c *Context) ExecutorStatus(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.execs[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

func (c *Context) handle(pc *peerConn, msg protocol.Message) protocol.Message {
	switch msg.ID() {
	case protocol.MsgLogin:
		if name := msg.Get(protocol.FieldContextName); name != "" && name != c.name {
			return protocol.ErrorTo(msg, fmt.Sprintf("this is context %s, not %s", c.name, name), "wrong-context", protocol.OriginContext)
		}
		return handleLogin(pc, msg, protocol.OriginContext, c.auth)
	case protocol.MsgLogout, protocol.MsgPing:
		return protocol.ResponseTo(msg)
	case protocol.MsgProcList:
		return protocol.ResponseTo(msg).WithMap(protocol.FieldProcList, c.procs)
	case protocol.MsgProcProperties:
		id := msg.Get(protocol.FieldProcID)
		name, ok := c.procs[id]
		if !ok {
			return unknownProc(msg, id)
		}
		return protocol.ResponseTo(msg).WithMap(protocol.FieldProperties, map[string]string{
			"id":      id,
			"name":    name,
			"author":  "spellsim",
			"version": "1.0",
		})
	case protocol.MsgExecList:
		return protocol.ResponseTo(msg).WithList(protocol.FieldExecList, c.Executors())
	case protocol.MsgGetInstanceID:
		return c.reserve(msg)
	case protocol.MsgOpenExec:
		return c.open(pc, msg)
	case protocol.MsgBackgroundExec:
		return c.transition(msg, func(e *executor) {
			e.status = "RUNNING"
			e.background = true
			e.stageID = "1"
			e.stageTitle = "Main"
			e.action = "executing"
		}, false)
	case protocol.MsgCloseExec:
		return c.transition(msg, func(e *executor) { e.status = "FINISHED" }, true)
	case protocol.MsgKillExec:
		return c.transition(msg, func(e *executor) { e.status = "ABORTED" }, true)
	case protocol.MsgExecInfo:
		id := msg.Get(protocol.FieldInstanceID)
		c.mu.Lock()
		defer c.mu.Unlock()
		e, ok := c.execs[id]
		if !ok {
			return unknownExecutor(msg, id)
		}
		return describeExecutor(protocol.ResponseTo(msg), e)
	case protocol.MsgFileReq:
		return fileResponse(msg, c.name)
	default:
		return protocol.Message{}
	}
}

func (c *Context) closed(*peerConn) {}

func (c *Context) reserve(msg protocol.Message) protocol.Message {
	procID := msg.Get(protocol.FieldProcID)
	if _, ok := c.procs[procID]; !ok {
		return unknownProc(msg, procID)
	}
	c.mu.Lock()
	c.counters[procID]++
	id := fmt.Sprintf("%s#%d", procID, c.counters[procID])
	c.reserved[id] = procID
	c.mu.Unlock()
	return protocol.ResponseTo(msg).WithField(protocol.FieldInstanceID, id)
}

func (c *Context) open(pc *peerConn, msg protocol.Message) protocol.Message {
	id := msg.Get(protocol.FieldInstanceID)
	background, _ := strconv.ParseBool(msg.Get(protocol.FieldBackground))
	c.mu.Lock()
	procID, ok := c.reserved[id]
	if !ok {
		c.mu.Unlock()
		return protocol.ErrorTo(msg, fmt.Sprintf("instance id %q was not issued", id), "unknown-instance", protocol.OriginExecutor)
	}
	delete(c.reserved, id)
	e := &executor{
		id:         id,
		procID:     procID,
		name:       c.procs[procID],
		status:     "LOADED",
		mode:       "CONTROL",
		background: background,
		controller: pc.ClientKey(),
		args:       msg.Map(protocol.FieldArguments),
	}
	c.execs[id] = e
	c.order = append(c.order, id)
	c.mu.Unlock()

	log.Debug().Str("context", c.name).Str("instance", id).Msg("sim.Context executor opened")
	c.notifyStatus(id, e.status)
	return protocol.ResponseTo(msg).WithField(protocol.FieldInstanceID, id)
}

// transition applies fn to the executor named in msg and, when remove is set,
// drops it afterwards.
func (c *Context) transition(msg protocol.Message, fn func(*executor), remove bool) protocol.Message {
	id := msg.Get(protocol.FieldInstanceID)
	c.mu.Lock()
	e, ok := c.execs[id]
	if !ok {
		c.mu.Unlock()
		return unknownExecutor(msg, id)
	}
	fn(e)
	status := e.status
	if remove {
		delete(c.execs, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	c.notifyStatus(id, status)
	return protocol.ResponseTo(msg).WithField(protocol.FieldInstanceID, id)
}

func (c *Context) notifyStatus(id, status string) {
	c.srv.broadcast(protocol.New(protocol.MsgExecStatus).
		WithField(protocol.FieldInstanceID, id).
		WithField(protocol.FieldStatus, status))
}

func describeExecutor(out protocol.Message, e *executor) protocol.Message {
	out = out.
		WithField(protocol.FieldInstanceID, e.id).
		WithField(protocol.FieldProcID, e.procID).
		WithField(protocol.FieldProcName, e.name).
		WithField(protocol.FieldStatus, e.status).
		WithField(protocol.FieldMode, e.mode).
		WithField(protocol.FieldBackground, strconv.FormatBool(e.background)).
		WithField(protocol.FieldControllingClient, e.controller).
		WithList(protocol.FieldMonitoringClients, e.monitors)
	if e.stageID != "" {
		out = out.WithField(protocol.FieldStageID, e.stageID).
			WithField(protocol.FieldStageTitle, e.stageTitle).
			WithField(protocol.FieldCurrentAction, e.action)
	}
	if len(e.args) > 0 {
		out = out.WithMap(protocol.FieldArguments, e.args)
	}
	return out
}

func unknownProc(msg protocol.Message, id string) protocol.Message {
	return protocol.ErrorTo(msg, fmt.Sprintf("unknown procedure %q", id), "unknown-procedure", protocol.OriginContext)
}

func unknownExecutor(msg protocol.Message, id string) protocol.Message {
	return protocol.ErrorTo(msg, fmt.Sprintf("unknown executor %q", id), "unknown-executor", protocol.OriginExecutor)
}
