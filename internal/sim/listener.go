package sim

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/auth"
	"github.com/danmuck/spellctl/internal/protocol"
)

// ContextSpec describes one context the simulated listener owns.
type ContextSpec struct {
	Name          string `json:"name"`
	SpacecraftID  string `json:"spacecraft_id"`
	Driver        string `json:"driver"`
	Family        string `json:"family"`
	GCSHost       string `json:"gcs_host"`
	Description   string `json:"description"`
	MaxProcedures int    `json:"max_procedures"`
}

// Config configures the simulated listener.
type Config struct {
	// Addr is the listener bind address. Context servers bind to Host:0.
	Addr     string
	Host     string
	Contexts []ContextSpec
	// Procedures maps procedure id to display name in every context.
	Procedures map[string]string
	TLS        *tls.Config
	// Auth, when set, checks the credentials of every login.
	Auth auth.Validator
}

func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1:0",
		Host: "127.0.0.1",
		Contexts: []ContextSpec{
			{Name: "SAT-A", SpacecraftID: "1", Driver: "STANDALONE", Family: "PRIME", GCSHost: "gcs-a", Description: "Primary spacecraft", MaxProcedures: 10},
			{Name: "SAT-B", SpacecraftID: "2", Driver: "STANDALONE", Family: "BACKUP", GCSHost: "gcs-b", Description: "Backup spacecraft", MaxProcedures: 10},
		},
		Procedures: map[string]string{
			"PROC1": "Power On",
			"PROC2": "Telemetry Check",
			"PROC3": "Safe Mode",
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if strings.TrimSpace(c.Host) == "" {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil || host == "" || host == "0.0.0.0" || host == "::" {
			host = def.Host
		}
		c.Host = host
	}
	if c.Contexts == nil {
		c.Contexts = def.Contexts
	}
	if c.Procedures == nil {
		c.Procedures = def.Procedures
	}
	return c
}

// ContextState is a snapshot of one simulated context.
type ContextState struct {
	Spec     ContextSpec `json:"spec"`
	Status   string      `json:"status"`
	Port     int         `json:"port"`
	Attached []string    `json:"attached"`
}

type contextEntry struct {
	spec     ContextSpec
	server   *Context
	attached map[string]struct{}
}

func (e *contextEntry) status() string {
	if e.server != nil {
		return "RUNNING"
	}
	return "AVAILABLE"
}

// Listener is the simulated top-level listener.
type Listener struct {
	cfg     Config
	ctx     context.Context
	srv     *server
	journal *journal

	mu       sync.Mutex
	names    []string
	contexts map[string]*contextEntry
}

// Start binds the listener and serves until ctx is done or Close is called.
func Start(ctx context.Context, cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	ln, err := listen(cfg.Addr, cfg.TLS)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		cfg:      cfg,
		ctx:      ctx,
		journal:  &journal{},
		contexts: make(map[string]*contextEntry, len(cfg.Contexts)),
	}
	for _, spec := range cfg.Contexts {
		l.names = append(l.names, spec.Name)
		l.contexts[spec.Name] = &contextEntry{spec: spec, attached: map[string]struct{}{}}
	}
	l.srv = newServer(protocol.RoleListener, protocol.RoleListener, ln, l, l.journal)
	l.srv.start(ctx)
	return l, nil
}

func (l *Listener) Addr() string { return l.srv.Addr() }
func (l *Listener) Host() string { return l.cfg.Host }
func (l *Listener) Port() int    { return l.srv.Port() }

// Close stops the listener and every running context server.
func (l *Listener) Close() {
	l.mu.Lock()
	var running []*Context
	for _, e := range l.contexts {
		if e.server != nil {
			running = append(running, e.server)
			e.server = nil
		}
	}
	l.mu.Unlock()
	for _, c := range running {
		c.shutdown()
	}
	l.srv.shutdown()
}

// Journal lists every inbound message across listener and contexts as
// "<server> <id> [context] [instance]" in arrival order.
func (l *Listener) Journal() []string {
	return l.journal.snapshot()
}

func (l *Listener) DropNext(id string, n int)  { l.srv.DropNext(id, n) }
func (l *Listener) FailNext(id, reason string) { l.srv.FailNext(id, reason) }
func (l *Listener) SetDelay(d time.Duration)   { l.srv.SetDelay(d) }
func (l *Listener) ConnectedClients() int64    { return l.srv.clients.Load() }
func (l *Listener) ContextNames() []string     { return append([]string(nil), l.names...) }

// Context returns the running context server for name.
func (l *Listener) Context(name string) (*Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.contexts[name]
	if !ok || e.server == nil {
		return nil, false
	}
	return e.server, true
}

// States snapshots every context in declaration order.
func (l *Listener) States() []ContextState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ContextState, 0, len(l.names))
	for _, name := range l.names {
		e := l.contexts[name]
		st := ContextState{Spec: e.spec, Status: e.status(), Attached: sortedKeys(e.attached)}
		if e.server != nil {
			st.Port = e.server.Port()
		}
		out = append(out, st)
	}
	return out
}

func (l *Listener) handle(pc *peerConn, msg protocol.Message) protocol.Message {
	switch msg.ID() {
	case protocol.MsgLogin:
		return handleLogin(pc, msg, protocol.OriginListener, l.cfg.Auth)
	case protocol.MsgLogout:
		l.detachAll(pc.ClientKey())
		return protocol.ResponseTo(msg)
	case protocol.MsgPing:
		return protocol.ResponseTo(msg)
	case protocol.MsgListContexts:
		l.mu.Lock()
		names := append([]string(nil), l.names...)
		l.mu.Unlock()
		return protocol.ResponseTo(msg).WithList(protocol.FieldContextList, names)
	case protocol.MsgContextInfo:
		return l.withContext(msg, func(e *contextEntry) protocol.Message {
			return l.describe(protocol.ResponseTo(msg), e)
		})
	case protocol.MsgOpenContext:
		return l.openContext(msg)
	case protocol.MsgCloseContext, protocol.MsgDestroyContext:
		return l.closeContext(msg)
	case protocol.MsgAttachContext:
		return l.withContext(msg, func(e *contextEntry) protocol.Message {
			if e.server == nil {
				return protocol.ErrorTo(msg, fmt.Sprintf("context %s is not running", e.spec.Name), "not-running", protocol.OriginListener)
			}
			e.attached[pc.ClientKey()] = struct{}{}
			return l.describe(protocol.ResponseTo(msg), e)
		})
	case protocol.MsgDetachContext:
		name := msg.Get(protocol.FieldContextName)
		l.mu.Lock()
		if e, ok := l.contexts[name]; ok {
			delete(e.attached, pc.ClientKey())
		}
		l.mu.Unlock()
		if msg.Kind() == protocol.KindRequest {
			return protocol.ResponseTo(msg)
		}
		return protocol.Message{}
	case protocol.MsgFileReq:
		return fileResponse(msg, "listener")
	default:
		return protocol.Message{}
	}
}

func (l *Listener) closed(pc *peerConn) {
	l.detachAll(pc.ClientKey())
}

func (l *Listener) detachAll(clientKey string) {
	if clientKey == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.contexts {
		delete(e.attached, clientKey)
	}
}

// withContext runs fn with l.mu held for the context named in msg.
func (l *Listener) withContext(msg protocol.Message, fn func(*contextEntry) protocol.Message) protocol.Message {
	name := msg.Get(protocol.FieldContextName)
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.contexts[name]
	if !ok {
		return protocol.ErrorTo(msg, fmt.Sprintf("unknown context %q", name), "unknown-context", protocol.OriginListener)
	}
	return fn(e)
}

func (l *Listener) describe(out protocol.Message, e *contextEntry) protocol.Message {
	port := 0
	if e.server != nil {
		port = e.server.Port()
	}
	return out.
		WithField(protocol.FieldContextName, e.spec.Name).
		WithField(protocol.FieldStatus, e.status()).
		WithField(protocol.FieldSpacecraftID, e.spec.SpacecraftID).
		WithField(protocol.FieldDriver, e.spec.Driver).
		WithField(protocol.FieldFamily, e.spec.Family).
		WithField(protocol.FieldGCSHost, e.spec.GCSHost).
		WithField(protocol.FieldDescription, e.spec.Description).
		WithField(protocol.FieldMaxProcedures, strconv.Itoa(e.spec.MaxProcedures)).
		WithField(protocol.FieldHost, l.cfg.Host).
		WithField(protocol.FieldPort, strconv.Itoa(port))
}

func (l *Listener) openContext(msg protocol.Message) protocol.Message {
	name := msg.Get(protocol.FieldContextName)
	reply := l.withContext(msg, func(e *contextEntry) protocol.Message {
		if e.server != nil {
			return protocol.ErrorTo(msg, fmt.Sprintf("context %s is already running", name), "already-running", protocol.OriginListener)
		}
		c, err := startContext(l.ctx, e.spec, l.cfg, l.journal)
		if err != nil {
			return protocol.ErrorTo(msg, err.Error(), "start-failed", protocol.OriginListener)
		}
		e.server = c
		log.Info().Str("context", name).Str("addr", c.Addr()).Msg("sim.Listener context started")
		return protocol.ResponseTo(msg)
	})
	if reply.Kind() == protocol.KindResponse {
		l.notifyStatus(name, "RUNNING")
	}
	return reply
}

func (l *Listener) closeContext(msg protocol.Message) protocol.Message {
	name := msg.Get(protocol.FieldContextName)
	var stopped *Context
	reply := l.withContext(msg, func(e *contextEntry) protocol.Message {
		if e.server == nil {
			return protocol.ErrorTo(msg, fmt.Sprintf("context %s is not running", name), "not-running", protocol.OriginListener)
		}
		if len(e.attached) > 0 {
			return protocol.ErrorTo(msg,
				fmt.Sprintf("context %s has attached clients: %s", name, strings.Join(sortedKeys(e.attached), ",")),
				"attached", protocol.OriginListener)
		}
		stopped = e.server
		e.server = nil
		return protocol.ResponseTo(msg)
	})
	if stopped != nil {
		stopped.shutdown()
		log.Info().Str("context", name).Str("op", msg.ID()).Msg("sim.Listener context stopped")
		l.notifyStatus(name, "AVAILABLE")
	}
	return reply
}

func (l *Listener) notifyStatus(name, status string) {
	l.srv.broadcast(protocol.New(protocol.MsgContextStatus).
		WithField(protocol.FieldContextName, name).
		WithField(protocol.FieldStatus, status))
}

func handleLogin(pc *peerConn, msg protocol.Message, origin string, v auth.Validator) protocol.Message {
	key := msg.Get(protocol.FieldClientKey)
	if key == "" {
		return protocol.ErrorTo(msg, "client key required", "bad-login", origin)
	}
	if v != nil {
		user := msg.Get(protocol.FieldAuthUser)
		if err := v.Validate(user, msg.Get(protocol.FieldAuthPassword)); err != nil {
			log.Warn().Str("user", user).Str("origin", origin).Msg("sim.login rejected")
			return protocol.ErrorTo(msg, err.Error(), "unauthorized", origin)
		}
	}
	sessionID := uuid.NewString()
	pc.setLogin(key, sessionID)
	return protocol.ResponseTo(msg).WithField(protocol.FieldSessionID, sessionID)
}

func fileResponse(msg protocol.Message, scope string) protocol.Message {
	fileType := msg.Get(protocol.FieldFileType)
	if fileType == "" {
		fileType = "ASRUN"
	}
	procID := msg.Get(protocol.FieldProcID)
	if procID == "" {
		procID = "none"
	}
	path := fmt.Sprintf("/spell/%s/%s.%s", scope, procID, strings.ToLower(fileType))
	return protocol.ResponseTo(msg).WithField(protocol.FieldFilePath, path)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
