package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/session"
)

// TargetAll expands to a snapshot of every id at the time of the call.
const TargetAll = "all"

// Options configures a Processor.
type Options struct {
	Out  io.Writer
	Role session.Role
	Auth session.Authentication
}

// Processor sequences session calls into operator verbs. Verbs run one at a
// time; a verb whose precondition fails returns a *PreconditionError without
// side effects.
type Processor struct {
	listener ListenerSession
	context  ContextSession
	role     session.Role
	auth     session.Authentication

	// mu serializes verbs.
	mu sync.Mutex

	outMu sync.Mutex
	out   io.Writer
}

func NewProcessor(listener ListenerSession, ctxSession ContextSession, opts Options) *Processor {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Role == "" {
		opts.Role = session.RoleCommanding
	}
	return &Processor{
		listener: listener,
		context:  ctxSession,
		role:     opts.Role,
		auth:     opts.Auth,
		out:      opts.Out,
	}
}

func (p *Processor) printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Attached returns the name of the attached context, or "".
func (p *Processor) Attached() string {
	peer, ready := p.context.Peer()
	if !ready {
		return ""
	}
	return peer.Name
}

// Prompt renders the REPL prompt for the current state.
func (p *Processor) Prompt() string {
	if name := p.Attached(); name != "" {
		return fmt.Sprintf("spell[%s]> ", name)
	}
	if p.listener.Ready() {
		return "spell> "
	}
	return "spell(offline)> "
}

func (p *Processor) requireListener(verb string) error {
	if !p.listener.Ready() {
		return precondition(verb, ErrNotConnected, "not connected to a listener")
	}
	return nil
}

func (p *Processor) requireContext(verb string) error {
	if !p.context.Ready() {
		return precondition(verb, ErrNotAttached, "not attached to a context")
	}
	return nil
}

// Connect logs the listener session into host:port.
func (p *Processor) Connect(ctx context.Context, host string, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if peer, ready := p.listener.Peer(); ready {
		return precondition("connect", ErrAlreadyConnected, "already connected to %s", peer.Address())
	}
	ep := session.PeerEndpoint{Name: "listener", Host: host, Port: port, Role: p.role, Auth: p.auth}
	if err := p.listener.Login(ctx, ep); err != nil {
		return err
	}
	p.printf("connected to listener at %s", ep.Address())
	return nil
}

// Disconnect detaches from any context, then logs out of the listener.
func (p *Processor) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireListener("disconnect"); err != nil {
		return err
	}
	if p.context.Ready() {
		p.detach(ctx)
	}
	peer, _ := p.listener.Peer()
	p.listener.Logout(ctx)
	p.printf("disconnected from listener at %s", peer.Address())
	return nil
}

// Attach opens the context session for a RUNNING context.
func (p *Processor) Attach(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireListener("attach"); err != nil {
		return err
	}
	return p.attach(ctx, name)
}

// attach does the work of Attach. Callers hold p.mu.
func (p *Processor) attach(ctx context.Context, name string) error {
	if attached := p.Attached(); attached != "" {
		return precondition("attach", ErrAlreadyAttached, "already attached to %s", attached)
	}
	info, err := p.listener.ContextInfo(ctx, name)
	if err != nil {
		return err
	}
	if info.Status != session.ContextRunning {
		return precondition("attach", ErrContextNotRunning, "context %s is %s, not RUNNING", name, info.Status)
	}

	desc, err := p.listener.AttachContext(ctx, name)
	if err != nil {
		return err
	}
	ep := desc.PeerEndpoint
	ep.Name = name
	ep.Role = p.role
	ep.Auth = p.auth
	if ep.Host == "" {
		listenerPeer, _ := p.listener.Peer()
		ep.Host = listenerPeer.Host
	}
	if err := p.context.Login(ctx, ep); err != nil {
		if derr := p.listener.DetachContext(name); derr != nil {
			log.Debug().Str("context", name).Err(derr).Msg("command.Attach detach after failed login")
		}
		return err
	}
	p.printf("attached to context %s at %s", name, ep.Address())
	return nil
}

// Open attaches to name, starting it first when it is AVAILABLE.
func (p *Processor) Open(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireListener("open"); err != nil {
		return err
	}
	info, err := p.listener.ContextInfo(ctx, name)
	if err != nil {
		return err
	}
	if info.Status == session.ContextAvailable {
		if err := p.listener.StartContext(ctx, name); err != nil {
			return err
		}
		p.printf("context %s started", name)
	}
	return p.attach(ctx, name)
}

// Close detaches and logs out of whatever is connected. It never fails.
func (p *Processor) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.context.Ready() {
		p.detach(ctx)
	}
	if p.listener.Ready() {
		p.listener.Logout(ctx)
	}
}

// Detach logs the context session out.
func (p *Processor) Detach(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireContext("detach"); err != nil {
		return err
	}
	p.detach(ctx)
	return nil
}

// detach logs out of the context and tells the listener. Callers hold p.mu.
func (p *Processor) detach(ctx context.Context) {
	name := p.Attached()
	p.context.Logout(ctx)
	if p.listener.Ready() && name != "" {
		if err := p.listener.DetachContext(name); err != nil {
			log.Debug().Str("context", name).Err(err).Msg("command.detach listener notice failed")
		}
	}
	p.printf("detached from context %s", name)
}

// expand resolves target to a list of ids. "all" is snapshotted once via list.
func expand(ctx context.Context, target string, list func(context.Context) ([]string, error)) ([]string, error) {
	if target != TargetAll {
		return []string{target}, nil
	}
	return list(ctx)
}

// each applies fn to every target and joins the failures.
func each(targets []string, fn func(string) error) error {
	var errs []error
	for _, t := range targets {
		if err := fn(t); err != nil {
			if len(targets) == 1 {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) StartContext(ctx context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireListener("start context"); err != nil {
		return err
	}
	names, err := expand(ctx, target, p.listener.ListContexts)
	if err != nil {
		return err
	}
	return each(names, func(name string) error {
		if err := p.listener.StartContext(ctx, name); err != nil {
			return err
		}
		p.printf("context %s started", name)
		return nil
	})
}

// StopContext closes contexts gracefully, detaching first from an attached one.
func (p *Processor) StopContext(ctx context.Context, target string) error {
	return p.teardownContext(ctx, "stop context", target, p.listener.StopContext, "stopped")
}

// KillContext destroys contexts, detaching first from an attached one.
func (p *Processor) KillContext(ctx context.Context, target string) error {
	return p.teardownContext(ctx, "kill context", target, p.listener.DestroyContext, "killed")
}

func (p *Processor) teardownContext(
	ctx context.Context,
	verb string,
	target string,
	op func(context.Context, string) error,
	done string,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireListener(verb); err != nil {
		return err
	}
	names, err := expand(ctx, target, p.listener.ListContexts)
	if err != nil {
		return err
	}
	return each(names, func(name string) error {
		if p.Attached() == name {
			p.detach(ctx)
		}
		if err := op(ctx, name); err != nil {
			return err
		}
		p.printf("context %s %s", name, done)
		return nil
	})
}

// StartExecutor opens procID and moves it to background.
func (p *Processor) StartExecutor(ctx context.Context, procID string, args map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireContext("start executor"); err != nil {
		return err
	}
	if procID == TargetAll {
		return precondition("start executor", ErrUnsupportedTarget, "start executor needs a procedure id, not %q", TargetAll)
	}
	id, err := p.context.StartProcedure(ctx, procID, args)
	if err != nil {
		return err
	}
	p.printf("executor %s started", id)
	return nil
}

func (p *Processor) StopExecutor(ctx context.Context, target string) error {
	return p.executorOp(ctx, "stop executor", target, p.context.StopExecutor, "stopped")
}

func (p *Processor) KillExecutor(ctx context.Context, target string) error {
	return p.executorOp(ctx, "kill executor", target, p.context.KillExecutor, "killed")
}

func (p *Processor) executorOp(
	ctx context.Context,
	verb string,
	target string,
	op func(context.Context, string) error,
	done string,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireContext(verb); err != nil {
		return err
	}
	ids, err := expand(ctx, target, p.context.ListExecutors)
	if err != nil {
		return err
	}
	return each(ids, func(id string) error {
		if err := op(ctx, id); err != nil {
			return err
		}
		p.printf("executor %s %s", id, done)
		return nil
	})
}

// Info prints descriptors for contexts or executors.
func (p *Processor) Info(ctx context.Context, kind, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch kind {
	case KindContext:
		if err := p.requireListener("info context"); err != nil {
			return err
		}
		names, err := expand(ctx, target, p.listener.ListContexts)
		if err != nil {
			return err
		}
		return each(names, func(name string) error {
			desc, err := p.listener.ContextInfo(ctx, name)
			if err != nil {
				return err
			}
			p.printf("%s", formatContext(desc))
			return nil
		})
	case KindExecutor:
		if err := p.requireContext("info executor"); err != nil {
			return err
		}
		ids, err := expand(ctx, target, p.context.ListExecutors)
		if err != nil {
			return err
		}
		return each(ids, func(id string) error {
			desc, err := p.context.ExecutorInfo(ctx, id)
			if err != nil {
				return err
			}
			p.printf("%s", formatExecutor(desc))
			return nil
		})
	default:
		return fmt.Errorf("%w: info {context|executor} <id|all>", ErrUsage)
	}
}

// List prints contexts, executors, or procedures. An empty kind lists
// executors while attached and contexts otherwise.
func (p *Processor) List(ctx context.Context, kind string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == "" {
		kind = KindContext
		if p.context.Ready() {
			kind = KindExecutor
		}
	}
	switch kind {
	case KindContext:
		if err := p.requireListener("list contexts"); err != nil {
			return err
		}
		names, err := p.listener.ListContexts(ctx)
		if err != nil {
			return err
		}
		p.printf("contexts: %s", joinOrNone(names))
	case KindExecutor:
		if err := p.requireContext("list executors"); err != nil {
			return err
		}
		ids, err := p.context.ListExecutors(ctx)
		if err != nil {
			return err
		}
		p.printf("executors: %s", joinOrNone(ids))
	case KindProcedure:
		if err := p.requireContext("list procedures"); err != nil {
			return err
		}
		procs, err := p.context.ListProcedures(ctx, false)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(procs))
		for id := range procs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for i, id := range ids {
			ids[i] = fmt.Sprintf("%s (%s)", id, procs[id])
		}
		p.printf("procedures: %s", joinOrNone(ids))
	default:
		return fmt.Errorf("%w: list [contexts|executors|procedures]", ErrUsage)
	}
	return nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
