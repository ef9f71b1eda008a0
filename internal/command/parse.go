package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/spellctl/internal/session"
)

// Object kinds accepted by start/stop/kill/info/list.
const (
	KindContext   = "context"
	KindExecutor  = "executor"
	KindProcedure = "procedure"
)

var kindAliases = map[string]string{
	"context":    KindContext,
	"contexts":   KindContext,
	"ctx":        KindContext,
	"executor":   KindExecutor,
	"executors":  KindExecutor,
	"exec":       KindExecutor,
	"procedure":  KindProcedure,
	"procedures": KindProcedure,
	"proc":       KindProcedure,
}

type helpEntry struct {
	usage   string
	summary string
}

var helpOrder = []string{"list", "info", "connect", "disconnect", "attach", "detach", "start", "stop", "kill", "help", "exit"}

var helpTopics = map[string]helpEntry{
	"list":       {"list [contexts|executors|procedures]", "list contexts, or executors while attached"},
	"info":       {"info {context|executor} <id|all>", "show descriptors"},
	"connect":    {"connect <host> <port>", "log into a listener"},
	"disconnect": {"disconnect", "detach if attached, then log out of the listener"},
	"attach":     {"attach <context>", "open a session with a RUNNING context"},
	"detach":     {"detach", "close the context session"},
	"start":      {"start {context|executor} <id|all> [key=value ...]", "start a context or a procedure executor"},
	"stop":       {"stop {context|executor} <id|all>", "stop gracefully; detaches first from the attached context"},
	"kill":       {"kill {context|executor} <id|all>", "kill; detaches first from the attached context"},
	"help":       {"help [command]", "show usage"},
	"exit":       {"exit | quit", "leave the client"},
}

// Help prints usage for cmd, or a summary of every command.
func (p *Processor) Help(cmd string) error {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if cmd == "quit" {
		cmd = "exit"
	}
	if cmd != "" {
		entry, ok := helpTopics[cmd]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
		}
		p.printf("%s  %s", entry.usage, entry.summary)
		return nil
	}
	for _, name := range helpOrder {
		entry := helpTopics[name]
		p.printf("%-52s %s", entry.usage, entry.summary)
	}
	return nil
}

// Execute parses and runs one REPL line. exit and quit return ErrExit.
func (p *Processor) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "exit", "quit":
		return ErrExit
	case "help", "?":
		if len(args) > 1 {
			return usage("help")
		}
		return p.Help(strings.Join(args, ""))
	case "connect":
		if len(args) != 2 {
			return usage(verb)
		}
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%w: invalid port %q", ErrUsage, args[1])
		}
		return p.Connect(ctx, args[0], port)
	case "disconnect":
		if len(args) != 0 {
			return usage(verb)
		}
		return p.Disconnect(ctx)
	case "attach":
		if len(args) != 1 {
			return usage(verb)
		}
		return p.Attach(ctx, args[0])
	case "detach":
		if len(args) != 0 {
			return usage(verb)
		}
		return p.Detach(ctx)
	case "list":
		if len(args) > 1 {
			return usage(verb)
		}
		kind := ""
		if len(args) == 1 {
			var ok bool
			if kind, ok = kindAliases[strings.ToLower(args[0])]; !ok {
				return usage(verb)
			}
		}
		return p.List(ctx, kind)
	case "info":
		kind, target, _, err := kindAndTarget(verb, args, false)
		if err != nil {
			return err
		}
		return p.Info(ctx, kind, target)
	case "start":
		kind, target, rest, err := kindAndTarget(verb, args, true)
		if err != nil {
			return err
		}
		if kind == KindContext {
			if len(rest) > 0 {
				return usage(verb)
			}
			return p.StartContext(ctx, target)
		}
		params, err := parseArgs(rest)
		if err != nil {
			return err
		}
		return p.StartExecutor(ctx, target, params)
	case "stop", "kill":
		kind, target, _, err := kindAndTarget(verb, args, false)
		if err != nil {
			return err
		}
		switch {
		case kind == KindContext && verb == "stop":
			return p.StopContext(ctx, target)
		case kind == KindContext:
			return p.KillContext(ctx, target)
		case verb == "stop":
			return p.StopExecutor(ctx, target)
		default:
			return p.KillExecutor(ctx, target)
		}
	default:
		return fmt.Errorf("%w: %s (try help)", ErrUnknownCommand, verb)
	}
}

func usage(verb string) error {
	entry, ok := helpTopics[verb]
	if !ok {
		return ErrUsage
	}
	return fmt.Errorf("%w: %s", ErrUsage, entry.usage)
}

// kindAndTarget parses "{context|executor} <id|all> [rest...]".
func kindAndTarget(verb string, args []string, allowRest bool) (string, string, []string, error) {
	if len(args) < 2 || (!allowRest && len(args) > 2) {
		return "", "", nil, usage(verb)
	}
	kind, ok := kindAliases[strings.ToLower(args[0])]
	if !ok || kind == KindProcedure {
		return "", "", nil, usage(verb)
	}
	target := args[1]
	if strings.EqualFold(target, TargetAll) {
		target = TargetAll
	}
	return kind, target, args[2:], nil
}

func parseArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: argument %q is not key=value", ErrUsage, pair)
		}
		out[k] = v
	}
	return out, nil
}

// RunBatch runs ";"-separated commands in order and stops at the first failure.
// An exit command ends the batch successfully.
func (p *Processor) RunBatch(ctx context.Context, script string) error {
	for _, line := range strings.Split(script, ";") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := p.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				return nil
			}
			return fmt.Errorf("%s: %w", line, err)
		}
	}
	return nil
}

func formatContext(d session.ContextDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s status=%s", d.Name, d.Status)
	if d.SpacecraftID != "" {
		fmt.Fprintf(&b, " sc=%s", d.SpacecraftID)
	}
	if d.Driver != "" {
		fmt.Fprintf(&b, " driver=%s", d.Driver)
	}
	if d.Family != "" {
		fmt.Fprintf(&b, " family=%s", d.Family)
	}
	if d.GCSHost != "" {
		fmt.Fprintf(&b, " gcs=%s", d.GCSHost)
	}
	if d.MaxProcedures > 0 {
		fmt.Fprintf(&b, " max_procs=%d", d.MaxProcedures)
	}
	if d.Port > 0 {
		fmt.Fprintf(&b, " port=%d", d.Port)
	}
	if d.Description != "" {
		fmt.Fprintf(&b, " desc=%q", d.Description)
	}
	return b.String()
}

func formatExecutor(d session.ExecutorDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s name=%q status=%s mode=%s background=%t", d.ProcID, d.ProcName, d.Status, d.Mode, d.Background)
	if d.ControllingClient != "" {
		fmt.Fprintf(&b, " controller=%s", d.ControllingClient)
	}
	if len(d.MonitoringClients) > 0 {
		fmt.Fprintf(&b, " monitors=%s", strings.Join(d.MonitoringClients, ","))
	}
	if d.ParentProcID != "" {
		fmt.Fprintf(&b, " parent=%s:%d", d.ParentProcID, d.CallingLine)
	}
	if d.StageID != "" {
		fmt.Fprintf(&b, " stage=%s:%q", d.StageID, d.StageTitle)
	}
	if d.CurrentAction != "" {
		fmt.Fprintf(&b, " action=%q", d.CurrentAction)
	}
	if d.Status == session.ExecutorError {
		fmt.Fprintf(&b, " error=%q reason=%s", d.ErrorMessage, d.ErrorReason)
	}
	return b.String()
}
