package command

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/session"
)

// Pump prints session events until ctx is done. Events arrive already handed
// off from the receive goroutines, so state changes here take the verb lock
// like any other verb.
func (p *Processor) Pump(ctx context.Context) {
	listenerEvents := p.listener.Events()
	contextEvents := p.context.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-listenerEvents:
			if !ok {
				listenerEvents = nil
				continue
			}
			p.HandleEvent(ctx, ev)
		case ev, ok := <-contextEvents:
			if !ok {
				contextEvents = nil
				continue
			}
			p.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent reports one event. Losing the listener also closes the context
// session so no context stays attached without its listener. Losing the
// context tells the listener the attachment is gone.
func (p *Processor) HandleEvent(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventContextStatus:
		p.printf("context %s is now %s", ev.Name, ev.Status)
	case session.EventExecutorStatus:
		if ev.Detail != "" {
			p.printf("executor %s is now %s (%s)", ev.Name, ev.Status, ev.Detail)
			return
		}
		p.printf("executor %s is now %s", ev.Name, ev.Status)
	case session.EventConnectionLost:
		p.printf("connection to %s %s lost: %s", ev.Source, ev.Name, FormatError(ev.Err))
		p.mu.Lock()
		defer p.mu.Unlock()
		switch ev.Source {
		case protocol.RoleListener:
			if p.context.Ready() {
				p.detach(ctx)
			}
		case protocol.RoleContext:
			// The listener still holds the attachment until told otherwise.
			if ev.Name == "" || p.Attached() == ev.Name || !p.listener.Ready() {
				return
			}
			if err := p.listener.DetachContext(ev.Name); err != nil {
				log.Debug().Str("context", ev.Name).Err(err).Msg("command.HandleEvent detach after context loss")
			}
		}
	default:
		if ev.Detail != "" {
			p.printf("notice from %s: %s %s", ev.Source, ev.Name, ev.Detail)
			return
		}
		p.printf("notice from %s: %s", ev.Source, ev.Name)
	}
}
