package command

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"
)

// Serve runs the interactive loop over in until exit, EOF, or ctx is done.
// Failures are reported and the loop continues. The prompt is written only
// when prompt is set.
func (p *Processor) Serve(ctx context.Context, in io.Reader, prompt bool) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			p.outMu.Lock()
			_, _ = io.WriteString(p.out, p.Prompt())
			p.outMu.Unlock()
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.Execute(ctx, scanner.Text())
		switch {
		case err == nil:
		case errors.Is(err, ErrExit):
			return nil
		default:
			log.Debug().Str("line", scanner.Text()).Err(err).Msg("command.Serve verb failed")
			p.printf("error: %s", FormatError(err))
		}
	}
}
