package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/spellctl/internal/protocol"
	"github.com/danmuck/spellctl/internal/transport"
)

// Context is the session with one running context server.
type Context struct {
	*base
}

func NewContext(opts Options) *Context {
	return &Context{base: newBase(protocol.RoleContext, opts)}
}

// ListProcedures returns procedure id -> display name. refresh asks the context
// to rescan its procedure library first.
func (c *Context) ListProcedures(ctx context.Context, refresh bool) (map[string]string, error) {
	resp, err := c.call(ctx, protocol.NewRequest(protocol.MsgProcList).
		WithField(protocol.FieldRefresh, strconv.FormatBool(refresh)))
	if err != nil {
		return nil, err
	}
	out := resp.Map(protocol.FieldProcList)
	if out == nil {
		out = map[string]string{}
	}
	return out, nil
}

// ListExecutors returns the instance ids of every open executor.
func (c *Context) ListExecutors(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, protocol.NewRequest(protocol.MsgExecList))
	if err != nil {
		return nil, err
	}
	return resp.List(protocol.FieldExecList), nil
}

func (c *Context) ExecutorInfo(ctx context.Context, instanceID string) (ExecutorDescriptor, error) {
	resp, err := c.call(ctx, execRequest(protocol.MsgExecInfo, instanceID))
	if err != nil {
		return ExecutorDescriptor{}, err
	}
	return decodeExecutor(resp), nil
}

func (c *Context) ProcedureProperties(ctx context.Context, procID string) (map[string]string, error) {
	resp, err := c.call(ctx, protocol.NewRequest(protocol.MsgProcProperties).
		WithField(protocol.FieldProcID, procID))
	if err != nil {
		return nil, err
	}
	return resp.Map(protocol.FieldProperties), nil
}

// StartProcedure obtains a free instance id for procID, opens it, and moves it
// to background. If open or background fails after the id was issued, a
// best-effort kill-exec removes the partial executor and the returned error
// wraps ErrStartAborted.
func (c *Context) StartProcedure(ctx context.Context, procID string, args map[string]string) (string, error) {
	resp, err := c.call(ctx, protocol.NewRequest(protocol.MsgGetInstanceID).
		WithField(protocol.FieldProcID, procID))
	if err != nil {
		return "", err
	}
	instanceID := resp.Get(protocol.FieldInstanceID)
	if instanceID == "" {
		return "", &transport.NoResponseError{ID: protocol.MsgGetInstanceID, Reason: "malformed response", Err: ErrEmptyInstanceID}
	}

	open := execRequest(protocol.MsgOpenExec, instanceID).
		WithField(protocol.FieldBackground, strconv.FormatBool(false))
	if len(args) > 0 {
		open = open.WithMap(protocol.FieldArguments, args)
	}
	if _, err := c.call(ctx, open); err != nil {
		return "", c.abortStart(ctx, instanceID, protocol.MsgOpenExec, err)
	}
	if _, err := c.call(ctx, execRequest(protocol.MsgBackgroundExec, instanceID)); err != nil {
		return "", c.abortStart(ctx, instanceID, protocol.MsgBackgroundExec, err)
	}
	log.Info().Str("proc", procID).Str("instance", instanceID).Msg("session.Context.StartProcedure ok")
	return instanceID, nil
}

func (c *Context) abortStart(ctx context.Context, instanceID, step string, cause error) error {
	if c.Ready() {
		if _, err := c.call(ctx, execRequest(protocol.MsgKillExec, instanceID)); err != nil {
			log.Debug().Str("instance", instanceID).Err(err).Msg("session.Context.StartProcedure rollback kill failed")
		}
	}
	log.Warn().Str("instance", instanceID).Str("step", step).Err(cause).Msg("session.Context.StartProcedure aborted")
	return fmt.Errorf("%w: %s %s: %w", ErrStartAborted, step, instanceID, cause)
}

// StopExecutor closes the executor gracefully.
func (c *Context) StopExecutor(ctx context.Context, instanceID string) error {
	_, err := c.call(ctx, execRequest(protocol.MsgCloseExec, instanceID))
	return err
}

func (c *Context) KillExecutor(ctx context.Context, instanceID string) error {
	_, err := c.call(ctx, execRequest(protocol.MsgKillExec, instanceID))
	return err
}

func execRequest(id, instanceID string) protocol.Message {
	return protocol.NewRequest(id).WithField(protocol.FieldInstanceID, instanceID)
}

func decodeExecutor(msg protocol.Message) ExecutorDescriptor {
	background, _ := strconv.ParseBool(msg.Get(protocol.FieldBackground))
	line, _ := strconv.Atoi(msg.Get(protocol.FieldCallingLine))
	desc := ExecutorDescriptor{
		ProcID:            msg.Get(protocol.FieldInstanceID),
		ProcName:          msg.Get(protocol.FieldProcName),
		Status:            ParseExecutorStatus(msg.Get(protocol.FieldStatus)),
		Mode:              ParseExecutorMode(msg.Get(protocol.FieldMode)),
		Background:        background,
		ControllingClient: msg.Get(protocol.FieldControllingClient),
		MonitoringClients: msg.List(protocol.FieldMonitoringClients),
		ParentProcID:      msg.Get(protocol.FieldParentProcID),
		CallingLine:       line,
		StageID:           msg.Get(protocol.FieldStageID),
		StageTitle:        msg.Get(protocol.FieldStageTitle),
		CurrentAction:     msg.Get(protocol.FieldCurrentAction),
	}
	if desc.Status == ExecutorError {
		desc.ErrorMessage = msg.Get(protocol.FieldErrorMessage)
		desc.ErrorReason = msg.Get(protocol.FieldErrorReason)
	}
	return desc
}
