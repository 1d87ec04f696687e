package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/chromelink/internal/domain/command"
	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/domain/pending"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/chromelink/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
)

// hooks adjust a forwarded command's completion
type hooks struct {
	// success may rewrite the extension's result
	success func(result json.RawMessage) (interface{}, error)
	failure func(err *types.CommandError)
}

// Handle processes one envelope from conn on behalf of sessionID. Validation
// failures are answered synchronously; forwarded commands are answered when
// the extension replies or the deadline passes.
func (b *Broker) Handle(ctx context.Context, conn Conn, sessionID string, env *types.Envelope) {
	b.metrics.RecordWSMessage("in", "command")

	// frames already read when the session was closed or taken over
	if !b.sessions.IsBoundTo(sessionID, conn.ID()) {
		b.logger.Debug("envelope for unbound session dropped",
			logging.SessionID(sessionID),
			logging.ConnID(conn.ID()),
			logging.Action(env.Action))
		return
	}
	b.sessions.Touch(sessionID)

	if env.RequestID == "" {
		b.reject(conn, env, types.NewCommandError(types.CodeMissingParams, "Missing requestId"))
		return
	}

	cmd, err := b.catalog.Parse(env.Action, env.Params)
	if err != nil {
		b.reject(conn, env, err)
		return
	}

	key := pending.Key{SessionID: sessionID, RequestID: env.RequestID}
	if b.pending.Has(key) {
		b.reject(conn, env, duplicateError(env.RequestID))
		return
	}

	switch cmd.Action {
	case command.CloseSession:
		b.closeSession(conn, sessionID, env)
	case command.RegisterInjection:
		b.registerInjection(ctx, conn, key, cmd)
	case command.UnregisterInjection:
		b.unregisterInjection(ctx, conn, key, cmd)
	case command.OpenTab:
		b.forward(ctx, conn, key, cmd, hooks{success: b.trackOpenedTab(sessionID)})
	case command.CloseTab:
		tabID := *cmd.Params.(*command.TabParams).TabID
		b.forward(ctx, conn, key, cmd, hooks{success: func(result json.RawMessage) (interface{}, error) {
			b.sessions.RemoveTab(sessionID, tabID)
			return result, nil
		}})
	default:
		b.forward(ctx, conn, key, cmd, hooks{})
	}
}

func (b *Broker) forward(ctx context.Context, conn Conn, key pending.Key, cmd *command.Command, h hooks) {
	action := string(cmd.Action)
	span, spanCtx := b.startSpan(ctx, "command "+action)
	if span != nil {
		span.SetTag(logging.KeySession, key.SessionID)
		span.SetTag(logging.KeyRequest, key.RequestID)
	}
	timer := monitoring.NewTimer(b.metrics, action)

	req := &pending.Request{
		Key:      key,
		Action:   action,
		ConnID:   conn.ID(),
		IssuedAt: time.Now(),
		Deadline: time.Now().Add(cmd.Deadline(b.cfg.RequestTimeout, b.cfg.TimeoutSlack)),
		OnDone: func(req *pending.Request, outcome pending.Outcome) {
			b.complete(req, outcome, h, span, timer)
		},
	}
	if _, err := b.pending.Register(req); err != nil {
		if errors.Is(err, pending.ErrDuplicate) {
			err = duplicateError(key.RequestID)
		}
		if h.failure != nil {
			h.failure(types.AsCommandError(err))
		}
		b.finishSpan(span, err)
		b.reject(conn, &types.Envelope{Action: action, RequestID: key.RequestID}, err)
		return
	}
	b.metrics.SetPending(b.pending.Len())

	linkConn, err := b.link.Forward(&types.LinkCommand{
		RequestID:       key.LinkID(),
		SessionID:       key.SessionID,
		ClientRequestID: key.RequestID,
		Action:          action,
		Params:          cmd.Raw,
		Trace:           traceHeaders(spanCtx),
	})
	if err != nil {
		// completes through OnDone like any other outcome
		b.pending.Reject(key, types.AsCommandError(err))
		return
	}
	if err := b.pending.Bind(key, linkConn); err != nil {
		b.pending.Reject(key, errLinkLost)
		return
	}

	b.logger.Debug("command forwarded",
		logging.SessionID(key.SessionID),
		logging.RequestID(key.RequestID),
		logging.Action(action))
}

// complete runs exactly once per forwarded request
func (b *Broker) complete(req *pending.Request, outcome pending.Outcome, h hooks, span *tracing.Span, timer *monitoring.Timer) {
	var resp *types.Response
	var failure error

	if outcome.Failed() {
		failure = outcome.Err
		if outcome.Err.Code == types.CodeTimeout {
			b.metrics.IncTimeout(req.Action)
		}
		if h.failure != nil {
			h.failure(outcome.Err)
		}
		resp = types.ErrorResponse(req.RequestID, outcome.Err)
	} else {
		var result interface{} = outcome.Result
		if len(outcome.Result) == 0 {
			result = nil
		}
		if h.success != nil {
			var err error
			if result, err = h.success(outcome.Result); err != nil {
				failure = err
			}
		}
		if failure == nil {
			var err error
			if resp, err = types.SuccessResponse(req.RequestID, result); err != nil {
				failure = err
			}
		}
		if failure != nil {
			resp = types.ErrorResponse(req.RequestID, failure)
		}
	}

	timer.Stop(string(types.CodeOf(failure)))
	b.finishSpan(span, failure)
	b.deliver(req, resp)
	b.metrics.SetPending(b.pending.Len())
}

// deliver sends resp to the issuing connection if it is still attached
func (b *Broker) deliver(req *pending.Request, resp *types.Response) {
	conn, ok := b.connection(req.ConnID)
	if !ok || !conn.Send(resp) {
		b.metrics.IncDropped()
		b.logger.Debug("response dropped, connection gone",
			logging.SessionID(req.SessionID),
			logging.RequestID(req.RequestID),
			logging.ConnID(req.ConnID))
		return
	}
	b.metrics.RecordWSMessage("out", "response")
}

// reject answers an envelope that never reached the pending table
func (b *Broker) reject(conn Conn, env *types.Envelope, err error) {
	ce := types.AsCommandError(err)
	action := env.Action
	if _, known := b.catalog.Lookup(action); !known {
		action = "unknown"
	}
	b.metrics.RecordCommand(action, string(ce.Code), 0)
	b.logger.Debug("command rejected",
		logging.RequestID(env.RequestID),
		logging.Action(env.Action),
		zap.String("code", string(ce.Code)),
		zap.String("reason", ce.Message))

	if conn.Send(types.ErrorResponse(env.RequestID, ce)) {
		b.metrics.RecordWSMessage("out", "response")
	}
}

func (b *Broker) closeSession(conn Conn, sessionID string, env *types.Envelope) {
	resp, _ := types.SuccessResponse(env.RequestID, map[string]bool{"closed": true})
	conn.Send(resp)
	b.metrics.RecordCommand(string(command.CloseSession), "", 0)

	b.mu.Lock()
	delete(b.conns, conn.ID())
	b.mu.Unlock()

	b.sessions.Expire(sessionID)
	conn.Close()
}

func (b *Broker) registerInjection(ctx context.Context, conn Conn, key pending.Key, cmd *command.Command) {
	p := cmd.Params.(*command.RegisterInjectionParams)
	inj := &injection.Injection{
		ID:      p.ID,
		Code:    p.Code,
		Matches: p.Matches,
		RunAt:   injection.RunAt(p.RunAt),
	}

	prev, err := b.injections.Register(key.SessionID, inj)
	if err != nil {
		b.reject(conn, &types.Envelope{Action: string(cmd.Action), RequestID: key.RequestID}, err)
		return
	}
	// the extension sees the stored form, the same one a replay sends
	cmd.Raw = injectionCommand(key.SessionID, inj).Params
	b.metrics.SetInjections(b.injections.Count())

	b.forward(ctx, conn, key, cmd, hooks{
		success: func(json.RawMessage) (interface{}, error) {
			return map[string]interface{}{"registered": true, "id": inj.ID}, nil
		},
		failure: func(ce *types.CommandError) {
			b.injections.Restore(key.SessionID, inj.ID, prev)
			b.metrics.SetInjections(b.injections.Count())
			if ce.Code == types.CodeTimeout {
				// the extension may have applied it anyway
				b.resync(key.SessionID, inj.ID, prev)
			}
		},
	})
}

func (b *Broker) unregisterInjection(ctx context.Context, conn Conn, key pending.Key, cmd *command.Command) {
	id := cmd.Params.(*command.UnregisterInjectionParams).ID
	if _, ok := b.injections.Get(key.SessionID, id); !ok {
		b.reject(conn, &types.Envelope{Action: string(cmd.Action), RequestID: key.RequestID},
			types.NewCommandError(types.CodeInjectionError, "Injection not found: %s", id))
		return
	}

	b.forward(ctx, conn, key, cmd, hooks{
		success: func(json.RawMessage) (interface{}, error) {
			if _, err := b.injections.Unregister(key.SessionID, id); err != nil && !errors.Is(err, injection.ErrNotFound) {
				return nil, err
			}
			b.metrics.SetInjections(b.injections.Count())
			return map[string]interface{}{"unregistered": true, "id": id}, nil
		},
	})
}

// resync pushes the broker's view of one injection to the extension
func (b *Broker) resync(sessionID, id string, current *injection.Injection) {
	var cmd *types.LinkCommand
	if current == nil {
		cmd = &types.LinkCommand{
			SessionID: sessionID,
			Action:    string(command.UnregisterInjection),
			Params:    mustJSON(map[string]string{"id": id}),
		}
	} else {
		cmd = injectionCommand(sessionID, current)
	}
	if err := b.link.Notify(cmd); err != nil {
		b.logger.Warn("injection resync failed",
			logging.SessionID(sessionID),
			zap.String("injection_id", id),
			zap.Error(err))
	}
}

func (b *Broker) trackOpenedTab(sessionID string) func(json.RawMessage) (interface{}, error) {
	return func(result json.RawMessage) (interface{}, error) {
		var opened struct {
			Tab *struct {
				ID *int64 `json:"id"`
			} `json:"tab"`
		}
		if err := json.Unmarshal(result, &opened); err == nil && opened.Tab != nil && opened.Tab.ID != nil {
			b.sessions.AddTab(sessionID, *opened.Tab.ID)
		}
		return result, nil
	}
}

func (b *Broker) startSpan(ctx context.Context, name string) (*tracing.Span, context.Context) {
	if b.tracer == nil {
		return nil, ctx
	}
	return b.tracer.StartSpan(ctx, name)
}

func (b *Broker) finishSpan(span *tracing.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetError(err)
	} else {
		span.SetStatus("ok")
	}
	b.tracer.Submit(span)
}

// traceHeaders carries the command span to the extension
func traceHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string, 2)
	tracing.InjectTraceContext(ctx, headers)
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func duplicateError(requestID string) *types.CommandError {
	return types.NewCommandError(types.CodeMissingParams, "Duplicate requestId: %s", requestID)
}

func injectionCommand(sessionID string, inj *injection.Injection) *types.LinkCommand {
	return &types.LinkCommand{
		SessionID: sessionID,
		Action:    string(command.RegisterInjection),
		Params: mustJSON(command.RegisterInjectionParams{
			ID:      inj.ID,
			Code:    inj.Code,
			Matches: inj.Matches,
			RunAt:   string(inj.RunAt),
		}),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
