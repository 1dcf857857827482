// Package executor implements the Command Executor: given a resolved
// [tool.Definition] and a (device, action, value) triple, or a raw argument
// object to route into that triple, it runs the tool via whichever of the
// three invocation styles the definition declares and returns a uniform
// result.
//
// The three-path dispatch is generalized from
// internal/mcp/mcphost.Host.ExecuteTool's dispatch-by-entry-kind shape
// (builtin function pointer vs. external call); the parameter-routing walk
// is new code written in the same idiom (plain functions, small helper
// types, fmt.Errorf wrapping).
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dawn/internal/bus"
	"dawn/internal/resilience"
	"dawn/internal/tool"
	"dawn/internal/tool/router"
)

// ErrInvalidArgument is returned when extraction or validation fails before
// any side effect has occurred (enum rejection, malformed argument object).
var ErrInvalidArgument = errors.New("executor: invalid argument")

// ErrTimeout is returned by a sync-wait call that does not receive a reply
// within its deadline. It does not abort the caller's conversation turn.
var ErrTimeout = errors.New("executor: timed out waiting for reply")

// CommandResult is the uniform outcome of executing one tool call.
type CommandResult struct {
	Success       bool
	ResultText    string
	ShouldRespond bool
	SkipFollowup  bool
}

// Executor runs tool calls against a [tool.Registry]'s definitions.
type Executor struct {
	bus     bus.Bus
	router  *router.Router
	breaker *resilience.CircuitBreaker
}

// Option configures an [Executor] at construction time.
type Option func(*Executor)

// WithCircuitBreaker wraps every [tool.StyleMessageWithReply] dispatch in cb,
// so a message-bus peer that stops replying trips the breaker and further
// sync-wait calls fail fast with [resilience.ErrCircuitOpen] instead of each
// blocking for the full reply timeout.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// New returns an Executor that publishes message-style calls on b and
// correlates sync-wait replies through r. b and r may both be nil if the
// caller knows no message-style tools will ever be registered (e.g. unit
// tests exercising only direct-callback tools); invoking a message-style
// tool in that configuration returns an error instead of panicking.
func New(b bus.Bus, r *router.Router, opts ...Option) *Executor {
	e := &Executor{bus: b, router: r}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs def with an already-resolved (device, action, value) triple.
// timeout applies only to [tool.StyleMessageWithReply]; 0 selects
// [bus.DefaultReplyTimeout].
func (e *Executor) Execute(ctx context.Context, def tool.Definition, device, action, value string, timeout time.Duration) (CommandResult, error) {
	switch def.Style {
	case tool.StyleDirectCallback:
		return e.executeCallback(ctx, def, action, value)
	case tool.StyleMessageOnly:
		return e.executeMessageOnly(ctx, def, device, action, value)
	case tool.StyleMessageWithReply:
		return e.executeSyncWait(ctx, def, device, action, value, timeout)
	default:
		return CommandResult{}, fmt.Errorf("executor: tool %q has unrecognised invocation style %q", def.Name, def.Style)
	}
}

func (e *Executor) executeCallback(ctx context.Context, def tool.Definition, action, value string) (CommandResult, error) {
	if def.Callback == nil {
		return CommandResult{}, fmt.Errorf("executor: tool %q declares direct-callback style with no callback", def.Name)
	}
	result, shouldRespond, err := def.Callback(ctx, action, value)
	if err != nil {
		return CommandResult{Success: false, ResultText: err.Error()}, nil
	}
	return CommandResult{
		Success:       true,
		ResultText:    result,
		ShouldRespond: shouldRespond,
		SkipFollowup:  def.SkipFollowup,
	}, nil
}

func (e *Executor) executeMessageOnly(ctx context.Context, def tool.Definition, device, action, value string) (CommandResult, error) {
	if e.bus == nil {
		return CommandResult{}, fmt.Errorf("executor: tool %q requires a message bus but none is configured", def.Name)
	}
	env := bus.Envelope{
		Device:    device,
		Action:    action,
		Value:     value,
		Timestamp: nowMillis(),
	}
	if err := e.bus.Publish(ctx, def.Topic, env); err != nil {
		return CommandResult{}, fmt.Errorf("executor: publish for tool %q: %w", def.Name, err)
	}
	return CommandResult{Success: true, SkipFollowup: def.SkipFollowup}, nil
}

func (e *Executor) executeSyncWait(ctx context.Context, def tool.Definition, device, action, value string, timeout time.Duration) (CommandResult, error) {
	if e.bus == nil || e.router == nil {
		return CommandResult{}, fmt.Errorf("executor: tool %q requires a message bus and router but none are configured", def.Name)
	}
	if timeout <= 0 {
		timeout = bus.DefaultReplyTimeout
	}

	if e.breaker == nil {
		return e.dispatchSyncWait(ctx, def, device, action, value, timeout)
	}

	var result CommandResult
	err := e.breaker.Execute(func() error {
		r, err := e.dispatchSyncWait(ctx, def, device, action, value, timeout)
		result = r
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return CommandResult{}, fmt.Errorf("executor: tool %q: %w", def.Name, err)
		}
		return CommandResult{}, err
	}
	return result, nil
}

func (e *Executor) dispatchSyncWait(ctx context.Context, def tool.Definition, device, action, value string, timeout time.Duration) (CommandResult, error) {
	w := e.router.Register(def.Name)
	env := bus.Envelope{
		Device:    device,
		Action:    action,
		Value:     value,
		RequestID: w.RequestID,
		Timestamp: nowMillis(),
	}
	if err := e.bus.Publish(ctx, def.Topic, env); err != nil {
		e.router.Cancel(w)
		return CommandResult{}, fmt.Errorf("executor: publish for tool %q: %w", def.Name, err)
	}

	text, ok := e.router.Wait(w, timeout)
	if !ok {
		return CommandResult{}, fmt.Errorf("%w: tool %q, request %s", ErrTimeout, def.Name, w.RequestID)
	}
	return CommandResult{
		Success:       true,
		ResultText:    text,
		ShouldRespond: true,
		SkipFollowup:  def.SkipFollowup,
	}, nil
}

// Dispatch routes a raw argument object (as decoded from model-emitted JSON)
// through def's parameter list to produce a (device, action, value) triple,
// validates it, and executes the call. device starts out as def.Name unless
// a parameter with routing tag [tool.RouteDevice] overrides it.
//
// Routing rules (SPEC_FULL.md §4.2), applied in Parameters declaration order:
//   - action: overwrites the action slot.
//   - device: overwrites the device slot, translated through def.DeviceMap.
//   - value: if the value slot is empty, sets it; else appends with a
//     single space separator.
//   - custom: folded into the value slot identically to "value".
//
// If, after the walk, the action slot is still empty AND no parameter
// carries routing tag action AND the value slot is non-empty, the action is
// promoted to "set" (disambiguates value-only tools like a mode selector).
// Otherwise an empty action slot falls back to def.Device.DefaultAction().
//
// Enum-typed parameters are validated before any routing is applied to any
// parameter: a call with an out-of-range enum value fails with
// [ErrInvalidArgument] and produces no side effect whatsoever.
func (e *Executor) Dispatch(ctx context.Context, def tool.Definition, args map[string]any, timeout time.Duration) (CommandResult, error) {
	if err := validateEnums(def, args); err != nil {
		return CommandResult{}, err
	}

	device := def.Name
	var action, value string
	var sawActionRouting bool

	for _, p := range def.Parameters {
		if p.Routing == tool.RouteAction {
			sawActionRouting = true
		}
		raw, present := args[p.Name]
		if !present {
			continue
		}
		s, err := stringify(raw)
		if err != nil {
			return CommandResult{}, fmt.Errorf("%w: tool %q parameter %q: %v", ErrInvalidArgument, def.Name, p.Name, err)
		}

		switch p.Routing {
		case tool.RouteAction:
			action = s
		case tool.RouteDevice:
			device = def.MapDevice(s)
		case tool.RouteValue, tool.RouteCustom:
			if value == "" {
				value = s
			} else {
				value = value + " " + s
			}
		}
	}

	if action == "" {
		if !sawActionRouting && value != "" {
			action = "set"
		} else {
			action = def.Device.DefaultAction()
		}
	}

	return e.Execute(ctx, def, device, action, value, timeout)
}

// validateEnums rejects the call outright if any enum-typed parameter's
// supplied value is not in its declared allow-list. Runs before any routing
// so a rejected call never reaches Execute.
func validateEnums(def tool.Definition, args map[string]any) error {
	for _, p := range def.Parameters {
		if p.Type != tool.ParamEnum {
			continue
		}
		raw, present := args[p.Name]
		if !present {
			continue
		}
		s, err := stringify(raw)
		if err != nil {
			return fmt.Errorf("%w: tool %q parameter %q: %v", ErrInvalidArgument, def.Name, p.Name, err)
		}
		allowed := false
		for _, v := range p.EnumValues {
			if v == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: tool %q parameter %q value %q is not one of %v", ErrInvalidArgument, def.Name, p.Name, s, p.EnumValues)
		}
	}
	return nil
}

// stringify converts a decoded JSON value into the string form the
// (device, action, value) triple expects.
func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case bool, float64, json.Number:
		return fmt.Sprintf("%v", t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
