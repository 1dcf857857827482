// Package tool defines the schema for DAWN tools (the LLM-invokable
// operations historically called "commands" or "devices") and the
// process-wide registry that looks them up by name.
//
// A [Definition] is pure metadata plus, for direct-callback tools, a function
// pointer. It carries no behaviour beyond what [Registry] and the executor
// package (internal/tool/executor) need to dispatch a call.
package tool

import (
	"context"
	"fmt"
)

// DeviceType classifies a tool for the purpose of deriving a default action
// when the caller (or the model) omits one.
type DeviceType string

const (
	DeviceBoolean DeviceType = "boolean"
	DeviceAnalog  DeviceType = "analog"
	DeviceGetter  DeviceType = "getter"
	DeviceTrigger DeviceType = "trigger"
	DeviceMusic   DeviceType = "music"
	DeviceMeta    DeviceType = "meta"
)

// DefaultAction returns the action slot value to use when a tool call omits
// an explicit action, per the device-type policy in SPEC_FULL.md §4.2.
func (d DeviceType) DefaultAction() string {
	switch d {
	case DeviceBoolean:
		return "toggle"
	case DeviceAnalog:
		return "set"
	case DeviceGetter:
		return "get"
	case DeviceTrigger:
		return "trigger"
	case DeviceMusic:
		return "play"
	default:
		return "get"
	}
}

// InvocationStyle selects how the executor dispatches a tool call.
type InvocationStyle string

const (
	// StyleDirectCallback invokes an in-process function pointer.
	StyleDirectCallback InvocationStyle = "direct-callback"

	// StyleMessageOnly publishes a fire-and-forget envelope to the bus.
	StyleMessageOnly InvocationStyle = "message-only"

	// StyleMessageWithReply publishes an envelope and blocks on a correlated
	// reply via the command router (sync-wait).
	StyleMessageWithReply InvocationStyle = "message-with-reply"
)

// IsValid reports whether s is one of the three recognised invocation styles.
func (s InvocationStyle) IsValid() bool {
	switch s {
	case StyleDirectCallback, StyleMessageOnly, StyleMessageWithReply:
		return true
	default:
		return false
	}
}

// RoutingTag controls how an extracted argument value is folded into the
// executor's (device, action, value) triple.
type RoutingTag string

const (
	RouteAction RoutingTag = "action"
	RouteDevice RoutingTag = "device"
	RouteValue  RoutingTag = "value"
	RouteCustom RoutingTag = "custom"
)

// ParamType is the JSON-schema-ish type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamEnum    ParamType = "enum"
)

// Parameter describes a single argument a tool accepts.
type Parameter struct {
	// Name is the JSON object key the model/caller supplies this value under.
	Name string

	// Description is included verbatim in model-facing tool schemas.
	Description string

	// Type is the parameter's declared type.
	Type ParamType

	// Required indicates the parameter must be present for the call to succeed.
	Required bool

	// EnumValues holds the allowed values when Type is ParamEnum. Must be
	// non-empty for enum parameters; enforced at [Registry.Register].
	EnumValues []string

	// Routing controls how this parameter's value is folded into the
	// executor's (device, action, value) triple.
	Routing RoutingTag
}

// Callback is the function pointer backing a [StyleDirectCallback] tool.
//
// Implementations must be reentrant: the same tool may be invoked
// concurrently from different sessions. The returned string is "executed, no
// data" when empty AND shouldRespond is false; a non-nil error always takes
// precedence and produces a failed [executor.CommandResult].
type Callback func(ctx context.Context, action, value string) (result string, shouldRespond bool, err error)

// AvailabilityFunc reports whether a tool should currently be considered
// registered, given arbitrary external configuration state (e.g. "is a
// search endpoint configured"). A nil AvailabilityFunc means "always
// available".
type AvailabilityFunc func() bool

// Definition is the full metadata record for one tool.
type Definition struct {
	// Name is the canonical, case-sensitive tool identifier.
	Name string

	// Aliases are additional case-insensitive names that resolve to this tool.
	Aliases []string

	// Description is included in model prompts / tool schemas.
	Description string

	// Style selects the executor's dispatch path. Exactly one style per tool.
	Style InvocationStyle

	// Device classifies the tool for default-action derivation.
	Device DeviceType

	// UsesNetwork flags tools that make outbound network calls.
	UsesNetwork bool

	// RequiresHardware flags tools that need a hardware capability
	// (e.g. GPIO, camera) not present on every deployment.
	RequiresHardware bool

	// SkipFollowup indicates the tool's textual result is the final
	// user-visible answer; the orchestrator should not issue a synthesis
	// follow-up call after this tool runs.
	SkipFollowup bool

	// DefaultRemote indicates the tool may be invoked by an external bridge
	// (e.g. a voice-command MQTT bridge) without a session context.
	DefaultRemote bool

	// Parameters lists the tool's accepted arguments, in declaration order.
	// Extraction walks this list in order (SPEC_FULL.md §4.2).
	Parameters []Parameter

	// DeviceMap translates a logical device key to the underlying wire name
	// for meta-tools that dispatch to multiple underlying devices. Nil for
	// non-meta tools.
	DeviceMap map[string]string

	// Topic is the bus topic used for StyleMessageOnly / StyleMessageWithReply
	// tools. Empty means "use the bus's default topic".
	Topic string

	// Callback is the function pointer for StyleDirectCallback tools. Must be
	// non-nil iff Style == StyleDirectCallback.
	Callback Callback

	// Available, if set, is re-evaluated by [Registry.Refresh] to determine
	// whether the tool should currently be surfaced by [Registry.ForEachEnabled].
	Available AvailabilityFunc
}

// MapDevice translates key through the tool's device map, or returns key
// unchanged if the tool has no device map or no entry for key.
func (d Definition) MapDevice(key string) string {
	if d.DeviceMap == nil {
		return key
	}
	if mapped, ok := d.DeviceMap[key]; ok {
		return mapped
	}
	return key
}

// validate checks structural invariants that must hold at registration time.
func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: definition must have a non-empty Name", ErrInvalidSchema)
	}
	if !d.Style.IsValid() {
		return fmt.Errorf("%w: tool %q: invalid invocation style %q", ErrInvalidSchema, d.Name, d.Style)
	}
	if d.Style == StyleDirectCallback && d.Callback == nil {
		return fmt.Errorf("%w: tool %q has StyleDirectCallback but no Callback", ErrInvalidSchema, d.Name)
	}
	if d.Style != StyleDirectCallback && d.Callback != nil {
		return fmt.Errorf("%w: tool %q has a Callback but is not StyleDirectCallback", ErrInvalidSchema, d.Name)
	}
	for _, p := range d.Parameters {
		if p.Type == ParamEnum && len(p.EnumValues) == 0 {
			return fmt.Errorf("%w: tool %q parameter %q is enum-typed with no EnumValues", ErrInvalidSchema, d.Name, p.Name)
		}
	}
	return nil
}
