package domain

import (
	"context"
	"encoding/json"
	"sort"
)

// MessageType classifies a streamed response message. The set is closed.
type MessageType string

const (
	MessageTypeAsk       MessageType = "ASK"
	MessageTypeError     MessageType = "ERROR"
	MessageTypeProgress  MessageType = "PROGRESS"
	MessageTypeRejection MessageType = "REJECTION"
)

// Known reports whether t is one of the four message types the client understands.
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeAsk, MessageTypeError, MessageTypeProgress, MessageTypeRejection:
		return true
	default:
		return false
	}
}

// AskDescriptor identifies a requested analysis product. It is immutable:
// the attribute map is copied on the way in and on the way out.
type AskDescriptor struct {
	askType    string
	attributes map[string]any
}

// NewAskDescriptor builds a descriptor from a deep copy of attrs.
func NewAskDescriptor(askType string, attrs map[string]any) AskDescriptor {
	return AskDescriptor{
		askType:    askType,
		attributes: CloneAttributes(attrs),
	}
}

// Type returns the ask type, matched against a response's message subtype.
func (a AskDescriptor) Type() string {
	return a.askType
}

// Attributes returns a copy of the descriptor's fields.
func (a AskDescriptor) Attributes() map[string]any {
	return CloneAttributes(a.attributes)
}

// Attribute returns a single field value.
func (a AskDescriptor) Attribute(name string) (any, bool) {
	v, ok := a.attributes[name]
	return cloneValue(v), ok
}

// AttributeNames returns the field names in sorted order.
func (a AskDescriptor) AttributeNames() []string {
	names := make([]string, 0, len(a.attributes))
	for k := range a.attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON serializes the ask as its ask_type plus attribute mapping.
func (a AskDescriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.attributes)+1)
	for k, v := range a.attributes {
		out[k] = v
	}
	out["ask_type"] = a.askType
	return json.Marshal(out)
}

// CloneAttributes deep-copies nested maps and slices so that descriptors
// never share mutable state with each other or with a catalog's defaults.
func CloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}

// Exception is a single entry of the exception list attached to ERROR and
// REJECTION messages.
type Exception struct {
	Level       string `json:"exception_level"`
	Type        string `json:"exception_type"`
	Description string `json:"description,omitempty"`
}

// ResponseMessage is one unit of streamed server output.
type ResponseMessage struct {
	RequestID      string
	MessageType    MessageType
	MessageSubtype string

	// Payload holds raw binary content, never a text encoding of it.
	Payload     []byte
	PayloadDict map[string]any
	PayloadURL  string
	Exceptions  []Exception
}

// HookFunc is invoked with every message matching a hook. It may block;
// the dispatcher waits for it to return before moving on.
type HookFunc func(ctx context.Context, msg *ResponseMessage) error

// Hook binds an ask to the callback run when matching results arrive.
//
// MessageType and MessageSubtype are only consulted for PROGRESS messages:
// a hook receives progress notifications only when it opts in with
// MessageType == MessageTypeProgress and names the progress subtype.
type Hook struct {
	Ask            AskDescriptor
	Callback       HookFunc
	MessageType    MessageType
	MessageSubtype string
}

// Request is the outbound submission handed to the channel.
type Request struct {
	RequestID string
	Drawing   []byte
	Model     []byte
	Asks      []AskDescriptor
}
