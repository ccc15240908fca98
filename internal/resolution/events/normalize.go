package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind is the canonical internal event vocabulary.
type Kind string

const (
	KindStarted Kind = "started"
	KindEnded   Kind = "ended"
	KindFault   Kind = "fault"
	KindNoise   Kind = "noise"
)

// Event is a normalized provider lifecycle event.
type Event struct {
	Kind       Kind
	ProviderID string
	Reason     string
	Fault      string
}

// providerEnvelope is the raw provider webhook shape.
type providerEnvelope struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	EndedReason string `json:"endedReason,omitempty"`
	Error       struct {
		Message string `json:"message,omitempty"`
		Code    string `json:"code,omitempty"`
	} `json:"error,omitempty"`
	Message struct {
		Type        string `json:"type,omitempty"`
		Status      string `json:"status,omitempty"`
		EndedReason string `json:"endedReason,omitempty"`
	} `json:"message,omitempty"`
}

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["call-started", "call-ended", "disconnect", "hang", "error", "message"]
    },
    "id": {"type": "string"},
    "endedReason": {"type": "string"},
    "error": {
      "type": "object",
      "properties": {
        "message": {"type": "string"},
        "code": {"type": "string"}
      }
    },
    "message": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "status": {"type": "string"},
        "endedReason": {"type": "string"}
      }
    }
  }
}`

var compiledEnvelopeSchema = jsonschema.MustCompileString("provider-event.schema.json", envelopeSchema)

// expectedTerminationPhrases match provider error messages that really mean
// the call ended normally. They are logged at info, never surfaced as faults.
var expectedTerminationPhrases = []string{
	"meeting has ended",
	"meeting ended due to ejection",
	"ejection",
	"connection closed",
	"customer ended call",
	"assistant ended call",
	"call ended",
}

// IsExpectedTermination reports whether a provider error message matches the
// known end-of-call noise taxonomy.
func IsExpectedTermination(message string) bool {
	message = strings.ToLower(message)
	for _, phrase := range expectedTerminationPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}
	return false
}

// Normalize validates a raw provider payload against the event schema and
// maps it onto the canonical vocabulary. Schema-invalid payloads error so
// the listener can drop them as noise.
func Normalize(raw []byte) (Event, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Event{}, fmt.Errorf("decode provider event: %w", err)
	}
	if err := compiledEnvelopeSchema.Validate(decoded); err != nil {
		return Event{}, fmt.Errorf("provider event failed schema validation: %w", err)
	}

	var envelope providerEnvelope
	decoder := json.NewDecoder(bytes.NewReader(raw))
	if err := decoder.Decode(&envelope); err != nil {
		return Event{}, fmt.Errorf("decode provider event envelope: %w", err)
	}

	switch envelope.Type {
	case "call-started":
		if strings.TrimSpace(envelope.ID) == "" {
			return Event{}, fmt.Errorf("call-started event carries no call id")
		}
		return Event{Kind: KindStarted, ProviderID: strings.TrimSpace(envelope.ID)}, nil

	case "call-ended":
		return Event{Kind: KindEnded, ProviderID: strings.TrimSpace(envelope.ID), Reason: firstNonEmpty(envelope.EndedReason, "call-ended")}, nil

	case "disconnect", "hang":
		return Event{Kind: KindEnded, Reason: envelope.Type}, nil

	case "error":
		message := strings.TrimSpace(envelope.Error.Message)
		if IsExpectedTermination(message) {
			return Event{Kind: KindEnded, Reason: message}, nil
		}
		if envelope.Error.Code != "" {
			message = fmt.Sprintf("%s (code=%s)", message, envelope.Error.Code)
		}
		return Event{Kind: KindFault, Fault: message}, nil

	case "message":
		switch envelope.Message.Type {
		case "conversation-update":
			if strings.EqualFold(envelope.Message.Status, "ended") {
				return Event{Kind: KindEnded, Reason: firstNonEmpty(envelope.Message.EndedReason, "conversation-update")}, nil
			}
			return Event{Kind: KindNoise}, nil
		case "end-of-call-report":
			return Event{Kind: KindEnded, Reason: firstNonEmpty(envelope.Message.EndedReason, "end-of-call-report")}, nil
		default:
			// volume-level and other periodic telemetry.
			return Event{Kind: KindNoise}, nil
		}

	default:
		return Event{Kind: KindNoise}, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
