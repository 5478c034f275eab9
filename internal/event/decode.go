package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the minimal shape every stream line must have.
type envelope struct {
	Type string `json:"type"`
}

// Decode parses one stream line into an Event.
//
// Unrecognized event types decode successfully as KindUnknown so that newer
// agents remain consumable. Malformed JSON, or a known type whose payload
// does not parse, returns an error; callers skip such lines rather than
// failing the invocation.
func Decode(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}

	raw := make([]byte, len(line))
	copy(raw, line)
	ev := Event{Raw: raw}

	switch Kind(env.Type) {
	case KindSessionInit:
		ev.Kind = KindSessionInit
		ev.SessionInit = &SessionInit{}
		return ev, unmarshalPayload(line, env.Type, ev.SessionInit)
	case KindPartDelta:
		ev.Kind = KindPartDelta
		ev.PartDelta = &PartDelta{}
		return ev, unmarshalPayload(line, env.Type, ev.PartDelta)
	case KindPartUpdated:
		ev.Kind = KindPartUpdated
		ev.PartUpdated = &PartUpdated{}
		return ev, unmarshalPayload(line, env.Type, ev.PartUpdated)
	case KindTextDelta:
		ev.Kind = KindTextDelta
		ev.TextDelta = &TextDelta{}
		return ev, unmarshalPayload(line, env.Type, ev.TextDelta)
	case KindTool:
		ev.Kind = KindTool
		ev.Tool = &Tool{}
		return ev, unmarshalPayload(line, env.Type, ev.Tool)
	case KindPermission:
		ev.Kind = KindPermission
		ev.Permission = &Permission{}
		return ev, unmarshalPayload(line, env.Type, ev.Permission)
	case KindResult:
		ev.Kind = KindResult
		ev.Result = &Result{}
		return ev, unmarshalPayload(line, env.Type, ev.Result)
	case KindStreamError:
		ev.Kind = KindStreamError
		ev.StreamError = &StreamError{}
		return ev, unmarshalPayload(line, env.Type, ev.StreamError)
	default:
		ev.Kind = KindUnknown
		return ev, nil
	}
}

func unmarshalPayload(line []byte, typ string, dst any) error {
	if err := json.Unmarshal(line, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return nil
}
