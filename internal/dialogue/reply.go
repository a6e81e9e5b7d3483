package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MrWong99/murmur/internal/world"
)

// ErrMalformedResponse marks a model reply that is not valid reply JSON.
var ErrMalformedResponse = errors.New("dialogue: malformed response")

const replySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["response", "emotion_state"],
  "properties": {
    "response":      {"type": "string"},
    "emotion_state": {"type": "string"},
    "tool_action": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type":   {"type": "string", "minLength": 1},
            "params": {"type": "object"}
          }
        }
      ]
    }
  }
}`

var compiledReplySchema = jsonschema.MustCompileString("murmur://dialogue-reply.json", replySchema)

// Reply is the interpreted answer of the dialogue service. It is either a
// ParsedReply or a FallbackReply.
type Reply interface {
	// Text is what the NPC says.
	Text() string
	// NextEmotion returns the NPC's emotion after the reply given its prior one.
	NextEmotion(prior world.Emotion) world.Emotion
	// Action is the requested side effect, or nil.
	Action() *world.ToolAction
}

// ParsedReply is a reply that passed schema validation.
type ParsedReply struct {
	Response   string
	Emotion    string
	ToolAction *world.ToolAction
}

// Text implements Reply.
func (r ParsedReply) Text() string { return r.Response }

// NextEmotion implements Reply. Emotions outside the known set keep prior.
func (r ParsedReply) NextEmotion(prior world.Emotion) world.Emotion {
	if e, ok := world.ParseEmotion(r.Emotion); ok {
		return e
	}
	return prior
}

// Action implements Reply.
func (r ParsedReply) Action() *world.ToolAction { return r.ToolAction }

// FallbackReply carries raw model output that could not be parsed. The NPC
// says the raw text, keeps its emotion and requests nothing.
type FallbackReply struct {
	Raw string
	Err error
}

// Text implements Reply.
func (r FallbackReply) Text() string { return r.Raw }

// NextEmotion implements Reply.
func (r FallbackReply) NextEmotion(prior world.Emotion) world.Emotion { return prior }

// Action implements Reply.
func (FallbackReply) Action() *world.ToolAction { return nil }

type wireReply struct {
	Response     string `json:"response"`
	EmotionState string `json:"emotion_state"`
	ToolAction   *struct {
		Type   string         `json:"type"`
		Params map[string]any `json:"params"`
	} `json:"tool_action"`
}

// ParseReply interprets raw model output. Surrounding code fences are
// ignored. Output that is not JSON or violates the reply schema yields a
// FallbackReply whose Err wraps ErrMalformedResponse.
func ParseReply(raw string) Reply {
	raw = strings.TrimSpace(raw)
	body := stripFences(raw)

	var doc any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return FallbackReply{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	if err := compiledReplySchema.Validate(doc); err != nil {
		return FallbackReply{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	var w wireReply
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return FallbackReply{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	out := ParsedReply{
		Response: strings.TrimSpace(w.Response),
		Emotion:  w.EmotionState,
	}
	if w.ToolAction != nil {
		params := w.ToolAction.Params
		if params == nil {
			params = map[string]any{}
		}
		out.ToolAction = &world.ToolAction{Type: world.ToolType(w.ToolAction.Type), Params: params}
	}
	return out
}

// stripFences removes a Markdown code fence (``` or ```json) around s.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
