package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Caller-side roles accepted on /chat. "model" is an alias some panel
// versions send instead of "assistant".
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleModel     = "model"
)

// Message is a single conversational message as sent by the panel.
type Message struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// ModelDescriptor identifies a selectable model. Label falls back to the
// vendor identifier when no display name exists.
type ModelDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// SortDescriptors orders a model list ascending by label, case-insensitively.
func SortDescriptors(list []ModelDescriptor) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Label) < strings.ToLower(list[j].Label)
	})
}

// Reply is a generated completion. Thought is empty unless the vendor
// exposed a separate reasoning trace alongside the answer.
type Reply struct {
	Thought  string
	Response string
}

// Shape discriminates the wire form of a normalized turn: a flat content
// string or a structured parts list.
type Shape int

const (
	ShapeFlat Shape = iota
	ShapeStructured
)

// ImagePart is a decoded inline image attached to the final turn of a
// multimodal request.
type ImagePart struct {
	MimeType string
	Data     []byte
}

// Part is one element of a structured turn. Exactly one field is set.
type Part struct {
	Text  string
	Image *ImagePart
}

// Turn is a vendor-shaped message produced by the normalization engine.
// Origin preserves the caller's role so adapters that flatten the
// conversation can still label lines by their original speaker.
type Turn struct {
	Role   string
	Origin string
	Shape  Shape
	Text   string
	Parts  []Part
}

// AppendText extends the turn's textual content, locating the right field
// for its shape.
func (t *Turn) AppendText(text string) {
	if t.Shape == ShapeFlat {
		t.Text += text
		return
	}
	for i := range t.Parts {
		if t.Parts[i].Image == nil {
			t.Parts[i].Text += text
			return
		}
	}
	t.Parts = append(t.Parts, Part{Text: text})
}

// Prompt is the fully normalized request handed to an adapter. System is
// populated only for vendors with a dedicated system-prompt slot.
type Prompt struct {
	System string
	Turns  []Turn
}

// Options is the caller-supplied parameter bag. Adapters with fixed
// parameter sets read only the keys they understand; the Ollama adapter
// forwards unknown keys opaquely.
type Options map[string]any

// Model returns the requested model identifier, if any.
func (o Options) Model() (string, bool) {
	return o.String("model")
}

func (o Options) String(key string) (string, bool) {
	if o == nil {
		return "", false
	}
	if value, ok := o[key]; ok {
		if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
			return str, true
		}
	}
	return "", false
}

func (o Options) Float(key string) (float64, bool) {
	if o == nil {
		return 0, false
	}
	if value, ok := o[key]; ok {
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func (o Options) Int(key string) (int, bool) {
	if o == nil {
		return 0, false
	}
	if value, ok := o[key]; ok {
		switch v := value.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i), true
			}
		}
	}
	return 0, false
}

func (o Options) StringSlice(key string) ([]string, bool) {
	if o == nil {
		return nil, false
	}
	value, ok := o[key]
	if !ok {
		return nil, false
	}
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			result = append(result, str)
		}
		return result, true
	}
	return nil, false
}
