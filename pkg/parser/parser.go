// Package parser extracts named fields from free-form model output.
//
// Models are asked to answer in a "NAME: value;NAME: value" key-value form
// but frequently wrap the answer in prose, switch to JSON, or emit a single
// coarse label instead. Extract tries, in order:
//
//  1. a per-field key-value pattern (case-insensitive, fields independent),
//  2. a lenient JSON fragment (first '{' to last '}') when the schema allows it,
//  3. a single coarse fallback label assigned to a designated field, only when
//     nothing was found by the previous strategies.
//
// A field whose value is the Sentinel is treated as absent. When every
// strategy fails the result is empty; callers report that as ErrNoFields.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Sentinel is the value a model emits when it has no information for a field.
const Sentinel = "待观察"

// ErrNoFields is returned by callers when Extract found nothing usable.
var ErrNoFields = errors.New("no structured fields in model response")

// Kind selects the value pattern for a field.
type Kind int

const (
	// Text values run up to ';', '；', a double quote or a line break.
	Text Kind = iota

	// Number values are decimal numbers.
	Number

	// Word values are a single word.
	Word
)

// FieldSpec describes one field of a schema.
type FieldSpec struct {
	// Name is the key under which the value is returned.
	Name string

	// Label is the token searched for in the response. Defaults to Name.
	Label string

	// Kind selects the value pattern.
	Kind Kind
}

func (f FieldSpec) label() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

// Fallback assigns a single coarse "LABEL: value" match to Field.
type Fallback struct {
	Label string
	Field string
}

// Schema describes the fields expected in a response.
type Schema struct {
	Fields []FieldSpec

	// Fallback is consulted only when no field was extracted.
	Fallback *Fallback

	// JSONFallback enables the JSON fragment strategy for fields the
	// key-value pass missed.
	JSONFallback bool

	// MinLength rejects responses shorter than this many runes.
	MinLength int
}

// Fields holds extracted values keyed by FieldSpec.Name. Absent fields are omitted.
type Fields map[string]string

// Empty reports whether nothing was extracted.
func (f Fields) Empty() bool {
	return len(f) == 0
}

// Get returns the value for name.
func (f Fields) Get(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// Float returns the value for name parsed as a number.
func (f Fields) Float(name string) (float64, bool) {
	v, ok := f[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Extract pulls the schema's fields out of raw.
func Extract(raw string, schema Schema) Fields {
	fields := Fields{}
	text := strings.TrimSpace(raw)
	if text == "" || utf8.RuneCountInString(text) < schema.MinLength {
		return fields
	}

	for _, fs := range schema.Fields {
		if value, ok := matchField(text, fs.label(), fs.Kind); ok {
			fields[fs.Name] = value
		}
	}

	if schema.JSONFallback && len(fields) < len(schema.Fields) {
		extractJSON(text, schema.Fields, fields)
	}

	if fields.Empty() && schema.Fallback != nil {
		if value, ok := matchField(text, schema.Fallback.Label, Text); ok {
			fields[schema.Fallback.Field] = value
		}
	}

	return fields
}

// extractJSON fills missing fields from the outermost JSON object in text.
func extractJSON(text string, fieldSpecs []FieldSpec, fields Fields) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return
	}
	fragment := text[start : end+1]
	if !gjson.Valid(fragment) {
		return
	}

	obj := gjson.Parse(fragment)
	for _, fs := range fieldSpecs {
		if _, ok := fields[fs.Name]; ok {
			continue
		}
		obj.ForEach(func(key, value gjson.Result) bool {
			if !strings.EqualFold(key.String(), fs.Name) && !strings.EqualFold(key.String(), fs.label()) {
				return true
			}
			if v, ok := jsonValue(value, fs.Kind); ok {
				fields[fs.Name] = v
			}
			return false
		})
	}
}

func jsonValue(value gjson.Result, kind Kind) (string, bool) {
	switch value.Type {
	case gjson.Number:
		return strconv.FormatFloat(value.Float(), 'f', -1, 64), true
	case gjson.String:
		v := clean(value.String())
		if v == "" || v == Sentinel {
			return "", false
		}
		if kind == Number {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return "", false
			}
		}
		return v, true
	default:
		return "", false
	}
}

func matchField(text, label string, kind Kind) (string, bool) {
	m := pattern(label, kind).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	value := clean(m[1])
	if value == "" || value == Sentinel {
		return "", false
	}
	if kind == Number {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", false
		}
	}
	return value, true
}

func clean(v string) string {
	return strings.Trim(strings.TrimSpace(v), " \t,，。'\"")
}

var (
	patternsMu sync.RWMutex
	patterns   = map[string]*regexp.Regexp{}
)

// pattern returns the compiled key-value expression for label and kind.
func pattern(label string, kind Kind) *regexp.Regexp {
	key := fmt.Sprintf("%d:%s", kind, label)

	patternsMu.RLock()
	re, ok := patterns[key]
	patternsMu.RUnlock()
	if ok {
		return re
	}

	var value string
	switch kind {
	case Number:
		value = `(-?\d+(?:\.\d+)?)`
	case Word:
		value = `(\w+)`
	default:
		value = `([^;；\n\r"]+)`
	}
	re = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(label) + `["']?\s*[:：]\s*["']?` + value)

	patternsMu.Lock()
	patterns[key] = re
	patternsMu.Unlock()
	return re
}
