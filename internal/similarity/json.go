// internal/similarity/json.go
package similarity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Placeholders substituted for volatile JSON content.
const (
	PlaceholderDynamicKey   = "__DYNAMIC_KEY__"
	PlaceholderDynamicValue = "__DYNAMIC_VALUE__"
)

// jsonAPI decodes numbers as json.Number when UseNumber is set.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// HeuristicRules decides which keys and values of a JSON document are volatile,
// such as session tokens or timestamps that differ on every request.
type HeuristicRules struct {
	KeyPatterns              []*regexp.Regexp
	CheckValueForUUID        bool
	CheckValueForTimestamp   bool
	TimestampFormats         []string
	CheckValueForHighEntropy bool
	EntropyThreshold         float64
}

// DefaultRules returns the rules used by the json metric.
func DefaultRules() HeuristicRules {
	return HeuristicRules{
		KeyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)sess(ion)?_?(id|key|token)?`),
			regexp.MustCompile(`(?i)(api|access|refresh|auth)_?token$`),
			regexp.MustCompile(`(?i)^(csrf|xsrf)`),
			regexp.MustCompile(`(?i)nonce`),
			regexp.MustCompile(`(?i)(correlation|request|trace|tracking)_?id`),
		},
		CheckValueForUUID:        true,
		CheckValueForTimestamp:   true,
		TimestampFormats:         []string{time.RFC3339, time.RFC3339Nano, time.RFC1123, "2006-01-02T15:04:05.000Z"},
		CheckValueForHighEntropy: true,
		EntropyThreshold:         4.5,
	}
}

// JSON compares two JSON documents after replacing volatile keys and values with
// placeholders. Equal documents have distance 0; differing ones are compared as
// canonical text. Non-JSON bodies are compared as text.
type JSON struct {
	rules HeuristicRules
	text  *Text
}

// NewJSON creates a JSON metric with DefaultRules.
func NewJSON() *JSON {
	return &JSON{rules: DefaultRules(), text: NewText()}
}

func (m *JSON) Name() string { return "json" }

func (m *JSON) Distance(a, b []byte) float64 {
	if bytes.Equal(a, b) {
		return 0
	}

	dataA, errA := decode(a)
	dataB, errB := decode(b)
	if errA != nil || errB != nil {
		return m.text.Distance(a, b)
	}

	normA := m.Normalize(dataA)
	normB := m.Normalize(dataB)
	if cmp.Equal(normA, normB, cmpopts.SortSlices(genericLess)) {
		return 0
	}

	// Map keys are sorted on encoding, so key order no longer contributes.
	canonA, errA := jsonAPI.Marshal(normA)
	canonB, errB := jsonAPI.Marshal(normB)
	if errA != nil || errB != nil {
		return m.text.Distance(a, b)
	}
	return m.text.Distance(canonA, canonB)
}

func decode(body []byte) (interface{}, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	dec := jsonAPI.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize replaces volatile keys and values of a decoded document with placeholders.
func (m *JSON) Normalize(data interface{}) interface{} {
	if m.isValueDynamic(data) {
		return PlaceholderDynamicValue
	}
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		var dynamic []interface{}
		for key, val := range v {
			if m.isKeyDynamic(key) {
				dynamic = append(dynamic, PlaceholderDynamicValue)
				continue
			}
			out[key] = m.Normalize(val)
		}
		if len(dynamic) > 0 {
			out[PlaceholderDynamicKey] = dynamic
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = m.Normalize(val)
		}
		return out
	default:
		return data
	}
}

func (m *JSON) isKeyDynamic(key string) bool {
	for _, p := range m.rules.KeyPatterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *JSON) isValueDynamic(val interface{}) bool {
	switch v := val.(type) {
	case string:
		return m.isStringDynamic(v)
	case json.Number:
		if f, err := v.Float64(); err == nil && m.rules.CheckValueForTimestamp {
			return isPlausibleUnixTimestamp(f)
		}
	case float64:
		return m.rules.CheckValueForTimestamp && isPlausibleUnixTimestamp(v)
	}
	return false
}

func (m *JSON) isStringDynamic(s string) bool {
	if len(s) < 8 {
		return false
	}
	if m.rules.CheckValueForUUID {
		if _, err := uuid.Parse(s); err == nil {
			return true
		}
	}
	if m.rules.CheckValueForTimestamp {
		for _, layout := range m.rules.TimestampFormats {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
	}
	if m.rules.CheckValueForHighEntropy && len(s) >= 16 {
		return shannonEntropy(s) > m.rules.EntropyThreshold
	}
	return false
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(utf8.RuneCountInString(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// isPlausibleUnixTimestamp accepts seconds, milliseconds and microseconds
// between 2010 and 2035.
func isPlausibleUnixTimestamp(ts float64) bool {
	const minTimestamp = 1262304000
	const maxTimestamp = 2051222400
	return (ts >= minTimestamp && ts <= maxTimestamp) ||
		(ts >= minTimestamp*1000 && ts <= maxTimestamp*1000) ||
		(ts >= minTimestamp*1000000 && ts <= maxTimestamp*1000000)
}

// genericLess orders arbitrary decoded JSON values so slices compare regardless
// of element order.
func genericLess(x, y interface{}) bool {
	nx, okX := x.(json.Number)
	ny, okY := y.(json.Number)
	if okX && okY {
		fx, errX := nx.Float64()
		fy, errY := ny.Float64()
		if errX == nil && errY == nil {
			return fx < fy
		}
		return nx.String() < ny.String()
	}

	vx, vy := reflect.ValueOf(x), reflect.ValueOf(y)
	if !vx.IsValid() {
		return vy.IsValid()
	}
	if !vy.IsValid() {
		return false
	}
	if vx.Type() != vy.Type() {
		return vx.Type().String() < vy.Type().String()
	}
	switch vx.Kind() {
	case reflect.String:
		return vx.String() < vy.String()
	case reflect.Float64:
		return vx.Float() < vy.Float()
	case reflect.Bool:
		return !vx.Bool() && vy.Bool()
	default:
		return fmt.Sprint(x) < fmt.Sprint(y)
	}
}
