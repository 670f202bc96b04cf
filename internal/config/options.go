// Package config holds the small, backend-agnostic configuration helpers shared
// by the parser, the loader engine and the commands.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Options is a free-form option bag decoded from JSON ("options": {...}).
//
// JSON numbers arrive as float64 and booleans may be written as strings by
// hand-edited configs, so every accessor is tolerant about the stored type and
// falls back to the supplied default when the key is absent or unusable.
type Options map[string]any

// String returns key as a string.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Bool returns key as a bool. Accepts true/false, "true"/"false", "1"/"0".
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return b
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return def
	}
}

// Rune returns the first rune of a string option (e.g. "comma": ";").
//
// The escape "\t" written literally in JSON as "\\t" is also accepted so TSV
// configs stay readable.
func (o Options) Rune(key string, def rune) rune {
	s := o.String(key, "")
	if s == "" {
		return def
	}
	if s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return def
	}
	return r
}
