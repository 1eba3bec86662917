package jsonapi

import (
	"strings"
	"unicode"
)

// The backend uses hyphen-separated attribute keys ("from-time",
// "not-billable"); internal identifiers join the same words in
// CamelCase ("FromTime", "NotBillable"). The mapping is total and
// lossless: it needs no per-field table, so fields the backend adds
// later translate without code changes.

// WireToField converts a hyphenated wire key to its internal
// identifier: "from-time" -> "FromTime".
func WireToField(key string) string {
	var b strings.Builder

	b.Grow(len(key))

	upperNext := true

	for _, r := range key {
		if r == '-' {
			upperNext = true
			continue
		}

		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// FieldToWire converts an internal identifier back to its wire key:
// "FromTime" -> "from-time".
func FieldToWire(name string) string {
	var b strings.Builder

	b.Grow(len(name) + 2)

	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}

			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}
