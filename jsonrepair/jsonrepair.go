// Package jsonrepair recovers near-JSON text produced by token-streaming
// models. Generated tool-call arguments are structurally JSON but often carry
// raw newlines or unescaped quotes inside string values; Repair rewrites the
// text once, escaping what cannot be legal and defensively closing whatever
// is left open at end of input.
package jsonrepair

import (
	"fmt"
	"strings"
)

type containerKind int

const (
	kindObject containerKind = iota
	kindArray
)

type frame struct {
	kind      containerKind
	expectKey bool // objects only: the next string opens a key
}

// stringRole describes what the string currently being scanned is, which
// decides which structural characters may legally follow its closing quote.
type stringRole int

const (
	roleTopLevel stringRole = iota
	roleObjectKey
	roleObjectValue
	roleArrayValue
)

// Repair rewrites near-JSON into parseable JSON on a best-effort basis. It is
// a pure function, never fails, and returns valid canonical JSON unchanged.
// It is meant as a fallback after a direct parse attempt has already failed.
func Repair(text string) string {
	var out strings.Builder
	out.Grow(len(text) + 16)

	var stack []frame
	inString := false
	escaped := false
	role := roleTopLevel

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			if escaped {
				out.WriteByte(c)
				escaped = false
				continue
			}
			switch {
			case c == '\\':
				out.WriteByte(c)
				escaped = true
			case c == '"':
				if closesString(text[i+1:], role) {
					out.WriteByte('"')
					inString = false
				} else {
					// Quote that cannot legally terminate here: treat it as
					// literal content.
					out.WriteString(`\"`)
				}
			case c == '\n':
				out.WriteString(`\n`)
			case c == '\r':
				out.WriteString(`\r`)
			case c == '\t':
				out.WriteString(`\t`)
			case c < 0x20:
				fmt.Fprintf(&out, `\u%04x`, c)
			default:
				out.WriteByte(c)
			}
			continue
		}

		switch c {
		case '{':
			stack = append(stack, frame{kind: kindObject, expectKey: true})
			out.WriteByte(c)
		case '[':
			stack = append(stack, frame{kind: kindArray})
			out.WriteByte(c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			out.WriteByte(c)
		case ':':
			if len(stack) > 0 && stack[len(stack)-1].kind == kindObject {
				stack[len(stack)-1].expectKey = false
			}
			out.WriteByte(c)
		case ',':
			if len(stack) > 0 && stack[len(stack)-1].kind == kindObject {
				stack[len(stack)-1].expectKey = true
			}
			out.WriteByte(c)
		case '"':
			inString = true
			role = currentRole(stack)
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}

	// Defensive closing of whatever the stream left open.
	if escaped {
		out.WriteByte('\\')
	}
	if inString {
		out.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].kind == kindObject {
			out.WriteByte('}')
		} else {
			out.WriteByte(']')
		}
	}

	return out.String()
}

func currentRole(stack []frame) stringRole {
	if len(stack) == 0 {
		return roleTopLevel
	}
	top := stack[len(stack)-1]
	if top.kind == kindArray {
		return roleArrayValue
	}
	if top.expectKey {
		return roleObjectKey
	}
	return roleObjectValue
}

// closesString reports whether a quote encountered inside a string may
// legally terminate it, judged by the first non-whitespace character that
// follows. End of input always closes; otherwise the successor must be a
// structural character valid for the string's role.
func closesString(rest string, role stringRole) bool {
	next, ok := firstNonSpace(rest)
	if !ok {
		return true
	}
	switch role {
	case roleObjectKey:
		return next == ':'
	case roleObjectValue:
		return next == ',' || next == '}'
	case roleArrayValue:
		return next == ',' || next == ']'
	default:
		// A top-level string has no legal successor other than end of input.
		return false
	}
}

func firstNonSpace(s string) (byte, bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i], true
		}
	}
	return 0, false
}
