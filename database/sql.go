package database

import (
	"fmt"
	"strings"
)

// Quote renders v as a SQL literal. nil yields the bare word NULL and a
// bool yields the bare 1 or 0; any other value is stringified (ints/floats
// via fmt, strings and []byte as-is) and escaped per MySQL's
// backslash-escape rules, then wrapped in single quotes.
func Quote(v interface{}) string {
	if v == nil {
		return "NULL"
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		s = fmt.Sprintf("%v", t)
	}
	return "'" + escapeString(s) + "'"
}

func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\'':
			b.WriteString(`\'`)
		case '\x1a':
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// QuoteIdentifier wraps id in backticks, doubling any internal backtick so
// it round-trips through the server's identifier quoting.
func QuoteIdentifier(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// ExpandSQL substitutes each unescaped `?` placeholder in template with
// Quote(args[i]) in order, skipping placeholders that fall inside a
// single- or double-quoted string literal. It returns ErrArityMismatch if
// the number of placeholders found does not equal len(args).
func ExpandSQL(template string, args ...interface{}) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	argIdx := 0
	var quoteChar byte
	inQuote := false
	runes := []byte(template)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inQuote {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(runes) {
				i++
				b.WriteByte(runes[i])
				continue
			}
			if c == quoteChar {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'', '"':
			inQuote = true
			quoteChar = c
			b.WriteByte(c)
		case '?':
			if argIdx >= len(args) {
				return "", ErrArityMismatch
			}
			b.WriteString(Quote(args[argIdx]))
			argIdx++
		default:
			b.WriteByte(c)
		}
	}
	if argIdx != len(args) {
		return "", ErrArityMismatch
	}
	return b.String(), nil
}
