// Package line validates and parses the semicolon-separated, quoted-field
// line format and streams parsed rows from a reader.
//
// Grammar: a line is split strictly on ';' (the delimiter cannot be escaped).
// Every field must be empty or a double-quoted value: it starts and ends with
// '"', and the text between the outer quotes is not a lone '"'. One bad field
// invalidates the whole line.
package line

import "strings"

const (
	// Delimiter separates fields.
	Delimiter = ";"

	// EmptyMarker is an explicitly empty quoted field. It is valid but never indexed.
	EmptyMarker = `""`
)

// ValidField reports whether f is an acceptable field.
//
// The raw field is checked, without trimming: a quoted value with surrounding
// blanks is rejected.
func ValidField(f string) bool {
	if f == "" {
		return true
	}
	if len(f) < 2 || f[0] != '"' || f[len(f)-1] != '"' {
		return false
	}
	return f[1:len(f)-1] != `"`
}

// Indexable reports whether a trimmed field value takes part in grouping.
func Indexable(v string) bool {
	return v != "" && v != EmptyMarker
}

// Parse validates text and returns its column-aligned values.
//
// The returned slice reuses dst's backing array. Entry i holds the trimmed
// text of field i if it is Indexable, and "" otherwise. ok is false (and the
// slice nil) when any field is invalid.
//
// A valid line may yield no indexable value at all.
func Parse(text string, dst []string) (values []string, ok bool) {
	values = dst[:0]
	rest := text
	for {
		f := rest
		i := strings.Index(rest, Delimiter)
		if i >= 0 {
			f = rest[:i]
		}
		if !ValidField(f) {
			return nil, false
		}

		v := strings.TrimSpace(f)
		if !Indexable(v) {
			v = ""
		}
		values = append(values, v)

		if i < 0 {
			break
		}
		rest = rest[i+len(Delimiter):]
	}
	return trimTrailingEmpty(values), true
}


// trimTrailingEmpty drops trailing non-indexable columns; they never affect
// grouping and keep the builder from visiting empty tails.
func trimTrailingEmpty(values []string) []string {
	n := len(values)
	for n > 0 && values[n-1] == "" {
		n--
	}
	return values[:n]
}
