package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// ParsePattern parses the textual form of a node pattern:
//
//	Type attr=value attr="quoted value" ...
//
// Unquoted values that parse as numbers or booleans keep that type; quoted
// values are always strings. Values are bound as parameters, never spliced
// into a backend query.
func ParsePattern(s string) (Pattern, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
	}
	if len(tokens) == 0 {
		return Pattern{}, fmt.Errorf("pattern %q: empty", s)
	}
	head := tokens[0]
	if head.quoted || strings.Contains(head.text, "=") {
		return Pattern{}, fmt.Errorf("pattern %q: must start with an entity type", s)
	}
	p := Pattern{Type: head.text}
	for _, tok := range tokens[1:] {
		if tok.quoted {
			return Pattern{}, fmt.Errorf("pattern %q: value %q without attribute", s, tok.text)
		}
		name, raw, ok := strings.Cut(tok.text, "=")
		if !ok || name == "" {
			return Pattern{}, fmt.Errorf("pattern %q: expected attr=value, got %q", s, tok.text)
		}
		if p.Attrs == nil {
			p.Attrs = make(map[string]any)
		}
		if tok.valueQuoted {
			p.Attrs[name] = raw
		} else {
			p.Attrs[name] = scalar(raw)
		}
	}
	return p, nil
}

type token struct {
	text string
	// quoted is set when the whole token was a quoted string.
	quoted bool
	// valueQuoted is set when the part after "=" was quoted.
	valueQuoted bool
}

func tokenize(s string) ([]token, error) {
	var (
		out []token
		cur strings.Builder
		tok token
		in  bool // inside quotes
		has bool // cur holds a token
	)
	flush := func() {
		if has {
			tok.text = cur.String()
			out = append(out, tok)
		}
		cur.Reset()
		tok = token{}
		has = false
	}
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case in && r == '\\' && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
		case in && r == '"':
			in = false
		case in:
			cur.WriteRune(r)
		case r == '"':
			in = true
			if !has {
				tok.quoted = true
			} else if strings.HasSuffix(cur.String(), "=") {
				tok.valueQuoted = true
			}
			has = true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if in {
		return nil, fmt.Errorf("unterminated quote")
	}
	flush()
	return out, nil
}

func scalar(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// String renders p in the form ParsePattern accepts.
func (p Pattern) String() string {
	var sb strings.Builder
	sb.WriteString(p.Type)
	keys := make([]string, 0, len(p.Attrs))
	for k := range p.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(" ")
		sb.WriteString(k)
		sb.WriteString("=")
		if s, ok := p.Attrs[k].(string); ok {
			sb.WriteString(strconv.Quote(s))
		} else {
			fmt.Fprint(&sb, p.Attrs[k])
		}
	}
	return sb.String()
}
