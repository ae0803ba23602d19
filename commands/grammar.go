// Package commands parses agent command invocations (!name(args)) out of
// model text and dispatches them through a typed registry.
package commands

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Prefix marks the start of a command invocation.
const Prefix = "!"

var invocationRe = regexp.MustCompile(`!(\w+)(?:\(((?:'[^']*'|"[^"]*"|[^)('"]+)*)\))?`)

// ErrNoCommand is returned by Parse when text holds no invocation.
var ErrNoCommand = errors.New("no command in text")

// Invocation is one parsed command. Start and End are byte offsets of the
// invocation (including its argument span) within the source text.
type Invocation struct {
	Name  string // includes the prefix, e.g. "!stop"
	Raw   string
	Start int
	End   int
	Args  []string
}

// ContainsCommand returns the name (with prefix) of the first invocation in
// text.
func ContainsCommand(text string) (string, bool) {
	m := invocationRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return Prefix + m[1], true
}

// TruncateAtCommand drops everything after the first invocation's argument
// span. Text without an invocation is returned unchanged.
func TruncateAtCommand(text string) string {
	loc := invocationRe.FindStringIndex(text)
	if loc == nil {
		return text
	}
	return text[:loc[1]]
}

// Parse extracts the first invocation from text and splits its arguments.
// Arguments are kept as literal tokens with surrounding quotes removed;
// conversion to typed values happens against a Descriptor's params.
func Parse(text string) (Invocation, error) {
	loc := invocationRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return Invocation{}, ErrNoCommand
	}
	inv := Invocation{
		Name:  Prefix + text[loc[2]:loc[3]],
		Raw:   text[loc[0]:loc[1]],
		Start: loc[0],
		End:   loc[1],
	}
	if loc[4] >= 0 {
		args, err := splitArgs(text[loc[4]:loc[5]])
		if err != nil {
			return Invocation{}, fmt.Errorf("parse %s: %w", inv.Name, err)
		}
		inv.Args = args
	}
	return inv, nil
}

// splitArgs splits a comma separated argument list, honouring single and
// double quotes.
func splitArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var (
		args  []string
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		args = append(args, unquote(strings.TrimSpace(cur.String())))
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	flush()
	return args, nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
)

// Param documents and types one positional argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Optional    bool
}

// Args are the typed arguments of an invocation, in declaration order.
type Args []any

func (a Args) String(i int) string {
	if i >= len(a) {
		return ""
	}
	s, _ := a[i].(string)
	return s
}

func (a Args) Int(i int) int {
	if i >= len(a) {
		return 0
	}
	n, _ := a[i].(int)
	return n
}

func (a Args) Float(i int) float64 {
	if i >= len(a) {
		return 0
	}
	f, _ := a[i].(float64)
	return f
}

func (a Args) Bool(i int) bool {
	if i >= len(a) {
		return false
	}
	b, _ := a[i].(bool)
	return b
}

// Has reports whether argument i was supplied.
func (a Args) Has(i int) bool { return i < len(a) }

// convertArgs types raw tokens against params.
func convertArgs(name string, params []Param, raw []string) (Args, error) {
	required := 0
	for _, p := range params {
		if !p.Optional {
			required++
		}
	}
	if len(raw) < required || len(raw) > len(params) {
		return nil, fmt.Errorf("%w: %s expects %d-%d args, got %d", ErrInvalidArgs, name, required, len(params), len(raw))
	}
	out := make(Args, 0, len(raw))
	for i, tok := range raw {
		p := params[i]
		switch p.Type {
		case ParamInt:
			n, err := strconv.Atoi(tok)
			if err != nil {
				f, ferr := strconv.ParseFloat(tok, 64)
				if ferr != nil {
					return nil, fmt.Errorf("%w: %s param %q: %q is not an integer", ErrInvalidArgs, name, p.Name, tok)
				}
				n = int(f)
			}
			out = append(out, n)
		case ParamFloat:
			f, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s param %q: %q is not a number", ErrInvalidArgs, name, p.Name, tok)
			}
			out = append(out, f)
		case ParamBool:
			b, err := strconv.ParseBool(strings.ToLower(tok))
			if err != nil {
				return nil, fmt.Errorf("%w: %s param %q: %q is not a boolean", ErrInvalidArgs, name, p.Name, tok)
			}
			out = append(out, b)
		default:
			out = append(out, tok)
		}
	}
	return out, nil
}
