// Package conformation encodes which branches of a lazily loaded tree are
// expanded as a short, URL-safe string.
//
// A conformation only carries positions. Each Branch names the slot of an
// expanded sibling in the current ordered sibling list, and recursively the
// expanded slots among its children. Collapsed siblings are absent. Decoding
// therefore has to be matched against the live roots/children at apply time.
//
// Wire format: the nested list [[0,[2]],[3]] is written with '~' for an open
// bracket and '-' for a close bracket. Separators are dropped entirely: in this
// construction every separator sits right before an open bracket, and an open
// bracket that follows a non-open token already starts a new sibling.
//
//	[[0,[2]],[3]]  ->  ~~0~2--~3--
//
// Neither '~' nor '-' needs percent escaping in a query string.
package conformation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	openToken  = '~'
	closeToken = '-'

	// MaxEncodedLen bounds the input Decode will parse.
	MaxEncodedLen = 8192

	maxSlot = 1<<31 - 1
)

// Branch marks the sibling at Slot as expanded.
type Branch struct {
	Slot     int
	Children Conformation
}

// Conformation is the ordered set of expanded slots at one tree level.
type Conformation []Branch

// IsEmpty reports whether nothing is expanded.
func (c Conformation) IsEmpty() bool {
	return len(c) == 0
}

// Equal compares two conformations structurally. Nil and empty are equal.
func (c Conformation) Equal(other Conformation) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i].Slot != other[i].Slot || !c[i].Children.Equal(other[i].Children) {
			return false
		}
	}
	return true
}

// Find returns the branch for slot, if present.
func (c Conformation) Find(slot int) (Branch, bool) {
	for _, b := range c {
		if b.Slot == slot {
			return b, true
		}
	}
	return Branch{}, false
}

// Depth returns the number of nested levels (0 for an empty conformation).
func (c Conformation) Depth() int {
	deepest := 0
	for _, b := range c {
		if d := b.Children.Depth(); d > deepest {
			deepest = d
		}
	}
	if len(c) == 0 {
		return 0
	}
	return deepest + 1
}

// DecodeError reports a malformed encoded conformation.
type DecodeError struct {
	Input  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	in := e.Input
	if len(in) > 64 {
		in = in[:64] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("bad tree conformation %q: %s: %v", in, e.Reason, e.Err)
	}
	return fmt.Sprintf("bad tree conformation %q: %s", in, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEmpty is wrapped by the DecodeError returned for an empty string.
var ErrEmpty = errors.New("empty conformation")

// Encode renders c in the compact wire format. An empty conformation
// encodes as "~-".
func Encode(c Conformation) string {
	var sb strings.Builder
	sb.WriteByte(openToken)
	for _, b := range c {
		writeBranch(&sb, b)
	}
	sb.WriteByte(closeToken)
	return sb.String()
}

func writeBranch(sb *strings.Builder, b Branch) {
	sb.WriteByte(openToken)
	sb.WriteString(strconv.Itoa(b.Slot))
	for _, child := range b.Children {
		writeBranch(sb, child)
	}
	sb.WriteByte(closeToken)
}

// Decode parses an encoded conformation. It never panics; any malformed
// input yields a *DecodeError and a nil Conformation.
func Decode(s string) (Conformation, error) {
	if s == "" {
		return nil, &DecodeError{Input: s, Reason: "empty input", Err: ErrEmpty}
	}
	if len(s) > MaxEncodedLen {
		return nil, &DecodeError{Input: s, Reason: fmt.Sprintf("longer than %d bytes", MaxEncodedLen)}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != openToken && c != closeToken && (c < '0' || c > '9') {
			return nil, &DecodeError{Input: s, Reason: fmt.Sprintf("unexpected character %q at %d", c, i)}
		}
		// Slots are written without leading zeros.
		if c == '0' && i+1 < len(s) && isDigit(s[i+1]) && (i == 0 || !isDigit(s[i-1])) {
			return nil, &DecodeError{Input: s, Reason: fmt.Sprintf("leading zero at %d", i)}
		}
	}

	var raw any
	if err := json.Unmarshal(expand(s), &raw); err != nil {
		return nil, &DecodeError{Input: s, Reason: "unbalanced or misplaced brackets", Err: err}
	}

	top, ok := raw.([]any)
	if !ok {
		return nil, &DecodeError{Input: s, Reason: "top level is not a list"}
	}
	c, err := toConformation(top)
	if err != nil {
		return nil, &DecodeError{Input: s, Reason: "invalid structure", Err: err}
	}
	return c, nil
}

// expand reinserts the separators dropped by Encode: one before every open
// token that is not itself preceded by an open token, then maps the tokens
// back to brackets.
func expand(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case openToken:
			if i > 0 && s[i-1] != openToken {
				out = append(out, ',')
			}
			out = append(out, '[')
		case closeToken:
			out = append(out, ']')
		default:
			out = append(out, s[i])
		}
	}
	return out
}

func toConformation(items []any) (Conformation, error) {
	if len(items) == 0 {
		return Conformation{}, nil
	}
	c := make(Conformation, 0, len(items))
	for i, item := range items {
		elem, ok := item.([]any)
		if !ok {
			return nil, fmt.Errorf("element %d is not a list", i)
		}
		b, err := toBranch(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		c = append(c, b)
	}
	return c, nil
}

func toBranch(elem []any) (Branch, error) {
	if len(elem) == 0 {
		return Branch{}, errors.New("missing slot")
	}
	num, ok := elem[0].(float64)
	if !ok {
		return Branch{}, errors.New("slot is not a number")
	}
	if num < 0 || num > maxSlot || num != math.Trunc(num) {
		return Branch{}, fmt.Errorf("slot %v out of range", num)
	}
	b := Branch{Slot: int(num)}
	if len(elem) > 1 {
		children, err := toConformation(elem[1:])
		if err != nil {
			return Branch{}, err
		}
		b.Children = children
	}
	return b, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
