package policy

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/wire"

	"github.com/uncomputable/tappy/errs"
)

// maxLockValue bounds older/after arguments; script numbers for CSV and CLTV
// must stay positive.
const maxLockValue = 1<<31 - 1

type expr struct {
	name string
	args []*expr
}

type exprStack []*expr

func (s *exprStack) push(e *expr) {
	*s = append(*s, e)
}

func (s *exprStack) pop() *expr {
	if len(*s) == 0 {
		return nil
	}
	e := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return e
}

func (s *exprStack) top() *expr {
	if len(*s) == 0 {
		return nil
	}
	return (*s)[len(*s)-1]
}

// splitString splits s at every separator and keeps the separators as
// tokens of their own.
func splitString(s string, isSeparator func(c rune) bool) []string {
	tokens := make([]string, 0)

	i := 0
	for i < len(s) {
		j := strings.IndexFunc(s[i:], isSeparator)
		if j == -1 {
			tokens = append(tokens, s[i:])
			return tokens
		}
		j += i

		if j > i {
			tokens = append(tokens, s[i:j])
		}
		tokens = append(tokens, s[j:j+1])
		i = j + 1
	}
	return tokens
}

func isSeparator(c rune) bool {
	return c == '(' || c == ')' || c == ','
}

// parseExpr builds a generic call tree out of a function-call style string
// such as "and(pk(..),older(10))".
func parseExpr(s string) (*expr, error) {
	s = strings.Join(strings.Fields(s), "")
	tokens := splitString(s, isSeparator)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	first, last := tokens[0], tokens[len(tokens)-1]
	if first == "(" || first == ")" || first == "," || last == "(" || last == "," {
		return nil, fmt.Errorf("invalid first or last character")
	}

	var stack exprStack
	for i, token := range tokens {
		switch token {
		case "(":
			if i > 0 && isSeparator(rune(tokens[i-1][0])) {
				return nil, fmt.Errorf("the sequence %s%s is invalid", tokens[i-1], token)
			}

		case ",", ")":
			if i > 0 && (tokens[i-1] == "(" || tokens[i-1] == ",") {
				return nil, fmt.Errorf("the sequence %s%s is invalid", tokens[i-1], token)
			}

			arg := stack.pop()
			parent := stack.top()
			if arg == nil || parent == nil {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
			parent.args = append(parent.args, arg)

		default:
			if i > 0 && tokens[i-1] == ")" {
				return nil, fmt.Errorf("the sequence %s%s is invalid", tokens[i-1], token)
			}
			stack.push(&expr{name: token})
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	return stack.top(), nil
}

// Parse reads a policy from its text form.
func Parse(s string) (*Node, error) {
	e, err := parseExpr(s)
	if err != nil {
		return nil, errs.ErrInvalidPolicy.Wrap(err)
	}

	n, err := fromExpr(e)
	if err != nil {
		return nil, errs.ErrInvalidPolicy.Wrap(err)
	}
	return n, nil
}

// ParseExpr exposes the call-tree parser to the descriptor package, which
// wraps policies in tr(..) and prog(..).
func ParseExpr(s string) (name string, args []string, err error) {
	e, err := parseExpr(s)
	if err != nil {
		return "", nil, errs.ErrInvalidPolicy.Wrap(err)
	}
	for _, arg := range e.args {
		args = append(args, arg.String())
	}
	return e.name, args, nil
}

func (e *expr) String() string {
	if len(e.args) == 0 {
		return e.name
	}
	parts := make([]string, len(e.args))
	for i, arg := range e.args {
		parts[i] = arg.String()
	}
	return e.name + "(" + strings.Join(parts, ",") + ")"
}

func fromExpr(e *expr) (*Node, error) {
	expectArgs := func(num int) error {
		if len(e.args) != num {
			return fmt.Errorf("%s expects %d arguments, got %d", e.name, num, len(e.args))
		}
		return nil
	}

	switch e.name {
	case "pk":
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		key, err := parseHex32(e.args[0])
		if err != nil {
			return nil, fmt.Errorf("pk: %w", err)
		}
		return Pk(key[:]), nil

	case "sha256":
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		image, err := parseHex32(e.args[0])
		if err != nil {
			return nil, fmt.Errorf("sha256: %w", err)
		}
		return Sha256(image), nil

	case "older", "after":
		if err := expectArgs(1); err != nil {
			return nil, err
		}
		v, err := parseNumber(e.args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		n := After(v)
		if e.name == "older" {
			n = Older(v)
		}
		return n, n.validate()

	case "and", "or":
		if err := expectArgs(2); err != nil {
			return nil, err
		}
		x, err := fromExpr(e.args[0])
		if err != nil {
			return nil, err
		}
		y, err := fromExpr(e.args[1])
		if err != nil {
			return nil, err
		}
		if e.name == "and" {
			return And(x, y), nil
		}
		return Or(x, y), nil

	case "thresh":
		if len(e.args) < 2 {
			return nil, fmt.Errorf("thresh expects a threshold and at least one sub-policy")
		}
		k, err := parseNumber(e.args[0])
		if err != nil {
			return nil, fmt.Errorf("thresh: %w", err)
		}
		subs := make([]*Node, 0, len(e.args)-1)
		for _, arg := range e.args[1:] {
			sub, err := fromExpr(arg)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		n := Thresh(k, subs...)
		return n, n.validate()
	}

	return nil, fmt.Errorf("unknown fragment %q", e.name)
}

// validate checks the local constraints of one fragment.
func (n *Node) validate() error {
	switch n.Fragment {
	case FragmentPk:
		if len(n.Key) != 32 {
			return fmt.Errorf("pk: key must be 32 bytes, got %d", len(n.Key))
		}
	case FragmentSha256:
	case FragmentOlder:
		if n.Value == 0 || n.Value > maxLockValue {
			return fmt.Errorf("older: value %d out of range", n.Value)
		}
		if n.Value&wire.SequenceLockTimeDisabled != 0 {
			return fmt.Errorf("older: value %d disables the relative lock", n.Value)
		}
	case FragmentAfter:
		if n.Value == 0 || n.Value > maxLockValue {
			return fmt.Errorf("after: value %d out of range", n.Value)
		}
	case FragmentAnd, FragmentOr:
		if len(n.Subs) != 2 {
			return fmt.Errorf("%s expects 2 sub-policies, got %d", n.Fragment, len(n.Subs))
		}
	case FragmentThresh:
		if len(n.Subs) == 0 || n.Value == 0 || int(n.Value) > len(n.Subs) {
			return fmt.Errorf("thresh: threshold %d of %d", n.Value, len(n.Subs))
		}
	default:
		return fmt.Errorf("unknown fragment %d", n.Fragment)
	}
	return nil
}

// Validate checks the whole tree.
func (n *Node) Validate() error {
	var err error
	n.walk(func(node *Node) {
		if err == nil {
			err = node.validate()
		}
	})
	if err != nil {
		return errs.ErrInvalidPolicy.Wrap(err)
	}
	return nil
}

func parseHex32(e *expr) ([32]byte, error) {
	var out [32]byte
	if len(e.args) != 0 {
		return out, fmt.Errorf("expected hex string, got %s", e)
	}
	b, err := hex.DecodeString(e.name)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseNumber(e *expr) (uint32, error) {
	if len(e.args) != 0 {
		return 0, fmt.Errorf("expected number, got %s", e)
	}
	v, err := strconv.ParseUint(e.name, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
