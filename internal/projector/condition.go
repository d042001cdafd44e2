package projector

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	serrors "github.com/sysview/sysview/internal/errors"
)

// Operator is a key condition comparison.
type Operator int

const (
	OpEQ Operator = iota
	OpLT
	OpLE
	OpGT
	OpGE
	OpBetween
	OpBeginsWith
)

func (o Operator) String() string {
	switch o {
	case OpEQ:
		return "EQ"
	case OpLT:
		return "LT"
	case OpLE:
		return "LE"
	case OpGT:
		return "GT"
	case OpGE:
		return "GE"
	case OpBetween:
		return "BETWEEN"
	case OpBeginsWith:
		return "BEGINS_WITH"
	default:
		return "UNKNOWN"
	}
}

// arity is the number of operand values an operator takes.
func (o Operator) arity() int {
	if o == OpBetween {
		return 2
	}
	return 1
}

// Condition is one comparison on a key attribute. Every key attribute of a
// virtual table is a string, so operand values are strings.
type Condition struct {
	Attribute string
	Op        Operator
	Values    []string
}

// Matches reports whether v satisfies the condition.
func (c Condition) Matches(v string) bool {
	switch c.Op {
	case OpEQ:
		return v == c.Values[0]
	case OpLT:
		return v < c.Values[0]
	case OpLE:
		return v <= c.Values[0]
	case OpGT:
		return v > c.Values[0]
	case OpGE:
		return v >= c.Values[0]
	case OpBetween:
		return v >= c.Values[0] && v <= c.Values[1]
	case OpBeginsWith:
		return strings.HasPrefix(v, c.Values[0])
	}
	return false
}

// KeyCondition is a bound query condition: an equality on the hash key and
// an optional condition on the range key.
type KeyCondition struct {
	Hash  Condition
	Range *Condition
}

// HashValue returns the value the hash key must equal.
func (k KeyCondition) HashValue() string {
	return k.Hash.Values[0]
}

// MatchesRange reports whether v satisfies the range condition, if any.
func (k KeyCondition) MatchesRange(v string) bool {
	return k.Range == nil || k.Range.Matches(v)
}

// Bind checks conditions against a key schema. The hash key must be
// constrained by exactly one equality and the range key by at most one
// condition. Conditions on any other attribute are rejected.
func Bind(conds []Condition, schema Schema) (KeyCondition, error) {
	var kc KeyCondition
	var hashSeen bool
	for i := range conds {
		c := conds[i]
		switch {
		case c.Attribute == schema.HashKey:
			if hashSeen {
				return KeyCondition{}, invalidCondition("KeyConditions: multiple conditions on hash key %s", c.Attribute)
			}
			if c.Op != OpEQ {
				return KeyCondition{}, invalidCondition("Query key condition not supported: hash key %s must use equality", c.Attribute)
			}
			kc.Hash = c
			hashSeen = true
		case schema.RangeKey != "" && c.Attribute == schema.RangeKey:
			if kc.Range != nil {
				return KeyCondition{}, invalidCondition("KeyConditions: multiple conditions on range key %s", c.Attribute)
			}
			kc.Range = &c
		default:
			return KeyCondition{}, invalidCondition("Query condition missed key schema element: %s is not a key attribute", c.Attribute)
		}
	}
	if !hashSeen {
		return KeyCondition{}, invalidCondition("Query condition missed key schema element: %s", schema.HashKey)
	}
	return kc, nil
}

// LegacyCondition converts one entry of the legacy KeyConditions map.
func LegacyCondition(attribute, op string, values []types.AttributeValue) (Condition, error) {
	var o Operator
	switch strings.ToUpper(op) {
	case "EQ":
		o = OpEQ
	case "LT":
		o = OpLT
	case "LE":
		o = OpLE
	case "GT":
		o = OpGT
	case "GE":
		o = OpGE
	case "BETWEEN":
		o = OpBetween
	case "BEGINS_WITH":
		o = OpBeginsWith
	default:
		return Condition{}, invalidCondition("Unsupported operator on KeyConditions: %s", op)
	}
	if len(values) != o.arity() {
		return Condition{}, invalidCondition("%s operator requires %d values for %s, got %d", o, o.arity(), attribute, len(values))
	}

	c := Condition{Attribute: attribute, Op: o}
	for _, av := range values {
		s, err := stringValue(av, attribute)
		if err != nil {
			return Condition{}, err
		}
		c.Values = append(c.Values, s)
	}
	return c, nil
}

// ParseKeyConditionExpression parses a KeyConditionExpression into the
// conditions it joins with AND. Name and value placeholders are resolved
// against the expression attribute maps.
func ParseKeyConditionExpression(expr string, names map[string]string, values map[string]types.AttributeValue) ([]Condition, error) {
	p := &conditionParser{lexer: newLexer(expr), names: names, values: values}
	p.nextToken()
	p.nextToken()

	conds, err := p.parseConjunction()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokEOF {
		return nil, p.unexpected("end of expression")
	}
	return conds, nil
}

type conditionParser struct {
	lexer  *lexer
	cur    exprToken
	peek   exprToken
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *conditionParser) nextToken() {
	p.cur = p.peek
	p.peek = p.lexer.next()
}

func (p *conditionParser) expect(t tokenType) error {
	if p.cur.typ != t {
		return p.unexpected(t.String())
	}
	p.nextToken()
	return nil
}

func (p *conditionParser) unexpected(want string) error {
	if p.cur.typ == tokEOF {
		return invalidCondition("Invalid KeyConditionExpression: expected %s, reached end of expression", want)
	}
	return invalidCondition("Invalid KeyConditionExpression: expected %s, got %q at position %d", want, p.cur.literal, p.cur.pos)
}

// parseConjunction parses term (AND term)*.
func (p *conditionParser) parseConjunction() ([]Condition, error) {
	conds, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokAnd {
		p.nextToken()
		more, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		conds = append(conds, more...)
	}
	return conds, nil
}

func (p *conditionParser) parseTerm() ([]Condition, error) {
	switch p.cur.typ {
	case tokLParen:
		p.nextToken()
		conds, err := p.parseConjunction()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return conds, nil

	case tokBeginsWith:
		p.nextToken()
		if err := p.expect(tokLParen); err != nil {
			return nil, err
		}
		attr, err := p.parseName()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokComma); err != nil {
			return nil, err
		}
		v, err := p.parseValue(attr)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return []Condition{{Attribute: attr, Op: OpBeginsWith, Values: []string{v}}}, nil

	case tokName:
		attr, err := p.parseName()
		if err != nil {
			return nil, err
		}
		c := Condition{Attribute: attr}
		switch p.cur.typ {
		case tokEq:
			c.Op = OpEQ
		case tokLt:
			c.Op = OpLT
		case tokLe:
			c.Op = OpLE
		case tokGt:
			c.Op = OpGT
		case tokGe:
			c.Op = OpGE
		case tokBetween:
			c.Op = OpBetween
		default:
			return nil, p.unexpected("comparison operator")
		}
		p.nextToken()

		v, err := p.parseValue(attr)
		if err != nil {
			return nil, err
		}
		c.Values = []string{v}
		if c.Op == OpBetween {
			if err := p.expect(tokAnd); err != nil {
				return nil, err
			}
			hi, err := p.parseValue(attr)
			if err != nil {
				return nil, err
			}
			if hi < v {
				return nil, invalidCondition("Invalid KeyConditionExpression: BETWEEN bounds for %s are out of order", attr)
			}
			c.Values = append(c.Values, hi)
		}
		return []Condition{c}, nil

	default:
		return nil, p.unexpected("condition")
	}
}

func (p *conditionParser) parseName() (string, error) {
	if p.cur.typ != tokName {
		return "", p.unexpected("attribute name")
	}
	name := p.cur.literal
	if strings.HasPrefix(name, "#") {
		resolved, ok := p.names[name]
		if !ok {
			return "", invalidCondition("An expression attribute name used in the document path is not defined; attribute name: %s", name)
		}
		name = resolved
	}
	p.nextToken()
	return name, nil
}

func (p *conditionParser) parseValue(attr string) (string, error) {
	if p.cur.typ != tokValue {
		return "", p.unexpected("value placeholder")
	}
	av, ok := p.values[p.cur.literal]
	if !ok {
		return "", invalidCondition("An expression attribute value used in expression is not defined; attribute value: %s", p.cur.literal)
	}
	p.nextToken()
	return stringValue(av, attr)
}

func stringValue(av types.AttributeValue, attr string) (string, error) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return "", invalidCondition("One or more parameter values were invalid: Condition parameter type does not match schema type for key %s", attr)
	}
	return s.Value, nil
}

func invalidCondition(format string, args ...interface{}) error {
	return serrors.NewValidationError(serrors.CodeInvalidKeyCondition, fmt.Sprintf(format, args...))
}
