package model

import (
	"fmt"
	"strings"

	"github.com/cwbudde/curvesearch/internal/errs"
)

// Rule selects how a list of elementary models is combined.
type Rule int

const (
	Sum Rule = iota
	Difference
	Product
	Division
	Piecewise
)

// ParseRule accepts an operator symbol or rule name.
func ParseRule(s string) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "+", "sum":
		return Sum, nil
	case "-", "difference":
		return Difference, nil
	case "*", "product":
		return Product, nil
	case "/", "division":
		return Division, nil
	case "piecewise":
		return Piecewise, nil
	default:
		return Sum, errs.Invalid("rule", "unknown combination rule %q", s)
	}
}

// Symbol returns the infix operator of an arithmetic rule.
func (r Rule) Symbol() string {
	switch r {
	case Sum:
		return "+"
	case Difference:
		return "-"
	case Product:
		return "*"
	case Division:
		return "/"
	default:
		return ""
	}
}

func (r Rule) String() string {
	switch r {
	case Sum:
		return "+"
	case Difference:
		return "-"
	case Product:
		return "*"
	case Division:
		return "/"
	case Piecewise:
		return "piecewise"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

// MarshalText encodes the rule as its String form.
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts anything ParseRule does.
func (r *Rule) UnmarshalText(text []byte) error {
	parsed, err := ParseRule(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Rule) apply(a, b float64) float64 {
	switch r {
	case Difference:
		return a - b
	case Product:
		return a * b
	case Division:
		return a / b
	default:
		return a + b
	}
}

// Kind distinguishes elementary, arithmetic and split models.
type Kind int

const (
	Elementary Kind = iota
	Operation
	Split
)

func (k Kind) String() string {
	switch k {
	case Elementary:
		return "elementary"
	case Operation:
		return "operation"
	case Split:
		return "piecewise"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}
