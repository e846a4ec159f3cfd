// Package dice parses, rolls, and renders tabletop dice expressions.
//
// The accepted notation is
//
//	[count]d<sides>[h|l<keep>][+|-<modifier>][x<repeat>][sort]
//	<number>[+|-<modifier>][x<repeat>][sort]
//
// for example "d20", "4d6h3", "3d6+2", "1d20+1x7sort" or "20". The canonical
// rendering drops a count of one, so "1d20x3" renders as "d20x3".
//
// Rolling goes through a [Roller] so callers can inject a seeded source in
// tests. [Default] uses the auto-seeded global source of [math/rand/v2].
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Limits guarding against expressions that would flood a chat channel.
const (
	MaxDice   = 1000
	MaxSides  = 10000
	MaxRepeat = 100
)

// ErrSyntax is returned (wrapped) for any expression that is not valid dice
// notation or exceeds the limits.
var ErrSyntax = errors.New("dice: syntax error")

var exprRE = regexp.MustCompile(`^(?:(\d*)d(\d+)(?:([hl])(\d+))?|(\d+))([+-]\d+)?(?:x(\d+))?(sort)?$`)

// Roller is the random source used by [Expr.Roll]. *rand.Rand from
// math/rand/v2 satisfies it.
type Roller interface {
	IntN(n int) int
}

type globalRoller struct{}

func (globalRoller) IntN(n int) int { return rand.IntN(n) }

// Default rolls with the process-wide math/rand/v2 source.
var Default Roller = globalRoller{}

// NewSeeded returns a deterministic Roller. Useful in tests.
func NewSeeded(seed uint64) Roller {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Expr is a parsed dice expression.
type Expr struct {
	// Count is the number of dice. For a plain number it is zero.
	Count int
	// Sides is the die size. Zero marks a plain number held in Value.
	Sides int
	// Value is the constant of a plain-number expression.
	Value int
	// Filter is 'h' (keep highest) or 'l' (keep lowest), zero for none.
	Filter byte
	// Keep is the number of dice kept by Filter.
	Keep int
	// Modifier is added to every repetition.
	Modifier int
	// Repeat is the number of independent repetitions, at least one.
	Repeat int
	// Sort asks for results to be reported in ascending order.
	Sort bool
}

// Parse parses s. Errors wrap [ErrSyntax].
func Parse(s string) (*Expr, error) {
	src := strings.ToLower(strings.TrimSpace(s))
	m := exprRE.FindStringSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("%w: %q is not a dice expression", ErrSyntax, s)
	}

	e := &Expr{Repeat: 1, Sort: m[8] != ""}
	var err error
	if m[5] != "" {
		if e.Value, err = atoi(m[5], s); err != nil {
			return nil, err
		}
	} else {
		e.Count = 1
		if m[1] != "" {
			if e.Count, err = atoi(m[1], s); err != nil {
				return nil, err
			}
		}
		if e.Sides, err = atoi(m[2], s); err != nil {
			return nil, err
		}
		if e.Count < 1 || e.Count > MaxDice {
			return nil, fmt.Errorf("%w: dice count %d out of range in %q", ErrSyntax, e.Count, s)
		}
		if e.Sides < 1 || e.Sides > MaxSides {
			return nil, fmt.Errorf("%w: die size %d out of range in %q", ErrSyntax, e.Sides, s)
		}
		if m[3] != "" {
			e.Filter = m[3][0]
			if e.Keep, err = atoi(m[4], s); err != nil {
				return nil, err
			}
			if e.Keep < 1 || e.Keep > e.Count {
				return nil, fmt.Errorf("%w: cannot keep %d of %d dice in %q", ErrSyntax, e.Keep, e.Count, s)
			}
		}
	}
	if m[6] != "" {
		if e.Modifier, err = strconv.Atoi(m[6]); err != nil {
			return nil, fmt.Errorf("%w: modifier %q in %q", ErrSyntax, m[6], s)
		}
	}
	if m[7] != "" {
		if e.Repeat, err = atoi(m[7], s); err != nil {
			return nil, err
		}
		if e.Repeat < 1 || e.Repeat > MaxRepeat {
			return nil, fmt.Errorf("%w: repeat %d out of range in %q", ErrSyntax, e.Repeat, s)
		}
	}
	return e, nil
}

// MustParse is like [Parse] but panics on error.
func MustParse(s string) *Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// IsExpression reports whether s parses as a dice expression.
func IsExpression(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func atoi(digits, src string) (int, error) {
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q in %q", ErrSyntax, digits, src)
	}
	return n, nil
}

// String renders the canonical form of e.
func (e *Expr) String() string {
	var b strings.Builder
	if e.Sides == 0 {
		b.WriteString(strconv.Itoa(e.Value))
	} else {
		if e.Count != 1 {
			b.WriteString(strconv.Itoa(e.Count))
		}
		b.WriteByte('d')
		b.WriteString(strconv.Itoa(e.Sides))
		if e.Filter != 0 {
			b.WriteByte(e.Filter)
			b.WriteString(strconv.Itoa(e.Keep))
		}
	}
	if e.Modifier != 0 {
		fmt.Fprintf(&b, "%+d", e.Modifier)
	}
	if e.Repeat > 1 {
		b.WriteByte('x')
		b.WriteString(strconv.Itoa(e.Repeat))
	}
	if e.Sort {
		b.WriteString("sort")
	}
	return b.String()
}

// Roll evaluates e once per repetition. tempModifier is a one-off bonus
// (e.g. "[attack +2]") applied to each result on top of the expression's own
// modifier. The returned results are in roll order; sorting is left to the
// caller so the report can say so.
func (e *Expr) Roll(r Roller, tempModifier int) []Result {
	if r == nil {
		r = Default
	}
	repeat := max(e.Repeat, 1)
	out := make([]Result, 0, repeat)
	for range repeat {
		out = append(out, Result{
			Rolls:        e.rollOnce(r),
			Modifier:     e.Modifier,
			TempModifier: tempModifier,
		})
	}
	return out
}

func (e *Expr) rollOnce(r Roller) []int {
	if e.Sides == 0 {
		return []int{e.Value}
	}
	rolls := make([]int, e.Count)
	for i := range rolls {
		rolls[i] = r.IntN(e.Sides) + 1
	}
	if e.Filter == 0 {
		return rolls
	}

	// Keep the highest or lowest dice but report them in roll order.
	order := make([]int, len(rolls))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if e.Filter == 'h' {
			return rolls[b] - rolls[a]
		}
		return rolls[a] - rolls[b]
	})
	keep := order[:e.Keep]
	slices.Sort(keep)
	kept := make([]int, 0, e.Keep)
	for _, i := range keep {
		kept = append(kept, rolls[i])
	}
	return kept
}

// Result is one evaluated repetition of an [Expr].
type Result struct {
	Rolls        []int
	Modifier     int
	TempModifier int
}

// Sum returns the total of the kept dice and both modifiers.
func (r Result) Sum() int {
	total := r.Modifier + r.TempModifier
	for _, v := range r.Rolls {
		total += v
	}
	return total
}

// String renders the breakdown: "20" for a single term, otherwise
// "3+4+5+2 = 14".
func (r Result) String() string {
	terms := slices.Clone(r.Rolls)
	if r.Modifier != 0 {
		terms = append(terms, r.Modifier)
	}
	if r.TempModifier != 0 {
		terms = append(terms, r.TempModifier)
	}
	if len(terms) == 1 {
		return strconv.Itoa(terms[0])
	}

	var b strings.Builder
	for i, t := range terms {
		switch {
		case i == 0:
			b.WriteString(strconv.Itoa(t))
		case t < 0:
			b.WriteString(strconv.Itoa(t))
		default:
			b.WriteByte('+')
			b.WriteString(strconv.Itoa(t))
		}
	}
	fmt.Fprintf(&b, " = %d", r.Sum())
	return b.String()
}

// SortResults orders results by ascending sum, keeping roll order for ties.
func SortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		return a.Sum() - b.Sum()
	})
}

// FormatResults renders results as "r1, r2, r3".
func FormatResults(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
