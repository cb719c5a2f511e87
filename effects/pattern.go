package effects

import (
	"fmt"
	"slices"
)

// Pattern decides whether a Wait accepts an event.
type Pattern interface {
	Match(event any) bool
}

// Keyed is a Pattern that only accepts events whose discriminant is one of Keys.
// The watcher registry indexes keyed patterns by discriminant.
type Keyed interface {
	Pattern
	Keys() []string
}

// Typed is implemented by events that carry a discriminant.
type Typed interface {
	EventType() string
}

// TypeOf returns the discriminant of an event.
// A string event is its own discriminant.
func TypeOf(event any) (string, bool) {
	switch ev := event.(type) {
	case Typed:
		return ev.EventType(), true
	case string:
		return ev, true
	default:
		return "", false
	}
}

type anyPattern struct{}

func (anyPattern) Match(any) bool { return true }
func (anyPattern) String() string { return "*" }

// Any matches every event.
func Any() Pattern { return anyPattern{} }

type typePattern string

func (p typePattern) Match(event any) bool {
	t, ok := TypeOf(event)
	return ok && t == string(p)
}
func (p typePattern) Keys() []string { return []string{string(p)} }
func (p typePattern) String() string { return string(p) }

// Type matches events whose discriminant equals t. Type("*") is Any.
func Type(t string) Pattern {
	if t == "*" {
		return Any()
	}
	return typePattern(t)
}

type oneOfPattern []string

func (p oneOfPattern) Match(event any) bool {
	t, ok := TypeOf(event)
	return ok && slices.Contains(p, t)
}
func (p oneOfPattern) Keys() []string { return p }
func (p oneOfPattern) String() string { return fmt.Sprintf("%v", []string(p)) }

// OneOf matches events whose discriminant is any of types.
func OneOf(types ...string) Pattern {
	if slices.Contains(types, "*") {
		return Any()
	}
	return oneOfPattern(slices.Clone(types))
}

// Func matches events accepted by pred.
type Func func(event any) bool

func (f Func) Match(event any) bool { return f(event) }
func (f Func) String() string       { return "func" }
