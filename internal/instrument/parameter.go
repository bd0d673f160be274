// Package instrument models instruments as named parameters with typed
// set/get commands and an ordered list of update observers.
package instrument

import (
	"sync"
)

type Kind int

const (
	KindBool Kind = iota
	KindFloat
	KindInt
	KindString
	// KindDisplay is a read-only value pushed by telemetry.
	KindDisplay
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindDisplay:
		return "display"
	default:
		return "unknown"
	}
}

// Scannable reports whether a parameter of this kind can be swept.
func (k Kind) Scannable() bool {
	return k == KindFloat
}

// Observer receives every update pushed to a parameter.
type Observer func(value string)

// Token identifies one attached observer.
type Token uint64

// SetFunc receives the value already coerced to the parameter kind.
type SetFunc func(value any) error

type GetFunc func() (string, error)

type Parameter struct {
	Name  string
	Label string
	Unit  string
	Kind  Kind
	Set   SetFunc
	Get   GetFunc

	owner string

	mu        sync.Mutex
	nextToken Token
	observers []observerEntry
}

type observerEntry struct {
	token Token
	fn    Observer
}

func (p *Parameter) Instrument() string {
	return p.owner
}

// DisplayName is the label when one is set, otherwise the name.
func (p *Parameter) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}

	return p.Name
}

func (p *Parameter) ReadOnly() bool {
	return p.Set == nil || p.Kind == KindDisplay
}

// Attach appends fn to the observer list. Observers run in attach order.
func (p *Parameter) Attach(fn Observer) Token {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextToken++
	p.observers = append(p.observers, observerEntry{token: p.nextToken, fn: fn})

	return p.nextToken
}

// Detach removes exactly the observer registered under tok. It reports false
// for unknown or already detached tokens.
func (p *Parameter) Detach(tok Token) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, entry := range p.observers {
		if entry.token == tok {
			p.observers = append(p.observers[:i:i], p.observers[i+1:]...)
			return true
		}
	}

	return false
}

func (p *Parameter) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.observers)
}

func (p *Parameter) snapshot() []observerEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]observerEntry(nil), p.observers...)
}
