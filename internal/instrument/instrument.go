package instrument

import (
	"context"
	"fmt"
)

// Driver is the connection an instrument holds to its backend. Open must be
// idempotent.
type Driver interface {
	Open(ctx context.Context) error
	Close() error
}

type Instrument struct {
	Name     string
	Category string
	Driver   Driver

	params map[string]*Parameter
	order  []string
}

func New(name, category string, driver Driver) *Instrument {
	return &Instrument{
		Name:     name,
		Category: category,
		Driver:   driver,
		params:   make(map[string]*Parameter),
	}
}

// Add takes ownership of p. Parameter names are unique per instrument.
func (i *Instrument) Add(p *Parameter) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("instrument %s: parameter name is required", i.Name)
	}
	if _, exists := i.params[p.Name]; exists {
		return fmt.Errorf("instrument %s parameter %s: %w", i.Name, p.Name, ErrDuplicate)
	}
	p.owner = i.Name
	i.params[p.Name] = p
	i.order = append(i.order, p.Name)

	return nil
}

// MustAdd is Add for static family definitions.
func (i *Instrument) MustAdd(params ...*Parameter) *Instrument {
	for _, p := range params {
		if err := i.Add(p); err != nil {
			panic(err)
		}
	}

	return i
}

func (i *Instrument) Parameter(name string) (*Parameter, bool) {
	p, ok := i.params[name]

	return p, ok
}

// Parameters returns the parameters in definition order.
func (i *Instrument) Parameters() []*Parameter {
	out := make([]*Parameter, 0, len(i.order))
	for _, name := range i.order {
		out = append(out, i.params[name])
	}

	return out
}
