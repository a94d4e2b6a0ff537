// Package extcall carries synchronous callbacks to external programs. A
// callback runs inside the calling operation: if it fails, the whole
// operation aborts. The target must be a different program and none of the
// forwarded accounts may alias the engine identity.
package extcall

import (
	"errors"
	"fmt"

	"BasketLedger/internal/addr"
)

var (
	ErrSelfTarget     = errors.New("callback target is the engine itself")
	ErrAliasedAccount = errors.New("forwarded account aliases the engine")
	ErrUnknownTarget  = errors.New("no handler for callback target")
)

// AccountMeta names one record forwarded to the callback target.
type AccountMeta struct {
	Address  addr.Address
	Writable bool
}

// Call is one callback: an explicit target identity, the records it may
// touch, and an opaque payload the engine never interprets.
type Call struct {
	Target   addr.Address
	Accounts []AccountMeta
	Payload  []byte
}

// Validate enforces the boundary rules against the engine identity.
func Validate(c Call, engine addr.Address) error {
	if c.Target == engine {
		return ErrSelfTarget
	}
	for _, meta := range c.Accounts {
		if meta.Address == engine {
			return fmt.Errorf("account %s: %w", meta.Address, ErrAliasedAccount)
		}
	}
	return nil
}

// Handler executes a callback on behalf of one target program.
type Handler func(Call) error

// Dispatcher routes validated calls to registered target handlers.
type Dispatcher struct {
	engine   addr.Address
	handlers map[addr.Address]Handler
}

func NewDispatcher(engine addr.Address) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		handlers: make(map[addr.Address]Handler),
	}
}

// Register installs the handler for a target, replacing any prior one.
func (d *Dispatcher) Register(target addr.Address, h Handler) {
	d.handlers[target] = h
}

// Invoke validates and executes the call synchronously.
func (d *Dispatcher) Invoke(c Call) error {
	if err := Validate(c, d.engine); err != nil {
		return err
	}
	h := d.handlers[c.Target]
	if h == nil {
		return fmt.Errorf("target %s: %w", c.Target, ErrUnknownTarget)
	}
	return h(c)
}
