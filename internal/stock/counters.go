// Package stock owns every change to the ItemStock counters.
//
// A unit of inventory is in exactly one state at a time. Units enter through
// the "intake" pseudo-state and leave through "removed"; for each stock row
// the sum of the state counters always equals Received - Removed.
package stock

import (
	"errors"
	"fmt"

	"warehouse-backend/internal/models"
)

type State string

const (
	Pending     State = "pending"
	InStorage   State = "in_storage"
	OnBorrow    State = "on_borrow"
	InClearance State = "in_clearance"
	Seeded      State = "seeded"

	Intake  State = "intake"
	Removed State = "removed"
)

// States lists the real (counted) states in display order.
var States = []State{Pending, InStorage, OnBorrow, InClearance, Seeded}

var (
	ErrInsufficient = errors.New("insufficient quantity")
	ErrInvariant    = errors.New("stock counters out of balance")
	ErrInvalidMove  = errors.New("invalid stock movement")
	ErrNotFound     = errors.New("stock not found")
)

// ParseState accepts a counted state name.
func ParseState(s string) (State, bool) {
	for _, st := range States {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type Counters struct {
	Pending     int
	InStorage   int
	OnBorrow    int
	InClearance int
	Seeded      int
	Received    int
	Removed     int
}

func FromModel(s *models.ItemStock) Counters {
	return Counters{
		Pending:     s.Pending,
		InStorage:   s.InStorage,
		OnBorrow:    s.OnBorrow,
		InClearance: s.InClearance,
		Seeded:      s.Seeded,
		Received:    s.Received,
		Removed:     s.Removed,
	}
}

func (c Counters) ApplyTo(s *models.ItemStock) {
	s.Pending = c.Pending
	s.InStorage = c.InStorage
	s.OnBorrow = c.OnBorrow
	s.InClearance = c.InClearance
	s.Seeded = c.Seeded
	s.Received = c.Received
	s.Removed = c.Removed
}

func (c *Counters) field(st State) *int {
	switch st {
	case Pending:
		return &c.Pending
	case InStorage:
		return &c.InStorage
	case OnBorrow:
		return &c.OnBorrow
	case InClearance:
		return &c.InClearance
	case Seeded:
		return &c.Seeded
	}
	return nil
}

// Get returns the counter for a counted state.
func (c Counters) Get(st State) (int, bool) {
	p := c.field(st)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Total is pending + inStorage + onBorrow + inClearance + seeded.
func (c Counters) Total() int {
	return c.Pending + c.InStorage + c.OnBorrow + c.InClearance + c.Seeded
}

// Check verifies non-negative counters and Total == Received - Removed.
func (c Counters) Check() error {
	for _, st := range States {
		if v, _ := c.Get(st); v < 0 {
			return fmt.Errorf("%w: %s is %d", ErrInvariant, st, v)
		}
	}
	if c.Received < 0 || c.Removed < 0 {
		return fmt.Errorf("%w: received %d removed %d", ErrInvariant, c.Received, c.Removed)
	}
	if c.Total() != c.Received-c.Removed {
		return fmt.Errorf("%w: total %d, received %d, removed %d", ErrInvariant, c.Total(), c.Received, c.Removed)
	}
	return nil
}

// Apply moves qty units from one state to another. c is left untouched on error.
func Apply(c *Counters, from, to State, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidMove, qty)
	}
	if from == to {
		return fmt.Errorf("%w: %s to itself", ErrInvalidMove, from)
	}
	if from == Removed || to == Intake || (from == Intake && to == Removed) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidMove, from, to)
	}

	next := *c
	if from == Intake {
		next.Received += qty
	} else {
		src := next.field(from)
		if src == nil {
			return fmt.Errorf("%w: unknown state %q", ErrInvalidMove, from)
		}
		if *src < qty {
			return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficient, from, *src, qty)
		}
		*src -= qty
	}

	if to == Removed {
		next.Removed += qty
	} else {
		dst := next.field(to)
		if dst == nil {
			return fmt.Errorf("%w: unknown state %q", ErrInvalidMove, to)
		}
		*dst += qty
	}

	if err := next.Check(); err != nil {
		return err
	}
	*c = next
	return nil
}
