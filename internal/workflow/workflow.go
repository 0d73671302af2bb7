// Package workflow declares the allowed status transitions of each approval flow.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"warehouse-backend/internal/metrics"
	"warehouse-backend/internal/models"

	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type Machine[S ~string] struct {
	name  string
	edges map[S]map[S]bool
}

func New[S ~string](name string, edges map[S][]S) *Machine[S] {
	m := &Machine[S]{name: name, edges: make(map[S]map[S]bool, len(edges))}
	for from, tos := range edges {
		m.edges[from] = make(map[S]bool, len(tos))
		for _, to := range tos {
			m.edges[from][to] = true
		}
	}
	return m
}

func (m *Machine[S]) Name() string { return m.name }

func (m *Machine[S]) Can(from, to S) bool {
	return m.edges[from][to]
}

// Check returns ErrInvalidTransition (wrapped) when from -> to is not allowed.
func (m *Machine[S]) Check(from, to S) error {
	if !m.Can(from, to) {
		return fmt.Errorf("%w: %s cannot go from %s to %s", ErrInvalidTransition, m.name, from, to)
	}
	return nil
}

// Record counts a committed transition.
func (m *Machine[S]) Record(from, to S) {
	metrics.Transition(m.name, string(from), string(to))
}

var Borrow = New("borrow_request", map[models.BorrowStatus][]models.BorrowStatus{
	models.BorrowPendingManager: {models.BorrowPendingStorage, models.BorrowRejected, models.BorrowCancelled},
	models.BorrowPendingStorage: {models.BorrowApproved, models.BorrowRejected, models.BorrowCancelled},
	models.BorrowApproved:       {models.BorrowActive, models.BorrowReverted},
	models.BorrowActive:         {models.BorrowComplete, models.BorrowSeeded, models.BorrowReverted},
})

var Request = New("item_request", map[models.RequestStatus][]models.RequestStatus{
	models.RequestPending: {models.RequestApproved, models.RequestRejected},
})

var Clearance = New("item_clearance", map[models.RequestStatus][]models.RequestStatus{
	models.RequestPending: {models.RequestApproved, models.RequestRejected},
})

var ClearanceForm = New("clearance_form", map[models.ClearanceFormStatus][]models.ClearanceFormStatus{
	models.FormDraft:    {models.FormPending},
	models.FormPending:  {models.FormApproved, models.FormRejected},
	models.FormRejected: {models.FormDraft},
	models.FormApproved: {models.FormProcessed},
})

// NewCode returns a document number like BR-20240131-4F2A9C.
func NewCode(prefix string, t time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s-%s", prefix, t.Format("20060102"), strings.ToUpper(id[:6]))
}
