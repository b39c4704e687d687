package dispatch

import (
	"context"

	"github.com/roach88/correlate/internal/ir"
)

// SubscriptionFinder looks up stored subscriptions.
type SubscriptionFinder interface {
	FindSubscriptions(ctx context.Context, q ir.SubscriptionQuery) ([]ir.Subscription, error)
}

// DefinitionReader reads deployed definition metadata.
type DefinitionReader interface {
	// StartCorrelationConfiguration returns the first declared value of the
	// definition's start-correlation extension. ok is false when the
	// definition declares none.
	StartCorrelationConfiguration(ctx context.Context, definitionID string) (value string, ok bool, err error)
}

// CaseRuntime is the part of the case engine the dispatcher drives.
type CaseRuntime interface {
	// Resume signals the wait state identified by subScopeID to proceed.
	// It fails if no such wait state exists.
	Resume(ctx context.Context, subScopeID string, input ir.TransientInput) error

	// StartAsync accepts a start and returns before the new case is
	// initialized.
	StartAsync(ctx context.Context, req ir.StartRequest) (instanceID string, err error)

	// CountStartedWithReference counts case instances of a definition
	// carrying the given business reference.
	CountStartedWithReference(ctx context.Context, definitionID, referenceID, referenceType string) (int64, error)
}

// Session is the view of storage and runtime available inside one unit of
// work.
type Session interface {
	SubscriptionFinder
	DefinitionReader
	CaseRuntime
}

// UnitOfWork runs fn atomically. Work done through the session commits
// only if fn returns nil.
type UnitOfWork interface {
	Execute(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// UnitOfWorkFunc adapts a function to UnitOfWork.
type UnitOfWorkFunc func(ctx context.Context, fn func(ctx context.Context, s Session) error) error

// Execute implements UnitOfWork.
func (f UnitOfWorkFunc) Execute(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	return f(ctx, fn)
}
