package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/correlate/internal/ir"
)

func TestError_Messages(t *testing.T) {
	cause := errors.New("boom")

	q := queryFailure(ir.Occurrence{ID: "occ-1", ModelKey: "orderPlaced"}, cause)
	assert.Equal(t, "QUERY_FAILURE: orderPlaced (occurrence=occ-1): boom", q.Error())
	assert.ErrorIs(t, q, cause)

	d := &Error{
		Code:           CodeDispatchFailure,
		OccurrenceID:   "occ-1",
		EventType:      "orderPlaced",
		SubscriptionID: "sub-2",
		Disposition:    ir.StartNew("def-1"),
		Attempted:      2,
		Remaining:      0,
		Err:            cause,
	}
	assert.Equal(t, "DISPATCH_FAILURE: start_new of subscription sub-2 for orderPlaced (occurrence=occ-1, attempted=2, remaining=0): boom", d.Error())
}

func TestIsFailure_Wrapped(t *testing.T) {
	q := fmt.Errorf("consumer x: %w", queryFailure(ir.Occurrence{}, errors.New("boom")))
	assert.True(t, IsQueryFailure(q))
	assert.False(t, IsDispatchFailure(q))

	joined := errors.Join(&Error{Code: CodeDispatchFailure, Err: errors.New("a")})
	assert.True(t, IsDispatchFailure(joined))

	assert.False(t, IsQueryFailure(errors.New("plain")))
}
