package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisputeStatusTerminal(t *testing.T) {
	for _, s := range TerminalStatuses {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []DisputeStatus{
		DisputeStatusPending,
		DisputeStatusUnderReview,
		DisputeStatusInvestigating,
		DisputeStatusAwaitingResponse,
		DisputeStatusEscalated,
	} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestEnumValidation(t *testing.T) {
	assert.True(t, DisputeTypeRefundRequest.Valid())
	assert.False(t, DisputeType("vibes").Valid())

	assert.True(t, PriorityCritical.Valid())
	assert.False(t, DisputePriority("extreme").Valid())

	assert.True(t, DisputeStatusEscalated.Valid())
	assert.False(t, DisputeStatus("limbo").Valid())

	assert.True(t, RefundStatusProcessed.Valid())
	assert.False(t, RefundStatus("maybe").Valid())
}

func TestPaginationNormalize(t *testing.T) {
	p := Pagination{}
	p.Normalize()
	assert.Equal(t, DefaultPage, p.Page)
	assert.Equal(t, DefaultLimit, p.Limit)

	p = Pagination{Page: -3, Limit: 5000}
	p.Normalize()
	assert.Equal(t, DefaultPage, p.Page)
	assert.Equal(t, MaxLimit, p.Limit)

	p = Pagination{Page: 4, Limit: 25}
	p.Normalize()
	assert.Equal(t, 75, p.Offset())
}
