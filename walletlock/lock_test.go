package walletlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumns(t *testing.T) {
	until, by := columns(Consolidation)
	assert.Equal(t, "consolidation_locked_until", until)
	assert.Equal(t, "consolidation_locked_by", by)

	until, by = columns(GasTopup)
	assert.Equal(t, "gas_locked_until", until)
	assert.Equal(t, "gas_locked_by", by)
}

func TestColumns_WithdrawingSharesConsolidationPair(t *testing.T) {
	withdrawUntil, withdrawBy := columns(Withdrawing)
	consolidationUntil, consolidationBy := columns(Consolidation)
	assert.Equal(t, consolidationUntil, withdrawUntil)
	assert.Equal(t, consolidationBy, withdrawBy)
}
