package runtime

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIdentity(t *testing.T) {
	id := NewIdentity("withdrawal_execute", nil)
	assert.Equal(t, "withdrawal_execute", id.WorkerType)
	assert.Nil(t, id.ChainID)
	assert.Equal(t, "withdrawal_execute_"+strconv.Itoa(os.Getpid()), id.WorkerID)

	chainID := int64(8217)
	id = NewIdentity("deposit_listen", &chainID)
	assert.Equal(t, &chainID, id.ChainID)
	assert.Equal(t, "deposit_listen_"+strconv.Itoa(os.Getpid()), id.WorkerID)
}

func TestDomainFor_KnownTypes(t *testing.T) {
	cases := map[string]Domain{
		"balances":              DomainBalances,
		"deposit_listen":        DomainDepositsListen,
		"deposits_listen":       DomainDepositsListen,
		"deposit_confirm":       DomainDepositsConfirm,
		"gas_topup_execute":     DomainGas,
		"gas_topup_confirm":     DomainGas,
		"consolidation_execute": DomainConsolidation,
		"withdrawal_enqueue":    DomainWithdrawals,
		"orchestration":         DomainOrchestration,
	}
	for wt, want := range cases {
		got, ok := domainFor(wt)
		assert.True(t, ok, wt)
		assert.Equal(t, want, got, wt)
	}
}

func TestDomainFor_Unknown(t *testing.T) {
	_, ok := domainFor("some_future_worker")
	assert.False(t, ok)
}

func TestPermissionMatrix_EmergencyBlocksEverythingExceptDepositsListenAndBalances(t *testing.T) {
	assert.True(t, permissionMatrix[DomainBalances]["emergency"])
	assert.True(t, permissionMatrix[DomainDepositsListen]["emergency"])
	assert.False(t, permissionMatrix[DomainDepositsConfirm]["emergency"])
	assert.False(t, permissionMatrix[DomainWithdrawals]["emergency"])
	assert.False(t, permissionMatrix[DomainConsolidation]["emergency"])
	assert.False(t, permissionMatrix[DomainOrchestration]["emergency"])
}

func TestPermissionMatrix_DegradedAllowsOnlyBalancesAndDeposits(t *testing.T) {
	assert.True(t, permissionMatrix[DomainBalances]["degraded"])
	assert.True(t, permissionMatrix[DomainDepositsListen]["degraded"])
	assert.True(t, permissionMatrix[DomainDepositsConfirm]["degraded"])
	assert.False(t, permissionMatrix[DomainWithdrawals]["degraded"])
	assert.False(t, permissionMatrix[DomainConsolidation]["degraded"])
	assert.False(t, permissionMatrix[DomainGas]["degraded"], "gas degraded handling is conditional, not in the static matrix")
}
