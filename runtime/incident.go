package runtime

import (
	"encoding/json"
	"time"

	"github.com/shiftvault/custodycore/store"
)

// checkMaintenance implements §4.1 step 1: any active worker_maintenance
// row whose (worker_type, chain_id) filters match (NULL = wildcard)
// causes the worker to pause and skip without claiming work.
func (r *Runtime) checkMaintenance() (skip bool, reason string) {
	now := time.Now().UTC()
	q := r.db.Table("worker_maintenance").
		Where("start_time <= ? AND end_time >= ?", now, now).
		Where("worker_type IS NULL OR worker_type = ?", r.ID.WorkerType)
	if r.ID.ChainID != nil {
		q = q.Where("chain_id IS NULL OR chain_id = ?", *r.ID.ChainID)
	} else {
		q = q.Where("chain_id IS NULL")
	}

	var rows []store.WorkerMaintenance
	if err := q.Limit(1).Find(&rows).Error; err != nil {
		logger.Warn("maintenance check failed, proceeding as if clear", "err", err)
		return false, ""
	}
	if len(rows) == 0 {
		return false, ""
	}
	return true, "maintenance: " + rows[0].Reason
}

// domainFor is the fixed worker_type -> incident-mode Domain mapping.
// Unrecognized worker types return ("", false) so callers can fail open
// with a warning, per §4.1's "fail-open for new workers pending
// classification" rule.
func domainFor(workerType string) (Domain, bool) {
	switch workerType {
	case "balances":
		return DomainBalances, true
	case "deposit_listen", "deposits_listen":
		return DomainDepositsListen, true
	case "deposit_confirm", "deposits_confirm":
		return DomainDepositsConfirm, true
	case "gas_topup_execute", "gas_topup_confirm", "gas":
		return DomainGas, true
	case "consolidation_execute", "consolidation_confirm", "consolidation":
		return DomainConsolidation, true
	case "withdrawal_execute", "withdrawal_confirm", "withdrawal_enqueue", "withdrawals":
		return DomainWithdrawals, true
	case "orchestration":
		return DomainOrchestration, true
	default:
		return "", false
	}
}

// permissionMatrix encodes the table in §4.1.
var permissionMatrix = map[Domain]map[string]bool{
	DomainBalances:        {"normal": true, "degraded": true, "emergency": true},
	DomainDepositsListen:  {"normal": true, "degraded": true, "emergency": true},
	DomainDepositsConfirm: {"normal": true, "degraded": true, "emergency": false},
	DomainGas:             {"normal": true, "degraded": false, "emergency": false}, // degraded conditional, handled below
	DomainConsolidation:   {"normal": true, "degraded": false, "emergency": false},
	DomainWithdrawals:     {"normal": true, "degraded": false, "emergency": false},
	DomainOrchestration:   {"normal": true, "degraded": false, "emergency": false},
}

// checkIncidentModeAllowed implements §4.1 step 2.
func (r *Runtime) checkIncidentModeAllowed() (skip bool, reason string) {
	var cfg store.WorkerConfig
	err := r.db.Table("worker_configs").Where("`key` = ?", "incident_mode").First(&cfg).Error
	if err != nil {
		// No row means normal operation; absence of config is not an error.
		return false, ""
	}
	var mode store.IncidentMode
	if err := json.Unmarshal([]byte(cfg.Value), &mode); err != nil {
		logger.Warn("unreadable incident_mode config, treating as normal", "err", err)
		return false, ""
	}
	if mode.Mode == "" {
		mode.Mode = "normal"
	}

	domain, known := domainFor(r.ID.WorkerType)
	if !known {
		// Worker types domainFor does not list (e.g. the entrypoint's
		// hyphenated names) are classified by the Domain passed to New.
		if _, inMatrix := permissionMatrix[r.Domain]; inMatrix {
			domain, known = r.Domain, true
		}
	}
	if !known {
		logger.Warn("unrecognized worker_type for incident matrix, defaulting to allowed", "worker_type", r.ID.WorkerType)
		return false, ""
	}

	if domain == DomainGas && mode.Mode == "degraded" {
		if mode.DegradedGasAllowed {
			return false, ""
		}
		return true, "incident_mode=degraded: gas not allowed (degraded_gas_allowed=false)"
	}

	allowed, ok := permissionMatrix[domain][mode.Mode]
	if !ok || !allowed {
		return true, "incident_mode=" + mode.Mode + ": " + string(domain) + " not allowed"
	}
	return false, ""
}
