// Package store opens the MySQL datastore (Open) and defines one gorm
// model struct per table from §3 of the design. It has no repository
// layer: each stage holds the *gorm.DB returned by Open and queries the
// tables directly, using these structs as row types.
package store

import "time"

// Chain mirrors the chains table: immutable config, one row per chain.
type Chain struct {
	ID                    int64 `gorm:"primary_key"`
	Name                  string
	RPCURL                string `gorm:"column:rpc_url"`
	ConfirmationThreshold int    `gorm:"column:confirmation_threshold"`
	BlockTimeSeconds      int    `gorm:"column:block_time_seconds"`
	IsActive              bool   `gorm:"column:is_active"`
	// IsAccountModel selects the accountclient adapter (e.g. a Klaytn/TRON-
	// style chain) over evmclient at worker startup; false means EVM-style.
	IsAccountModel bool `gorm:"column:is_account_model"`
}

func (Chain) TableName() string { return "chains" }

// AssetOnChain mirrors asset_on_chain.
type AssetOnChain struct {
	ID              int64 `gorm:"primary_key"`
	ChainID         int64 `gorm:"column:chain_id"`
	AssetID         int64 `gorm:"column:asset_id"`
	ContractAddress *string `gorm:"column:contract_address"`
	Decimals        int    `gorm:"column:decimals"`
	IsNative        bool   `gorm:"column:is_native"`
	IsActive        bool   `gorm:"column:is_active"`
}

func (AssetOnChain) TableName() string { return "asset_on_chain" }

// UserWalletAddress mirrors user_wallet_addresses.
type UserWalletAddress struct {
	ID               int64  `gorm:"primary_key"`
	UID              int64  `gorm:"column:uid"`
	ChainID          int64  `gorm:"column:chain_id"`
	Address          string `gorm:"column:address"`
	WalletGroupID    string `gorm:"column:wallet_group_id"`
	DerivationIndex  int64  `gorm:"column:derivation_index"`
	IsActive         bool   `gorm:"column:is_active"`
}

func (UserWalletAddress) TableName() string { return "user_wallet_addresses" }

// WalletRole enumerates operation_wallet_addresses.role.
type WalletRole string

const (
	RoleHot  WalletRole = "hot"
	RoleGas  WalletRole = "gas"
	RoleCold WalletRole = "cold"
)

// OperationWalletAddress mirrors operation_wallet_addresses.
type OperationWalletAddress struct {
	ID              int64      `gorm:"primary_key"`
	ChainID         int64      `gorm:"column:chain_id"`
	Address         string     `gorm:"column:address"`
	Role            WalletRole `gorm:"column:role"`
	WalletGroupID   string     `gorm:"column:wallet_group_id"`
	DerivationIndex int64      `gorm:"column:derivation_index"`
	IsActive        bool       `gorm:"column:is_active"`
	LastUsedAt      *time.Time `gorm:"column:last_used_at"`
}

func (OperationWalletAddress) TableName() string { return "operation_wallet_addresses" }

// ProcessingStatus enumerates wallet_balances.processing_status.
type ProcessingStatus string

const (
	ProcessingIdle          ProcessingStatus = "idle"
	ProcessingConsolidating ProcessingStatus = "consolidating"
	ProcessingGasTopup      ProcessingStatus = "gas_topup"
	ProcessingWithdrawing   ProcessingStatus = "withdrawing"
)

// WalletBalance mirrors wallet_balances.
type WalletBalance struct {
	ID                       int64            `gorm:"primary_key"`
	WalletID                 int64            `gorm:"column:wallet_id"`
	AssetOnChainID           int64            `gorm:"column:asset_on_chain_id"`
	AvailableRaw             string           `gorm:"column:available_raw"`
	NeedsConsolidation       bool             `gorm:"column:needs_consolidation"`
	NeedsGas                 bool             `gorm:"column:needs_gas"`
	ProcessingStatus         ProcessingStatus `gorm:"column:processing_status"`
	ConsolidationLockedUntil *time.Time       `gorm:"column:consolidation_locked_until"`
	ConsolidationLockedBy    *string          `gorm:"column:consolidation_locked_by"`
	GasLockedUntil           *time.Time       `gorm:"column:gas_locked_until"`
	GasLockedBy              *string          `gorm:"column:gas_locked_by"`
	LastProcessedAt          *time.Time       `gorm:"column:last_processed_at"`
	LastConsolidationAt      *time.Time       `gorm:"column:last_consolidation_at"`
}

func (WalletBalance) TableName() string { return "wallet_balances" }

// DepositStatus enumerates deposits.status.
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

// Deposit mirrors deposits.
type Deposit struct {
	ID              int64         `gorm:"primary_key"`
	ChainID         int64         `gorm:"column:chain_id"`
	AssetOnChainID  int64         `gorm:"column:asset_on_chain_id"`
	TxHash          string        `gorm:"column:tx_hash"`
	LogIndex        int64         `gorm:"column:log_index"`
	ToAddress       string        `gorm:"column:to_address"`
	AmountRaw       string        `gorm:"column:amount_raw"`
	AmountHuman     string        `gorm:"column:amount_human"`
	BlockNumber     uint64        `gorm:"column:block_number"`
	Status          DepositStatus `gorm:"column:status"`
	Confirmations   int           `gorm:"column:confirmations"`
	FirstSeenBlock  *uint64       `gorm:"column:first_seen_block"`
	ConfirmedAt     *time.Time    `gorm:"column:confirmed_at"`
	CreditedAt      *time.Time    `gorm:"column:credited_at"`
}

func (Deposit) TableName() string { return "deposits" }

// WithdrawalRequestStatus enumerates withdrawal_requests.status.
type WithdrawalRequestStatus string

const (
	WRStatusPending   WithdrawalRequestStatus = "pending"
	WRStatusApproved  WithdrawalRequestStatus = "approved"
	WRStatusQueued    WithdrawalRequestStatus = "queued"
	WRStatusCompleted WithdrawalRequestStatus = "completed"
	WRStatusFailed    WithdrawalRequestStatus = "failed"
)

// WithdrawalRequest mirrors withdrawal_requests.
type WithdrawalRequest struct {
	ID             int64                   `gorm:"primary_key"`
	UserID         int64                   `gorm:"column:user_id"`
	ChainID        int64                   `gorm:"column:chain_id"`
	AssetOnChainID *int64                  `gorm:"column:asset_on_chain_id"`
	AssetID        *int64                  `gorm:"column:asset_id"`
	ToAddress      string                  `gorm:"column:to_address"`
	AmountHuman    string                  `gorm:"column:amount_human"`
	Status         WithdrawalRequestStatus `gorm:"column:status"`
	QueuedAt       *time.Time              `gorm:"column:queued_at"`
	FinalTxHash    *string                 `gorm:"column:final_tx_hash"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

// JobStatus enumerates the lifecycle shared by every queue family.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobConfirming JobStatus = "confirming"
	JobConfirmed  JobStatus = "confirmed"
	JobFailed     JobStatus = "failed"
)

// Priority enumerates queue row priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// WithdrawalQueue mirrors withdrawal_queue.
type WithdrawalQueue struct {
	ID                       int64      `gorm:"primary_key"`
	WithdrawalRequestID      int64      `gorm:"column:withdrawal_request_id"`
	ChainID                  int64      `gorm:"column:chain_id"`
	AssetOnChainID           int64      `gorm:"column:asset_on_chain_id"`
	OperationWalletAddressID int64      `gorm:"column:operation_wallet_address_id"`
	ToAddress                string     `gorm:"column:to_address"`
	AmountRaw                string     `gorm:"column:amount_raw"`
	AmountHuman              string     `gorm:"column:amount_human"`
	Status                   JobStatus  `gorm:"column:status"`
	Priority                 Priority   `gorm:"column:priority"`
	TxHash                   *string    `gorm:"column:tx_hash"`
	RetryCount               int        `gorm:"column:retry_count"`
	MaxRetries               int        `gorm:"column:max_retries"`
	ErrorMessage             *string    `gorm:"column:error_message"`
	ScheduledAt              time.Time  `gorm:"column:scheduled_at"`
	ProcessedAt              *time.Time `gorm:"column:processed_at"`
	GasUsed                  *string    `gorm:"column:gas_used"`
	GasPrice                 *string    `gorm:"column:gas_price"`
}

func (WithdrawalQueue) TableName() string { return "withdrawal_queue" }

// ConsolidationQueue mirrors consolidation_queue (same lifecycle shape as
// WithdrawalQueue, keyed by wallet_balance_id rather than a request).
type ConsolidationQueue struct {
	ID                       int64      `gorm:"primary_key"`
	WalletBalanceID          int64      `gorm:"column:wallet_balance_id"`
	WalletID                 int64      `gorm:"column:wallet_id"`
	OperationWalletAddressID int64      `gorm:"column:operation_wallet_address_id"`
	AssetOnChainID           int64      `gorm:"column:asset_on_chain_id"`
	ChainID                  int64      `gorm:"column:chain_id"`
	ToAddress                string     `gorm:"column:to_address"`
	AmountRaw                string     `gorm:"column:amount_raw"`
	AmountHuman              string     `gorm:"column:amount_human"`
	Status                   JobStatus  `gorm:"column:status"`
	Priority                 Priority   `gorm:"column:priority"`
	TxHash                   *string    `gorm:"column:tx_hash"`
	RetryCount               int        `gorm:"column:retry_count"`
	MaxRetries               int        `gorm:"column:max_retries"`
	ErrorMessage             *string    `gorm:"column:error_message"`
	ScheduledAt              time.Time  `gorm:"column:scheduled_at"`
	ProcessedAt              *time.Time `gorm:"column:processed_at"`
	GasUsed                  *string    `gorm:"column:gas_used"`
	GasPrice                 *string    `gorm:"column:gas_price"`
}

func (ConsolidationQueue) TableName() string { return "consolidation_queue" }

// GasTopupQueue mirrors gas_topup_queue.
type GasTopupQueue struct {
	ID                       int64      `gorm:"primary_key"`
	WalletBalanceID          int64      `gorm:"column:wallet_balance_id"`
	WalletID                 int64      `gorm:"column:wallet_id"`
	OperationWalletAddressID int64      `gorm:"column:operation_wallet_address_id"`
	AssetOnChainID           int64      `gorm:"column:asset_on_chain_id"`
	ChainID                  int64      `gorm:"column:chain_id"`
	ToAddress                string     `gorm:"column:to_address"`
	AmountRaw                string     `gorm:"column:amount_raw"`
	AmountHuman              string     `gorm:"column:amount_human"`
	Status                   JobStatus  `gorm:"column:status"`
	Priority                 Priority   `gorm:"column:priority"`
	TxHash                   *string    `gorm:"column:tx_hash"`
	RetryCount               int        `gorm:"column:retry_count"`
	MaxRetries               int        `gorm:"column:max_retries"`
	ErrorMessage             *string    `gorm:"column:error_message"`
	ScheduledAt              time.Time  `gorm:"column:scheduled_at"`
	ProcessedAt              *time.Time `gorm:"column:processed_at"`
	GasUsed                  *string    `gorm:"column:gas_used"`
	GasPrice                 *string    `gorm:"column:gas_price"`
}

func (GasTopupQueue) TableName() string { return "gas_topup_queue" }

// WorkerState enumerates worker_status.status.
type WorkerState string

const (
	WorkerStarting WorkerState = "starting"
	WorkerRunning  WorkerState = "running"
	WorkerPaused   WorkerState = "paused"
	WorkerStopped  WorkerState = "stopped"
)

// HealthState enumerates worker_status.health_status.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthPaused   HealthState = "paused"
	HealthUnknown  HealthState = "unknown"
)

// WorkerStatus mirrors worker_status.
type WorkerStatus struct {
	WorkerID       string      `gorm:"primary_key;column:worker_id"`
	WorkerType     string      `gorm:"column:worker_type"`
	ChainID        *int64      `gorm:"column:chain_id"`
	Status         WorkerState `gorm:"column:status"`
	HealthStatus   HealthState `gorm:"column:health_status"`
	StartedAt      time.Time   `gorm:"column:started_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at"`
	CurrentMetrics string      `gorm:"column:current_metrics"`
	JobsProcessed  int64       `gorm:"column:jobs_processed"`
	JobsSuccess    int64       `gorm:"column:jobs_success"`
	JobsFailed     int64       `gorm:"column:jobs_failed"`
}

func (WorkerStatus) TableName() string { return "worker_status" }

// WorkerExecutionLog mirrors worker_execution_logs, an append-only table.
type WorkerExecutionLog struct {
	ID         int64     `gorm:"primary_key"`
	WorkerID   string    `gorm:"column:worker_id"`
	Status     string    `gorm:"column:status"`
	DurationMS int64     `gorm:"column:duration_ms"`
	Message    string    `gorm:"column:message"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (WorkerExecutionLog) TableName() string { return "worker_execution_logs" }

// WorkerConfig mirrors worker_configs, a flat key/value table.
type WorkerConfig struct {
	Key   string `gorm:"primary_key;column:key"`
	Value string `gorm:"column:value"`
}

func (WorkerConfig) TableName() string { return "worker_configs" }

// IncidentMode is the decoded value of the worker_configs row keyed
// "incident_mode".
type IncidentMode struct {
	Mode                string `json:"mode"`
	DegradedGasAllowed  bool   `json:"degraded_gas_allowed"`
}

// WorkerMaintenance mirrors worker_maintenance; NULL WorkerType/ChainID
// match all.
type WorkerMaintenance struct {
	ID         int64      `gorm:"primary_key"`
	WorkerType *string    `gorm:"column:worker_type"`
	ChainID    *int64     `gorm:"column:chain_id"`
	StartTime  time.Time  `gorm:"column:start_time"`
	EndTime    time.Time  `gorm:"column:end_time"`
	Reason     string     `gorm:"column:reason"`
}

func (WorkerMaintenance) TableName() string { return "worker_maintenance" }
