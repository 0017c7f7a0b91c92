// Package types holds the shared data model for the position loader: the
// entities in the bitemporal position store, the in-flight snapshot shape
// fetched from the upstream Portfolio Manager, and the lifecycle enums that
// drive the EOD engine and orchestrator.
package types

import "time"

// Client owns a set of Accounts.
type Client struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account belongs to a Client and carries a base currency.
type Account struct {
	ID           string    `db:"id"`
	ClientID     string    `db:"client_id"`
	BaseCurrency string    `db:"base_currency"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Product is upserted from the positions of every snapshot that references it.
type Product struct {
	ID                string
	Ticker            string
	AssetClass        string
	IssueCurrency     string
	SettlementCurrency string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SnapshotStatus is the upstream client's verdict on a fetched snapshot.
type SnapshotStatus string

const (
	SnapshotAvailable   SnapshotStatus = "AVAILABLE"
	SnapshotUnavailable SnapshotStatus = "UNAVAILABLE"
	SnapshotStaleCache  SnapshotStatus = "STALE_CACHE"
	SnapshotError       SnapshotStatus = "ERROR"
)

// PositionSource records which pipeline wrote a position row.
type PositionSource string

const (
	SourceMSPMEod        PositionSource = "MSPM_EOD"
	SourceIntraday       PositionSource = "INTRADAY"
	SourceManualUpload   PositionSource = "MANUAL_UPLOAD"
	SourceUpload         PositionSource = "UPLOAD"
)

// RawPosition is one line of an upstream snapshot, before it has been
// assigned a batch or written to the store.
type RawPosition struct {
	ProductID    string
	Ticker       string
	PositionType string
	Quantity     float64
	Price        float64
	Currency     string
	MarketValue  float64
	HasMarketValue bool
}

// Snapshot is the in-flight value returned by the upstream client. It is
// never stored as-is; the EOD engine turns its positions into Position rows
// inside a batch.
type Snapshot struct {
	AccountID    string
	ClientID     string
	BusinessDate time.Time
	Status       SnapshotStatus
	Positions    []RawPosition
}

// Position is a bitemporal row: business time is BusinessDate, system time
// validity is [SystemFrom, SystemTo). Rows are never updated in place.
type Position struct {
	AccountID    string
	ProductID    string
	BusinessDate time.Time
	BatchID      int64
	Quantity     float64
	Price        float64
	Currency     string
	MarketValue  float64
	Source       PositionSource
	SystemFrom   time.Time
	SystemTo     time.Time
}

// BatchStatus is the lifecycle state of a Batch.
type BatchStatus string

const (
	BatchStaging    BatchStatus = "STAGING"
	BatchActive     BatchStatus = "ACTIVE"
	BatchArchived   BatchStatus = "ARCHIVED"
	BatchRolledBack BatchStatus = "ROLLED_BACK"
)

// Batch is a version of an account's positions for a business date.
type Batch struct {
	AccountID     string
	BatchID       int64
	BusinessDate  time.Time
	Status        BatchStatus
	CreatedAt     time.Time
	ActivatedAt   time.Time
	ArchivedAt    time.Time
	PositionCount int
}

// EodState is the lifecycle state of an account's EOD run for a business date.
type EodState string

const (
	EodNotStarted EodState = "NOT_STARTED"
	EodInProgress EodState = "IN_PROGRESS"
	EodCompleted  EodState = "COMPLETED"
	EodFailed     EodState = "FAILED"
	EodSkipped    EodState = "SKIPPED"
)

// EodStatus is the per (accountId, businessDate) idempotency/progress record.
type EodStatus struct {
	AccountID     string
	BusinessDate  time.Time
	Status        EodState
	StartedAt     time.Time
	CompletedAt   time.Time
	PositionCount int
	LastError     string
	SkipReason    string
}

// SnapshotHash is the stored content hash used for duplicate detection.
type SnapshotHash struct {
	AccountID        string
	BusinessDate     time.Time
	ContentHash      string
	PositionCount    int
	TotalQuantity    float64
	TotalMarketValue float64
	StoredAt         time.Time
}

// AlertLevel ranks the severity of an Alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
	AlertPage     AlertLevel = "PAGE"
)

// Alert is the SYSTEM_ALERTS event shape. pkg/upstream emits one when its
// circuit breaker opens; EOD failures, duplicate snapshots and
// price-service-down findings do not emit alerts.
type Alert struct {
	EventID   string
	Level     AlertLevel
	Source    string
	Type      string
	Message   string
	EntityID  string
	Timestamp time.Time
}

// PositionChangeEvent notifies downstream consumers that an account's active
// position set changed.
type PositionChangeEvent struct {
	EventID       string
	EventType     string // EOD_COMPLETE, INTRADAY_UPDATE, MANUAL_UPLOAD
	AccountID     string
	ClientID      string
	PositionCount int
	Timestamp     time.Time
}

// ClientSignOffEvent notifies that every account of a client has completed
// EOD for a business date.
type ClientSignOffEvent struct {
	EventID      string
	ClientID     string
	BusinessDate time.Time
	AccountCount int
	Timestamp    time.Time
}
