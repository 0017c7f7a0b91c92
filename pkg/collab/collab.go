// Package collab names the external collaborator contracts this repo does
// not implement (deliberately out of scope): HTTP route handlers,
// CSV upload parsing, auth/maker-checker, audit-log persistence, and the
// holiday-calendar store's own query surface. These are interfaces only —
// a future concrete HTTP/web binding would implement them against the same
// package-level functions cmd/posloader already calls.
package collab

import (
	"context"
	"io"
	"time"

	"github.com/ledgerbase/posloader/pkg/types"
)

// RouteHandler is the shape an HTTP binding would implement per operator
// operation; this repo's reference adapter for those operations is the CLI
// in cmd/posloader, not an HTTP server.
type RouteHandler interface {
	TriggerEod(ctx context.Context, accountID string, businessDate time.Time) error
	GetEodStatus(ctx context.Context, accountID string, businessDate time.Time) (*types.EodStatus, error)
	RollbackEod(ctx context.Context, accountID string, businessDate time.Time) error
}

// UploadParser turns an uploaded CSV or JSON file into RawPositions for a
// manual/upload EOD run.
type UploadParser interface {
	Parse(ctx context.Context, r io.Reader) ([]types.RawPosition, error)
}

// Authorizer gates destructive operations (rollback, reset) behind a
// maker-checker approval flow.
type Authorizer interface {
	Authorize(ctx context.Context, actor, operation, entityID string) error
	RequestApproval(ctx context.Context, actor, operation, entityID string) (approvalID string, err error)
}

// AuditLog persists a record of who did what to which entity and when.
type AuditLog interface {
	Record(ctx context.Context, actor, operation, entityID string, at time.Time) error
}

// CalendarStore is the query shape a holiday-calendar management surface
// would need beyond the read-only IsBusinessDay/ListHolidays this repo
// already implements in pkg/positionstore.
type CalendarStore interface {
	AddHoliday(ctx context.Context, date time.Time, description string) error
	RemoveHoliday(ctx context.Context, date time.Time) error
}
