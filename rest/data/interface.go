package data

import (
	"context"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"
)

// Connector abstracts the link between the HTTP layer and the storage
// model, allowing the route handlers to be tested against a mock
// implementation without a live database.
type Connector interface {
	// GetCollection resolves (and, if requested, creates) the raw or
	// aggregated collection for ns.
	GetCollection(ctx context.Context, ns dbModel.NamespaceTuple, opts dbModel.CollectionOptions) (*dbModel.CollectionHandle, error)

	// QueryRaw answers a raw-path query against an already-resolved
	// collection handle.
	QueryRaw(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.RawQuerySpec) (*dbModel.RawQueryResult, error)

	// QueryAggregate answers an aggregated-path query against an
	// already-resolved collection handle.
	QueryAggregate(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.AggregateQuerySpec) ([]dbModel.ProjectedBucket, error)

	// ProcessNotification runs the full ingestion fan-out for one
	// notification payload.
	ProcessNotification(ctx context.Context, scope dbModel.NamespaceScope, n dbModel.Notification, recvTime time.Time) error

	// LookupHashOrigin reverses a hashed collection name back to its
	// namespace tuple, for the operator-facing supplemental endpoint.
	LookupHashOrigin(ctx context.Context, hash string) (*dbModel.HashOrigin, error)
}
