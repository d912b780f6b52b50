package data

import (
	"context"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"
)

// DBConnector is the production Connector implementation, backed directly
// by the model package's Provider/Resolver pair.
type DBConnector struct {
	Provider   *dbModel.Provider
	ScratchDir string
	Ingest     dbModel.IngestConfig
}

// NewDBConnector constructs a DBConnector.
func NewDBConnector(provider *dbModel.Provider, scratchDir string, ingest dbModel.IngestConfig) *DBConnector {
	return &DBConnector{Provider: provider, ScratchDir: scratchDir, Ingest: ingest}
}

func (c *DBConnector) GetCollection(ctx context.Context, ns dbModel.NamespaceTuple, opts dbModel.CollectionOptions) (*dbModel.CollectionHandle, error) {
	return c.Provider.GetCollection(ctx, ns, opts)
}

func (c *DBConnector) QueryRaw(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.RawQuerySpec) (*dbModel.RawQueryResult, error) {
	return dbModel.QueryRaw(ctx, h, c.ScratchDir, spec)
}

func (c *DBConnector) QueryAggregate(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.AggregateQuerySpec) ([]dbModel.ProjectedBucket, error) {
	return dbModel.QueryAggregate(ctx, h, spec)
}

func (c *DBConnector) ProcessNotification(ctx context.Context, scope dbModel.NamespaceScope, n dbModel.Notification, recvTime time.Time) error {
	return dbModel.ProcessNotification(ctx, c.Provider, c.Ingest, scope, n, recvTime)
}

func (c *DBConnector) LookupHashOrigin(ctx context.Context, hash string) (*dbModel.HashOrigin, error) {
	return c.Provider.LookupHashOrigin(ctx, hash)
}
