package rest

import (
	"context"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"
)

// mockConnector is a data.Connector test double, letting route-handler
// Parse/Run behavior be exercised without a live database.
type mockConnector struct {
	getCollectionErr error
	handle           *dbModel.CollectionHandle

	queryRawResult *dbModel.RawQueryResult
	queryRawErr    error

	queryAggregateResult []dbModel.ProjectedBucket
	queryAggregateErr    error

	processNotificationErr error
	lastScope              dbModel.NamespaceScope
	lastNotification       dbModel.Notification

	hashOrigin    *dbModel.HashOrigin
	hashOriginErr error
}

func (m *mockConnector) GetCollection(ctx context.Context, ns dbModel.NamespaceTuple, opts dbModel.CollectionOptions) (*dbModel.CollectionHandle, error) {
	if m.getCollectionErr != nil {
		return nil, m.getCollectionErr
	}
	if m.handle != nil {
		return m.handle, nil
	}
	return &dbModel.CollectionHandle{Name: "mock", Namespace: ns, Family: opts.Family}, nil
}

func (m *mockConnector) QueryRaw(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.RawQuerySpec) (*dbModel.RawQueryResult, error) {
	if m.queryRawErr != nil {
		return nil, m.queryRawErr
	}
	if m.queryRawResult != nil {
		return m.queryRawResult, nil
	}
	return &dbModel.RawQueryResult{}, nil
}

func (m *mockConnector) QueryAggregate(ctx context.Context, h *dbModel.CollectionHandle, spec dbModel.AggregateQuerySpec) ([]dbModel.ProjectedBucket, error) {
	if m.queryAggregateErr != nil {
		return nil, m.queryAggregateErr
	}
	return m.queryAggregateResult, nil
}

func (m *mockConnector) ProcessNotification(ctx context.Context, scope dbModel.NamespaceScope, n dbModel.Notification, recvTime time.Time) error {
	m.lastScope = scope
	m.lastNotification = n
	return m.processNotificationErr
}

func (m *mockConnector) LookupHashOrigin(ctx context.Context, hash string) (*dbModel.HashOrigin, error) {
	if m.hashOriginErr != nil {
		return nil, m.hashOriginErr
	}
	return m.hashOrigin, nil
}
