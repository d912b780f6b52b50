package model

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"time"

	"github.com/evergreen-ci/pail"
	"github.com/mongodb/anser/bsonutil"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RawEvent is one observation as received, stored verbatim with a
// server-assigned receive time, per spec.md §3.
type RawEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	RecvTime   time.Time          `bson:"recvTime"`
	EntityID   string             `bson:"entityId"`
	EntityType string             `bson:"entityType"`
	AttrName   string             `bson:"attrName"`
	AttrType   string             `bson:"attrType"`
	AttrValue  interface{}        `bson:"attrValue"`
}

var (
	rawEventRecvTimeKey   = bsonutil.MustHaveTag(RawEvent{}, "RecvTime")
	rawEventEntityIDKey   = bsonutil.MustHaveTag(RawEvent{}, "EntityID")
	rawEventEntityTypeKey = bsonutil.MustHaveTag(RawEvent{}, "EntityType")
	rawEventAttrNameKey   = bsonutil.MustHaveTag(RawEvent{}, "AttrName")
)

// StoreRawEvent appends a single observation to the raw collection. No
// deduplication is performed; concurrent appends for the same namespace are
// entirely independent, per spec.md §4.3/§5.
func StoreRawEvent(ctx context.Context, h *CollectionHandle, ev RawEvent) error {
	insertResult, err := h.Collection.InsertOne(ctx, ev)
	grip.DebugWhen(err == nil, message.Fields{
		"collection":   h.Name,
		"op":           "store raw event",
		"insertResult": insertResult,
	})
	if err != nil {
		return NewStoreError(errors.Wrapf(err, "storing raw event in %s", h.Name).Error())
	}
	return nil
}

// RawQuerySpec selects one of the three disjoint raw query modes spec.md
// §4.3 describes: last-N, windowed, or CSV export. Exactly one of LastN>0,
// (HLimit>0 or HOffset>0), or CSV should be set by the caller; the query
// planner (rest/query_routes.go) is responsible for that dispatch.
type RawQuerySpec struct {
	EntityID, EntityType, AttrName string
	From, To                       *time.Time

	LastN int

	HLimit, HOffset int

	CSV bool
}

// RawQueryResult is the tagged result variant SPEC_FULL.md §3 describes:
// either an in-memory list (Inline) or a filesystem path to a materialized
// CSV file (File). Exactly one of the two is populated.
type RawQueryResult struct {
	Events []RawEvent
	File   string
}

func (s RawQuerySpec) filter() bson.M {
	f := bson.M{
		rawEventEntityIDKey:   s.EntityID,
		rawEventEntityTypeKey: s.EntityType,
		rawEventAttrNameKey:   s.AttrName,
	}
	rng := bson.M{}
	if s.From != nil {
		rng["$gte"] = *s.From
	}
	if s.To != nil {
		rng["$lte"] = *s.To
	}
	if len(rng) > 0 {
		f[rawEventRecvTimeKey] = rng
	}
	return f
}

// QueryRaw dispatches to whichever of the three raw query modes spec is
// carrying in spec, per spec.md §4.3.
func QueryRaw(ctx context.Context, h *CollectionHandle, scratchDir string, spec RawQuerySpec) (*RawQueryResult, error) {
	switch {
	case spec.CSV:
		return queryRawCSV(ctx, h, scratchDir, spec)
	case spec.LastN > 0:
		return queryRawLastN(ctx, h, spec)
	default:
		return queryRawWindow(ctx, h, spec)
	}
}

func queryRawLastN(ctx context.Context, h *CollectionHandle, spec RawQuerySpec) (*RawQueryResult, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: rawEventRecvTimeKey, Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(spec.LastN))

	events, err := runFind(ctx, h, spec.filter(), opts)
	if err != nil {
		return nil, err
	}

	// events came back newest-first; reverse in place to return ascending,
	// per spec.md §4.3.1.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return &RawQueryResult{Events: events}, nil
}

func queryRawWindow(ctx context.Context, h *CollectionHandle, spec RawQuerySpec) (*RawQueryResult, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: rawEventRecvTimeKey, Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(spec.HOffset))
	if spec.HLimit > 0 {
		opts.SetLimit(int64(spec.HLimit))
	}

	events, err := runFind(ctx, h, spec.filter(), opts)
	if err != nil {
		return nil, err
	}
	return &RawQueryResult{Events: events}, nil
}

func runFind(ctx context.Context, h *CollectionHandle, filter bson.M, opts *options.FindOptions) ([]RawEvent, error) {
	cursor, err := h.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, NewStoreError(errors.Wrapf(err, "querying raw events in %s", h.Name).Error())
	}
	defer cursor.Close(ctx)

	events := []RawEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "decoding raw events").Error())
	}
	return events, nil
}

// queryRawCSV streams every matching event into a newly created file under
// scratchDir and returns its path. The file is backed by a pail local-
// filesystem bucket (the same Put-to-a-bucket idiom the teacher uses for
// S3-backed artifacts, adapted to local scratch space since CSV export
// never leaves the host); the caller (rest layer) deletes the file once the
// response has been fully flushed, per spec.md §4.3/§9.
func queryRawCSV(ctx context.Context, h *CollectionHandle, scratchDir string, spec RawQuerySpec) (*RawQueryResult, error) {
	opts := options.Find().SetSort(bson.D{{Key: rawEventRecvTimeKey, Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := h.Collection.Find(ctx, spec.filter(), opts)
	if err != nil {
		return nil, NewStoreError(errors.Wrapf(err, "querying raw events for csv export in %s", h.Name).Error())
	}
	defer cursor.Close(ctx)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"recvTime", "entityId", "entityType", "attrName", "attrType", "attrValue"}); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "writing csv header").Error())
	}

	for cursor.Next(ctx) {
		ev := RawEvent{}
		if err := cursor.Decode(&ev); err != nil {
			return nil, NewStoreError(errors.Wrap(err, "decoding raw event for csv export").Error())
		}
		if err := w.Write([]string{
			ev.RecvTime.Format(time.RFC3339Nano),
			ev.EntityID,
			ev.EntityType,
			ev.AttrName,
			ev.AttrType,
			fmt.Sprintf("%v", ev.AttrValue),
		}); err != nil {
			return nil, NewStoreError(errors.Wrap(err, "writing csv row").Error())
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "iterating raw events for csv export").Error())
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "flushing csv writer").Error())
	}

	bucket, err := pail.NewLocalBucket(pail.LocalOptions{Path: scratchDir})
	if err != nil {
		return nil, NewStoreError(errors.Wrap(err, "opening csv scratch bucket").Error())
	}

	key := ulid.Make().String() + ".csv"
	if err := bucket.Put(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "writing csv export file").Error())
	}

	return &RawQueryResult{File: filepath.Join(scratchDir, key)}, nil
}
