package model

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Resolution is one of the five fixed aggregate granularities spec.md §3
// names.
type Resolution string

const (
	ResSecond Resolution = "second"
	ResMinute Resolution = "minute"
	ResHour   Resolution = "hour"
	ResDay    Resolution = "day"
	ResMonth  Resolution = "month"
)

// Method is one of the five aggregate projections spec.md §4.4 recognises.
type Method string

const (
	MethodMin   Method = "min"
	MethodMax   Method = "max"
	MethodSum   Method = "sum"
	MethodSum2  Method = "sum2"
	MethodOccur Method = "occur"
)

func (m Method) numeric() bool { return m == MethodMin || m == MethodMax || m == MethodSum || m == MethodSum2 }

// attrKind records, on the bucket itself, whether the namespace's values are
// numeric or string-valued, so QueryAggregate can reject a Method/attribute
// mismatch without probing point contents. This is an internal bookkeeping
// field, not one of the wire-level point fields spec.md §3 lists.
type attrKind string

const (
	kindNumeric attrKind = "numeric"
	kindString  attrKind = "string"
)

// subUnit describes one resolution's place in the fixed sub-unit table from
// spec.md §4.4: how many slots a bucket of this resolution holds, and how to
// derive the bucket's origin (truncated to the parent unit) and the slot
// index within it from a receive time.
type subUnit struct {
	slots       int
	originOf    func(time.Time) time.Time
	slotIndexOf func(time.Time) int
}

var subUnits = map[Resolution]subUnit{
	ResSecond: {
		slots:       60,
		originOf:    func(t time.Time) time.Time { return t.Truncate(time.Minute) },
		slotIndexOf: func(t time.Time) int { return t.Second() },
	},
	ResMinute: {
		slots: 60,
		originOf: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
		},
		slotIndexOf: func(t time.Time) int { return t.Minute() },
	},
	ResHour: {
		slots: 24,
		originOf: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		},
		slotIndexOf: func(t time.Time) int { return t.Hour() },
	},
	ResDay: {
		slots: 31,
		originOf: func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
		},
		slotIndexOf: func(t time.Time) int { return t.Day() - 1 },
	},
	ResMonth: {
		slots: 12,
		originOf: func(t time.Time) time.Time {
			return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
		},
		slotIndexOf: func(t time.Time) int { return int(t.Month()) - 1 },
	},
}

// Point is one sub-unit cell within a Bucket's points array, per spec.md §3.
type Point struct {
	Samples int64            `bson:"samples"`
	Sum     float64          `bson:"sum,omitempty"`
	Sum2    float64          `bson:"sum2,omitempty"`
	Min     float64          `bson:"min,omitempty"`
	Max     float64          `bson:"max,omitempty"`
	Occur   map[string]int64 `bson:"occur,omitempty"`
}

// Bucket is one (entity, attribute, resolution, originOfBucket) document,
// per spec.md §3.
type Bucket struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	EntityID   string             `bson:"entityId"`
	EntityType string             `bson:"entityType"`
	AttrName   string             `bson:"attrName"`
	Resolution Resolution         `bson:"resolution"`
	Origin     time.Time          `bson:"origin"`
	Kind       attrKind           `bson:"attrKind"`
	Points     []Point            `bson:"points"`
}

var (
	bucketEntityIDKey   = "entityId"
	bucketEntityTypeKey = "entityType"
	bucketAttrNameKey   = "attrName"
	bucketResolutionKey = "resolution"
	bucketOriginKey     = "origin"
	bucketKindKey       = "attrKind"
	bucketPointsKey     = "points"
)

// UpdateBucket applies one event's contribution to the resolution's current
// bucket, per spec.md §4.4's upsert-then-update protocol. value is either a
// float64 (numeric attribute) or a string (string attribute); any other
// dynamic type is a caller error and is rejected before either store call.
func UpdateBucket(ctx context.Context, h *CollectionHandle, ns NamespaceTuple, res Resolution, recvTime time.Time, value interface{}) error {
	unit, ok := subUnits[res]
	if !ok {
		return NewValidationError(fmt.Sprintf("unrecognized resolution %q", res))
	}

	var kind attrKind
	var numeric float64
	var str string
	switch v := value.(type) {
	case float64:
		kind = kindNumeric
		numeric = v
	case string:
		kind = kindString
		str = v
	default:
		return NewTypeMismatchError(fmt.Sprintf("unsupported attribute value type %T for aggregation", value))
	}

	origin := unit.originOf(recvTime)
	slot := unit.slotIndexOf(recvTime)

	filter := bson.M{
		bucketEntityIDKey:   ns.EntityID,
		bucketEntityTypeKey: ns.EntityType,
		bucketAttrNameKey:   ns.AttrName,
		bucketResolutionKey: res,
		bucketOriginKey:     origin,
	}

	skeleton := make([]Point, unit.slots)
	if _, err := h.Collection.UpdateOne(ctx, filter, bson.M{
		"$setOnInsert": bson.M{
			bucketEntityIDKey:   ns.EntityID,
			bucketEntityTypeKey: ns.EntityType,
			bucketAttrNameKey:   ns.AttrName,
			bucketResolutionKey: res,
			bucketOriginKey:     origin,
			bucketKindKey:       kind,
			bucketPointsKey:     skeleton,
		},
	}, options.Update().SetUpsert(true)); err != nil && !isDuplicateKey(err) {
		// A duplicate-key error here means a concurrent first-writer won the
		// race to insert this bucket's skeleton; the unique index on the
		// bucket key (entityId, entityType, attrName, resolution, origin)
		// guarantees the skeleton now exists exactly once, which is all this
		// step needs before moving on to the slot update below.
		return NewStoreError(errors.Wrapf(err, "upserting bucket skeleton for %s/%s/%s", ns.EntityType, ns.EntityID, ns.AttrName).Error())
	}

	slotPath := fmt.Sprintf("%s.%d", bucketPointsKey, slot)
	update := bson.M{"$inc": bson.M{slotPath + ".samples": 1}}

	switch kind {
	case kindNumeric:
		inc := update["$inc"].(bson.M)
		inc[slotPath+".sum"] = numeric
		inc[slotPath+".sum2"] = numeric * numeric
		update["$min"] = bson.M{slotPath + ".min": numeric}
		update["$max"] = bson.M{slotPath + ".max": numeric}
	case kindString:
		inc := update["$inc"].(bson.M)
		inc[slotPath+".occur."+str] = 1
	}

	if _, err := h.Collection.UpdateOne(ctx, filter, update); err != nil {
		return NewStoreError(errors.Wrapf(err, "updating bucket slot for %s/%s/%s", ns.EntityType, ns.EntityID, ns.AttrName).Error())
	}

	return nil
}

// isDuplicateKey reports whether err is MongoDB's duplicate-key error
// (E11000), the shape a concurrent upsert race against a unique index takes.
func isDuplicateKey(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

// AggregateQuerySpec selects the buckets and projection QueryAggregate
// returns, per spec.md §4.4.
type AggregateQuerySpec struct {
	EntityID, EntityType, AttrName string
	Method                         Method
	Resolution                     Resolution
	From, To                       time.Time
	FilterEmpty                    bool
}

// ProjectedPoint is one slot of a bucket projected down to the single
// requested Method.
type ProjectedPoint struct {
	Offset  int
	Samples int64
	Value   float64          `json:"value,omitempty"`
	Occur   map[string]int64 `json:"occur,omitempty"`
}

// ProjectedBucket is one Bucket projected down to the requested Method, with
// empty slots optionally filtered out.
type ProjectedBucket struct {
	Origin time.Time
	Points []ProjectedPoint
}

// QueryAggregate selects every bucket in spec.Resolution whose origin falls
// in [truncate(From, parentOf(r)), truncate(To, parentOf(r))] and projects
// each down to spec.Method, per spec.md §4.4.
func QueryAggregate(ctx context.Context, h *CollectionHandle, spec AggregateQuerySpec) ([]ProjectedBucket, error) {
	unit, ok := subUnits[spec.Resolution]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unrecognized resolution %q", spec.Resolution))
	}

	filter := bson.M{
		bucketEntityIDKey:   spec.EntityID,
		bucketEntityTypeKey: spec.EntityType,
		bucketAttrNameKey:   spec.AttrName,
		bucketResolutionKey: spec.Resolution,
		bucketOriginKey: bson.M{
			"$gte": unit.originOf(spec.From),
			"$lte": unit.originOf(spec.To),
		},
	}

	cursor, err := h.Collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: bucketOriginKey, Value: 1}}))
	if err != nil {
		return nil, NewStoreError(errors.Wrapf(err, "querying aggregate buckets in %s", h.Name).Error())
	}
	defer cursor.Close(ctx)

	buckets := []Bucket{}
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "decoding aggregate buckets").Error())
	}

	out := make([]ProjectedBucket, 0, len(buckets))
	for _, b := range buckets {
		if err := checkMethodKind(spec.Method, b.Kind); err != nil {
			return nil, err
		}
		out = append(out, projectBucket(b, spec.Method, spec.FilterEmpty))
	}
	return out, nil
}

func checkMethodKind(m Method, k attrKind) error {
	if m == MethodOccur && k != kindString {
		return NewTypeMismatchError("aggrMethod=occur requires a string-valued attribute")
	}
	if m.numeric() && k != kindNumeric {
		return NewTypeMismatchError(fmt.Sprintf("aggrMethod=%s requires a numeric-valued attribute", m))
	}
	return nil
}

func projectBucket(b Bucket, m Method, filterEmpty bool) ProjectedBucket {
	pb := ProjectedBucket{Origin: b.Origin}
	for i, p := range b.Points {
		if filterEmpty && p.Samples == 0 {
			continue
		}
		pp := ProjectedPoint{Offset: i, Samples: p.Samples}
		switch m {
		case MethodMin:
			pp.Value = p.Min
		case MethodMax:
			pp.Value = p.Max
		case MethodSum:
			pp.Value = p.Sum
		case MethodSum2:
			pp.Value = p.Sum2
		case MethodOccur:
			pp.Occur = p.Occur
		}
		pb.Points = append(pb.Points, pp)
	}
	return pb
}
