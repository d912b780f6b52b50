package model

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/singleflight"
)

// collectionNamesCollection records hash -> origin mappings when the
// resolver is running in hash mode, per spec.md §3/§4.2.
const collectionNamesCollection = "sth.collectionnames"

// truncationPoliciesCollection records {collection, timeField, maxSize} for
// every collection created under a size-mode TruncationPolicy, so the
// periodic sweep in units/crons.go can discover what to bound without
// scanning every collection in the database.
const truncationPoliciesCollection = "sth.truncationpolicies"

// TruncationMode selects how a newly created collection is bounded.
type TruncationMode string

const (
	TruncationNone TruncationMode = "none"
	TruncationAge  TruncationMode = "age"
	TruncationSize TruncationMode = "size"
)

// TruncationPolicy describes the cap applied to a collection the first time
// it is created; per spec.md §3 it is never reapplied by rewriting
// survivors, only by deleting whichever documents fall outside the cap.
type TruncationPolicy struct {
	Mode    TruncationMode
	MaxAge  time.Duration
	MaxSize int64
}

// CollectionOptions parametrizes GetCollection, per spec.md §4.2.
type CollectionOptions struct {
	Family    Family
	Create    bool
	StoreHash bool
	Truncate  TruncationPolicy
}

// CollectionHandle identifies a resolved, (optionally) materialized raw or
// aggregated collection.
type CollectionHandle struct {
	Collection *mongo.Collection
	Name       string
	Hashed     bool
	Namespace  NamespaceTuple
	Family     Family
}

// HashOrigin is the hash-origin mapping document inserted when hash mode is
// active, so operators can reverse a hashed collection name back to its
// namespace tuple.
type HashOrigin struct {
	Hash         string `bson:"_id"`
	Service      string `bson:"service"`
	ServicePath  string `bson:"servicePath"`
	EntityID     string `bson:"entityId"`
	EntityType   string `bson:"entityType"`
	AttrName     string `bson:"attrName"`
	IsAggregated bool   `bson:"isAggregated"`
}

// Namespace reconstructs the NamespaceTuple a HashOrigin record maps back
// to.
func (r HashOrigin) Namespace() NamespaceTuple {
	return NamespaceTuple{
		Service:     r.Service,
		ServicePath: r.ServicePath,
		EntityID:    r.EntityID,
		EntityType:  r.EntityType,
		AttrName:    r.AttrName,
	}
}

// Provider locates or creates the raw and aggregated collections for a
// given namespace tuple, per spec.md §4.2. It memoises a hash->origin
// mapping when hashing is used, and dedupes concurrent create-if-absent
// calls for the same collection name via a singleflight group so that N
// concurrent first-writers for a brand new namespace issue exactly one
// CreateCollection/truncation-policy pass.
type Provider struct {
	db       *mongo.Database
	resolver *Resolver
	group    singleflight.Group
}

// NewProvider constructs a Provider bound to db, deriving names via
// resolver.
func NewProvider(db *mongo.Database, resolver *Resolver) *Provider {
	return &Provider{db: db, resolver: resolver}
}

// GetCollection resolves and, if requested, materializes the collection for
// ns in the given family, per spec.md §4.2.
func (p *Provider) GetCollection(ctx context.Context, ns NamespaceTuple, opts CollectionOptions) (*CollectionHandle, error) {
	name, hashed, err := p.resolver.Resolve(ns, opts.Family)
	if err != nil {
		return nil, err
	}

	handle := &CollectionHandle{
		Collection: p.db.Collection(name),
		Name:       name,
		Hashed:     hashed,
		Namespace:  ns,
		Family:     opts.Family,
	}

	if !opts.Create {
		exists, err := p.exists(ctx, name)
		if err != nil {
			return nil, NewStoreError(errors.Wrap(err, "checking collection existence").Error())
		}
		if !exists {
			return nil, NewNotFoundError("no collection for namespace " + name)
		}
		return handle, nil
	}

	if _, err, _ := p.group.Do(name, func() (interface{}, error) {
		return nil, p.ensureCollection(ctx, ns, opts)
	}); err != nil {
		return nil, err
	}

	return handle, nil
}

func (p *Provider) exists(ctx context.Context, name string) (bool, error) {
	names, err := p.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ensureCollection creates the collection if absent, applying the
// truncation policy and hash-origin bookkeeping only on the create it
// actually performs. A concurrent create losing the race to MongoDB's
// NamespaceExists error is treated as success: the collection now exists,
// which is all the caller asked for.
func (p *Provider) ensureCollection(ctx context.Context, ns NamespaceTuple, opts CollectionOptions) error {
	name, _, err := p.resolver.Resolve(ns, opts.Family)
	if err != nil {
		return err
	}

	exists, err := p.exists(ctx, name)
	if err != nil {
		return NewStoreError(errors.Wrap(err, "checking collection existence before create").Error())
	}
	if exists {
		return nil
	}

	if err := p.db.CreateCollection(ctx, name); err != nil {
		if !isNamespaceExists(err) {
			return NewStoreError(errors.Wrapf(err, "creating collection %s", name).Error())
		}
		// lost the create race; the collection exists now, which is all we need.
	} else {
		if opts.Family == FamilyAggregated {
			if err := p.createBucketKeyIndex(ctx, name); err != nil {
				return err
			}
		}
		if err := p.applyTruncation(ctx, name, opts.Family, opts.Truncate); err != nil {
			return err
		}
		grip.Debug(message.Fields{
			"message":    "created collection",
			"collection": name,
			"family":     opts.Family,
		})
	}

	if opts.StoreHash && len(name) > 0 && isHashedName(name) {
		if err := p.recordHashOrigin(ctx, name, ns, opts.Family); err != nil {
			return err
		}
	}

	return nil
}

func isHashedName(name string) bool {
	// A path-mode name always contains the servicePath/entityType/entityId
	// separators; a hash-mode name never does.
	for _, r := range name {
		if r == '_' {
			return false
		}
	}
	return true
}

// createBucketKeyIndex installs the unique index on a fresh aggregated
// collection's bucket key, so that two concurrent first-writers racing to
// upsert a brand-new bucket resolve to one insert and one no-op rather than
// two documents for the same (namespace, resolution, origin), per spec.md
// §2/§4.4's concurrent-writer invariant.
func (p *Provider) createBucketKeyIndex(ctx context.Context, name string) error {
	_, err := p.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: bucketEntityIDKey, Value: 1},
			{Key: bucketEntityTypeKey, Value: 1},
			{Key: bucketAttrNameKey, Value: 1},
			{Key: bucketResolutionKey, Value: 1},
			{Key: bucketOriginKey, Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "creating unique bucket key index")
}

// timeField names the field a collection in the given family is ordered by,
// for both the TTL index and the out-of-band size sweep.
func timeField(fam Family) string {
	if fam == FamilyAggregated {
		return "origin"
	}
	return "recvTime"
}

// applyTruncation installs the configured cap on a freshly created
// collection. A TTL index expires documents server-side without ever
// rewriting survivors; a size cap is enforced out-of-band by
// units/truncation.go since MongoDB has no native "keep newest N documents"
// index type, so a size-mode policy is recorded instead of installed here.
func (p *Provider) applyTruncation(ctx context.Context, name string, fam Family, policy TruncationPolicy) error {
	switch policy.Mode {
	case TruncationNone, "":
		return nil
	case TruncationAge:
		_, err := p.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: timeField(fam), Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(policy.MaxAge.Seconds())),
		})
		return errors.Wrap(err, "creating TTL index")
	case TruncationSize:
		return p.recordSizeTruncationPolicy(ctx, name, fam, policy.MaxSize)
	default:
		return NewValidationError("unrecognized truncation mode")
	}
}

// SizeTruncationPolicy is a bookkeeping record read back by
// units/crons.go's periodic sweep to know which collections to bound and by
// which field.
type SizeTruncationPolicy struct {
	CollectionName string `bson:"_id"`
	TimeField      string `bson:"timeField"`
	MaxSize        int64  `bson:"maxSize"`
}

func (p *Provider) recordSizeTruncationPolicy(ctx context.Context, name string, fam Family, maxSize int64) error {
	rec := SizeTruncationPolicy{
		CollectionName: name,
		TimeField:      timeField(fam),
		MaxSize:        maxSize,
	}
	_, err := p.db.Collection(truncationPoliciesCollection).ReplaceOne(
		ctx,
		bson.M{"_id": name},
		rec,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "recording size truncation policy")
}

// ListSizeTruncationPolicies returns every recorded size-mode truncation
// policy, for units/crons.go's periodic sweep to enqueue a truncation job
// per entry.
func (p *Provider) ListSizeTruncationPolicies(ctx context.Context) ([]SizeTruncationPolicy, error) {
	cur, err := p.db.Collection(truncationPoliciesCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, NewStoreError(errors.Wrap(err, "listing size truncation policies").Error())
	}
	defer cur.Close(ctx)

	var policies []SizeTruncationPolicy
	if err := cur.All(ctx, &policies); err != nil {
		return nil, NewStoreError(errors.Wrap(err, "decoding size truncation policies").Error())
	}
	return policies, nil
}

func (p *Provider) recordHashOrigin(ctx context.Context, hash string, ns NamespaceTuple, fam Family) error {
	rec := HashOrigin{
		Hash:         hash,
		Service:      ns.Service,
		ServicePath:  ns.ServicePath,
		EntityID:     ns.EntityID,
		EntityType:   ns.EntityType,
		AttrName:     ns.AttrName,
		IsAggregated: fam == FamilyAggregated,
	}

	_, err := p.db.Collection(collectionNamesCollection).ReplaceOne(
		ctx,
		bson.M{"_id": hash},
		rec,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "recording hash-origin mapping")
}

// LookupHashOrigin reverses a hashed collection name back to its namespace
// tuple, for the operator-facing supplemental endpoint SPEC_FULL.md §4
// describes.
func (p *Provider) LookupHashOrigin(ctx context.Context, hash string) (*HashOrigin, error) {
	rec := &HashOrigin{}
	err := p.db.Collection(collectionNamesCollection).FindOne(ctx, bson.M{"_id": hash}).Decode(rec)
	if err == mongo.ErrNoDocuments {
		return nil, NewNotFoundError("no origin recorded for hash " + hash)
	}
	if err != nil {
		return nil, NewStoreError(errors.Wrap(err, "looking up hash origin").Error())
	}
	return rec, nil
}

func isNamespaceExists(err error) bool {
	cmdErr, ok := err.(mongo.CommandError)
	return ok && cmdErr.Code == 48 // NamespaceExists
}
