package units

import (
	"context"
	"fmt"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const truncationJobName = "sth-collection-truncation"

func init() {
	registry.AddJobType(truncationJobName, func() amboy.Job { return makeTruncationJob() })
}

// truncationJob enforces a document-count cap on one collection by deleting
// whole documents older than the Nth-newest, never rewriting survivors.
// This is the out-of-band half of the truncation policy: a TTL index
// (model.Provider.applyTruncation) already covers the age-capped case
// server-side; MongoDB has no equivalent native "keep newest N documents"
// index, so the size-capped case needs this periodic sweep instead.
type truncationJob struct {
	CollectionName string `bson:"collection" json:"collection" yaml:"collection"`
	TimeField      string `bson:"time_field" json:"time_field" yaml:"time_field"`
	MaxSize        int64  `bson:"max_size" json:"max_size" yaml:"max_size"`
	job.Base       `bson:"job_base" json:"job_base" yaml:"job_base"`

	db *mongo.Database
}

// NewTruncationJob builds a truncationJob bounding collectionName to
// maxSize documents, ordered by timeField.
func NewTruncationJob(id string, db *mongo.Database, collectionName, timeField string, maxSize int64) amboy.Job {
	j := makeTruncationJob()
	j.SetID(fmt.Sprintf("%s-%s-%s", truncationJobName, collectionName, id))
	j.CollectionName = collectionName
	j.TimeField = timeField
	j.MaxSize = maxSize
	j.db = db
	return j
}

func makeTruncationJob() *truncationJob {
	j := &truncationJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    truncationJobName,
				Version: 0,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

func (j *truncationJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.db == nil || j.MaxSize <= 0 {
		return
	}

	coll := j.db.Collection(j.CollectionName)

	var boundary bson.M
	err := coll.FindOne(
		ctx,
		bson.M{},
		options.FindOne().SetSort(bson.D{{Key: j.TimeField, Value: -1}}).SetSkip(j.MaxSize-1),
	).Decode(&boundary)
	if err == mongo.ErrNoDocuments {
		return // fewer than MaxSize documents; nothing to truncate
	}
	if err != nil {
		j.AddError(errors.Wrap(err, "finding truncation boundary"))
		return
	}

	cutoff, ok := boundary[j.TimeField]
	if !ok {
		j.AddError(errors.Errorf("truncation boundary document missing field %q", j.TimeField))
		return
	}

	result, err := coll.DeleteMany(ctx, bson.M{j.TimeField: bson.M{"$lt": cutoff}})
	if err != nil {
		j.AddError(errors.Wrap(err, "deleting truncated documents"))
		return
	}

	grip.Debug(message.Fields{
		"message":    "applied size truncation",
		"collection": j.CollectionName,
		"maxSize":    j.MaxSize,
		"deleted":    result.DeletedCount,
	})
}
