package units

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type TruncationJobTestSuite struct {
	client *mongo.Client
	db     *mongo.Database
	suite.Suite
}

func TestTruncationJob(t *testing.T) {
	suite.Run(t, &TruncationJobTestSuite{})
}

func (s *TruncationJobTestSuite) SetupTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	s.Require().NoError(err)
	s.client = client
	s.db = client.Database("sth_test")
}

func (s *TruncationJobTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.db.Collection("truncation_job_test_events").Drop(ctx)
	s.Require().NoError(s.client.Disconnect(ctx))
}

func (s *TruncationJobTestSuite) TestRunDeletesDocumentsBeyondMaxSize() {
	ctx := context.Background()
	coll := s.db.Collection("truncation_job_test_events")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		_, err := coll.InsertOne(ctx, bson.M{"recvTime": base.Add(time.Duration(i) * time.Second)})
		s.Require().NoError(err)
	}

	job := NewTruncationJob("test", s.db, "truncation_job_test_events", "recvTime", 4)
	job.Run(ctx)
	s.Require().NoError(job.Error())

	count, err := coll.CountDocuments(ctx, bson.M{})
	s.Require().NoError(err)
	s.Equal(int64(4), count)

	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "recvTime", Value: 1}}))
	s.Require().NoError(err)
	var docs []struct {
		RecvTime time.Time `bson:"recvTime"`
	}
	s.Require().NoError(cursor.All(ctx, &docs))
	s.Require().Len(docs, 4)
	s.True(base.Add(6*time.Second).Equal(docs[0].RecvTime))
}

func (s *TruncationJobTestSuite) TestRunNoopWhenUnderLimit() {
	ctx := context.Background()
	coll := s.db.Collection("truncation_job_test_events")

	_, err := coll.InsertOne(ctx, bson.M{"recvTime": time.Now()})
	s.Require().NoError(err)

	job := NewTruncationJob("test", s.db, "truncation_job_test_events", "recvTime", 100)
	job.Run(ctx)
	s.Require().NoError(job.Error())

	count, err := coll.CountDocuments(ctx, bson.M{})
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
