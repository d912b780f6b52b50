package model

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RawEventTestSuite struct {
	client *mongo.Client
	db     *mongo.Database
	handle *CollectionHandle
	scratchDir string
	suite.Suite
}

func TestRawEvent(t *testing.T) {
	suite.Run(t, &RawEventTestSuite{})
}

func (s *RawEventTestSuite) SetupTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	s.Require().NoError(err)
	s.client = client
	s.db = client.Database("sth_test")

	name := "raw_event_test_events"
	s.Require().NoError(s.db.Collection(name).Drop(ctx))
	s.handle = &CollectionHandle{Collection: s.db.Collection(name), Name: name, Family: FamilyRaw}

	dir, err := os.MkdirTemp("", "sth-scratch")
	s.Require().NoError(err)
	s.scratchDir = dir
}

func (s *RawEventTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.db.Collection(s.handle.Name).Drop(ctx)
	s.Require().NoError(s.client.Disconnect(ctx))
	s.Require().NoError(os.RemoveAll(s.scratchDir))
}

func (s *RawEventTestSuite) seed(n int, base time.Time) {
	for i := 0; i < n; i++ {
		ev := RawEvent{
			RecvTime:   base.Add(time.Duration(i) * time.Second),
			EntityID:   "Room1",
			EntityType: "Room",
			AttrName:   "temperature",
			AttrType:   "float",
			AttrValue:  float64(20 + i),
		}
		s.Require().NoError(StoreRawEvent(context.Background(), s.handle, ev))
	}
}

func (s *RawEventTestSuite) TestQueryRawLastNReturnsAscendingOrder() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seed(5, base)

	result, err := QueryRaw(context.Background(), s.handle, s.scratchDir, RawQuerySpec{
		EntityID: "Room1", EntityType: "Room", AttrName: "temperature", LastN: 3,
	})
	s.Require().NoError(err)
	s.Require().Len(result.Events, 3)
	s.True(result.Events[0].RecvTime.Before(result.Events[1].RecvTime))
	s.True(result.Events[1].RecvTime.Before(result.Events[2].RecvTime))
	s.Equal(24.0, result.Events[2].AttrValue)
}

func (s *RawEventTestSuite) TestQueryRawWindow() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seed(5, base)

	result, err := QueryRaw(context.Background(), s.handle, s.scratchDir, RawQuerySpec{
		EntityID: "Room1", EntityType: "Room", AttrName: "temperature", HLimit: 2, HOffset: 1,
	})
	s.Require().NoError(err)
	s.Require().Len(result.Events, 2)
	s.Equal(21.0, result.Events[0].AttrValue)
	s.Equal(22.0, result.Events[1].AttrValue)
}

func (s *RawEventTestSuite) TestQueryRawCSVWritesScratchFile() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seed(3, base)

	result, err := QueryRaw(context.Background(), s.handle, s.scratchDir, RawQuerySpec{
		EntityID: "Room1", EntityType: "Room", AttrName: "temperature", CSV: true,
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(result.File)

	f, err := os.Open(result.File)
	s.Require().NoError(err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	s.Require().NoError(err)
	s.Require().Len(rows, 4) // header + 3 rows
	s.Equal([]string{"recvTime", "entityId", "entityType", "attrName", "attrType", "attrValue"}, rows[0])
}

func (s *RawEventTestSuite) TestQueryRawFiltersByTimeRange() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seed(5, base)

	from := base.Add(2 * time.Second)
	to := base.Add(3 * time.Second)
	result, err := QueryRaw(context.Background(), s.handle, s.scratchDir, RawQuerySpec{
		EntityID: "Room1", EntityType: "Room", AttrName: "temperature", From: &from, To: &to,
	})
	s.Require().NoError(err)
	s.Require().Len(result.Events, 2)
}
