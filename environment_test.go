package sth

import (
	"context"
	"testing"
	"time"

	"github.com/evergreen-ci/sth-comet/model"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type EnvironmentTestSuite struct {
	env Environment
	suite.Suite
}

func TestEnvironment(t *testing.T) {
	suite.Run(t, &EnvironmentTestSuite{})
}

func (s *EnvironmentTestSuite) SetupTest() {
	s.env = &envState{name: "test"}
}

func (s *EnvironmentTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.env.Close(ctx)
}

func (s *EnvironmentTestSuite) TestConfigureConnectsAndCachesConf() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conf := &Configuration{
		DBURI:              "mongodb://localhost:27017",
		PoolSize:           5,
		DatabaseName:       "sth_test",
		DefaultService:     "default_service",
		DefaultServicePath: "/",
		STHPort:            8666,
		ShouldStore:        model.StoreBoth,
		NameMode:           model.NameModePath,
		MaxIDLength:        50,
		NumWorkers:         1,
		UseLocalQueue:      true,
		ScratchDir:         "/tmp/sth-scratch",
	}

	require.NoError(s.T(), s.env.Configure(ctx, conf))
	s.NotNil(s.env.GetDB())
	s.NotNil(s.env.GetClient())

	got, err := s.env.GetConf()
	require.NoError(s.T(), err)
	s.Equal("sth_test", got.DatabaseName)

	queue, err := s.env.GetQueue()
	require.NoError(s.T(), err)
	s.NotNil(queue)
}

func (s *EnvironmentTestSuite) TestGetConfWithoutConfigureErrors() {
	_, err := s.env.GetConf()
	s.Error(err)
}

func (s *EnvironmentTestSuite) TestGetQueueWithoutConfigureErrors() {
	_, err := s.env.GetQueue()
	s.Error(err)
}
