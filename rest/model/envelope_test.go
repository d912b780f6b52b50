package model

import (
	"testing"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponseEnvelopeDefaultsEmptyValues(t *testing.T) {
	env := NewResponseEnvelope("Room1", "Room", "temperature", nil)
	require.Len(t, env.ContextResponses, 1)

	cr := env.ContextResponses[0]
	assert.Equal(t, "Room1", *cr.ContextElement.ID)
	assert.Equal(t, "Room", *cr.ContextElement.Type)
	require.Len(t, cr.ContextElement.Attributes, 1)
	assert.Equal(t, "temperature", *cr.ContextElement.Attributes[0].Name)
	assert.Equal(t, []interface{}{}, cr.ContextElement.Attributes[0].Values)
	assert.Equal(t, "200", cr.StatusCode.Code)
}

func TestAPIRawValueImport(t *testing.T) {
	recvTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := dbModel.RawEvent{RecvTime: recvTime, AttrType: "float", AttrValue: 23.5}

	v := APIRawValue{}
	v.Import(ev)

	assert.Equal(t, "2024-03-01T10:00:00.000Z", v.RecvTime)
	assert.Equal(t, "float", v.AttrType)
	assert.Equal(t, 23.5, v.AttrValue)
}

func TestAPIAggregatedValueImport(t *testing.T) {
	origin := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	b := dbModel.ProjectedBucket{
		Origin: origin,
		Points: []dbModel.ProjectedPoint{
			{Offset: 5, Samples: 2, Value: 30},
		},
	}

	v := APIAggregatedValue{}
	v.Import(b)

	assert.Equal(t, "2024-03-01T10:00:00.000Z", v.Origin)
	require.Len(t, v.Points, 1)
	assert.Equal(t, 5, v.Points[0].Offset)
	assert.Equal(t, int64(2), v.Points[0].Samples)
	assert.Equal(t, 30.0, v.Points[0].Value)
}
