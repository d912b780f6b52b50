package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	dbModel "github.com/evergreen-ci/sth-comet/model"
	apiModel "github.com/evergreen-ci/sth-comet/rest/model"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueryRequest(t *testing.T, rawQuery string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/STH/v1/contextEntities/type/Room/id/Room1/attributes/temperature?"+rawQuery, nil)
	r = mux.SetURLVars(r, map[string]string{
		"entityType": "Room",
		"entityId":   "Room1",
		"attrName":   "temperature",
	})
	ctx := context.WithValue(r.Context(), fiwareHeaderKey{}, fiwareScope{Service: "smartcity", ServicePath: "/spain/gijon"})
	return r.WithContext(ctx)
}

func TestQueryHandlerParseRejectsEmptyQuery(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "")))
	require.NotNil(t, h.invalid)
	assert.Equal(t, "query", h.invalid.source)
	assert.ElementsMatch(t, []string{"lastN", "hLimit", "hOffset", "filetype", "aggrMethod", "aggrPeriod"}, h.invalid.keys)
}

func TestQueryHandlerRunRejectsEmptyQueryWithStructuredBody(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "")))

	resp := h.Run(context.Background())
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	body, ok := resp.Data().(apiModel.APIValidationBody)
	require.True(t, ok)
	assert.Equal(t, "query", body.Validation.Source)
	assert.ElementsMatch(t, []string{"lastN", "hLimit", "hOffset", "filetype", "aggrMethod", "aggrPeriod"}, body.Validation.Keys)
}

func TestQueryHandlerParseLastN(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "lastN=5")))
	assert.Equal(t, 5, h.lastN)
	assert.True(t, h.hasLastN)
}

func TestQueryHandlerParseRejectsNegativeLastN(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "lastN=-1")))
	require.NotNil(t, h.invalid)
	assert.Equal(t, "query", h.invalid.source)
	assert.Equal(t, []string{"lastN"}, h.invalid.keys)
}

func TestQueryHandlerParseWindow(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "hLimit=10&hOffset=0")))
	assert.True(t, h.hasWindow)
	assert.Equal(t, 10, h.hLimit)
	assert.Equal(t, 0, h.hOffset)
}

func TestQueryHandlerParseAggregate(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "aggrMethod=max&aggrPeriod=hour")))
	assert.True(t, h.hasAggr)
	assert.Equal(t, dbModel.MethodMax, h.aggrMethod)
	assert.Equal(t, dbModel.ResHour, h.aggrPeriod)
}

func TestQueryHandlerParseRejectsUnknownAggregateMethod(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "aggrMethod=bogus&aggrPeriod=hour")))
	require.NotNil(t, h.invalid)
	assert.Equal(t, "query", h.invalid.source)
	assert.Equal(t, []string{"aggrMethod", "aggrPeriod"}, h.invalid.keys)
}

func TestQueryHandlerParseCSV(t *testing.T) {
	h := &sthQueryHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newQueryRequest(t, "filetype=csv")))
	assert.Equal(t, "csv", h.filetype)
}

func TestQueryHandlerRunMissingCollectionReturnsEmptyEnvelope(t *testing.T) {
	h := &sthQueryHandler{
		sc:         &mockConnector{getCollectionErr: dbModel.NewNotFoundError("no such collection")},
		entityID:   "Room1",
		entityType: "Room",
		attrName:   "temperature",
	}
	resp := h.Run(context.Background())
	require.NotNil(t, resp)
}

func TestQueryHandlerRunAggregateRejectsTypeMismatch(t *testing.T) {
	h := &sthQueryHandler{
		sc:         &mockConnector{queryAggregateErr: dbModel.NewTypeMismatchError("bad method")},
		entityID:   "Room1",
		entityType: "Room",
		attrName:   "temperature",
		hasAggr:    true,
		aggrMethod: dbModel.MethodOccur,
		aggrPeriod: dbModel.ResHour,
	}
	resp := h.Run(context.Background())
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	body, ok := resp.Data().(apiModel.APIValidationBody)
	require.True(t, ok)
	assert.Equal(t, "query", body.Validation.Source)
	assert.Equal(t, []string{"aggrMethod"}, body.Validation.Keys)
}
