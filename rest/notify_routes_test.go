package rest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	dbModel "github.com/evergreen-ci/sth-comet/model"
	apiModel "github.com/evergreen-ci/sth-comet/rest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validNotifyBody = `{
	"contextResponses": [
		{"contextElement": {"id": "Room1", "type": "Room", "attributes": [
			{"name": "temperature", "type": "float", "value": 23.5}
		]}}
	]
}`

func newNotifyRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/notify", bytes.NewBufferString(body))
	ctx := context.WithValue(r.Context(), fiwareHeaderKey{}, fiwareScope{Service: "smartcity", ServicePath: "/spain/gijon"})
	return r.WithContext(ctx)
}

func TestNotifyHandlerParseAcceptsValidPayload(t *testing.T) {
	h := &notifyHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newNotifyRequest(validNotifyBody)))
	assert.Equal(t, "smartcity", h.scope.Service)
	assert.Len(t, h.body.ContextResponses, 1)
}

func TestNotifyHandlerParseRejectsMissingContextResponses(t *testing.T) {
	h := &notifyHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newNotifyRequest(`{}`)))
	require.NotNil(t, h.invalid)
	assert.Equal(t, "payload", h.invalid.source)
	assert.Equal(t, []string{"contextResponses"}, h.invalid.keys)

	resp := h.Run(context.Background())
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	body, ok := resp.Data().(apiModel.APIValidationBody)
	require.True(t, ok)
	assert.Equal(t, "payload", body.Validation.Source)
	assert.Equal(t, []string{"contextResponses"}, body.Validation.Keys)
}

func TestNotifyHandlerParseRejectsMalformedJSON(t *testing.T) {
	h := &notifyHandler{sc: &mockConnector{}}
	require.NoError(t, h.Parse(context.Background(), newNotifyRequest(`not json`)))
	require.NotNil(t, h.invalid)
	assert.Equal(t, "payload", h.invalid.source)
	assert.Equal(t, []string{"contextResponses"}, h.invalid.keys)
}

func TestNotifyHandlerRunDelegatesToConnector(t *testing.T) {
	mc := &mockConnector{}
	h := &notifyHandler{sc: mc}
	require.NoError(t, h.Parse(context.Background(), newNotifyRequest(validNotifyBody)))

	resp := h.Run(context.Background())
	require.NotNil(t, resp)
	assert.Equal(t, "smartcity", mc.lastScope.Service)
	assert.Len(t, mc.lastNotification.ContextResponses, 1)
}

func TestNotifyHandlerRunSurfacesValidationError(t *testing.T) {
	mc := &mockConnector{processNotificationErr: dbModel.NewValidationErrorWithKeys("payload", []string{"attributes"}, "no attribute survived filtering")}
	h := &notifyHandler{sc: mc}
	require.NoError(t, h.Parse(context.Background(), newNotifyRequest(validNotifyBody)))

	resp := h.Run(context.Background())
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status())

	body, ok := resp.Data().(apiModel.APIValidationBody)
	require.True(t, ok)
	assert.Equal(t, "payload", body.Validation.Source)
	assert.Equal(t, []string{"attributes"}, body.Validation.Keys)
}
