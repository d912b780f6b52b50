package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func newHashRequest(hash string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/STH/v1/collections/hash/"+hash, nil)
	return mux.SetURLVars(r, map[string]string{"hash": hash})
}

func TestHashOriginHandlerParseRejectsMissingHash(t *testing.T) {
	h := &hashOriginHandler{sc: &mockConnector{}}
	err := h.Parse(context.Background(), newHashRequest(""))
	require.Error(t, err)
}

func TestHashOriginHandlerRunReturnsOrigin(t *testing.T) {
	origin := &dbModel.HashOrigin{Hash: "abc", Service: "smartcity"}
	h := &hashOriginHandler{sc: &mockConnector{hashOrigin: origin}, hash: "abc"}
	resp := h.Run(context.Background())
	require.NotNil(t, resp)
}

func TestHashOriginHandlerRunNotFound(t *testing.T) {
	h := &hashOriginHandler{sc: &mockConnector{hashOriginErr: dbModel.NewNotFoundError("no origin")}, hash: "missing"}
	resp := h.Run(context.Background())
	require.NotNil(t, resp)
}
