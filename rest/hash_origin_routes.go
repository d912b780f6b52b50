package rest

import (
	"context"
	"net/http"

	dbModel "github.com/evergreen-ci/sth-comet/model"

	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/sth-comet/rest/data"
	"github.com/pkg/errors"
)

// hashOriginHandler answers the supplemental operator endpoint
// GET /STH/v1/collections/hash/{hash}, reversing a hashed collection name
// back to its namespace tuple, per SPEC_FULL.md's supplemental features
// section.
type hashOriginHandler struct {
	sc   data.Connector
	hash string
}

func (h *hashOriginHandler) Factory() gimlet.RouteHandler {
	return &hashOriginHandler{sc: h.sc}
}

func (h *hashOriginHandler) Parse(ctx context.Context, r *http.Request) error {
	h.hash = gimlet.GetVars(r)["hash"]
	if h.hash == "" {
		return gimlet.ErrorResponse{StatusCode: http.StatusBadRequest, Message: "missing hash path parameter"}
	}
	return nil
}

func (h *hashOriginHandler) Run(ctx context.Context) gimlet.Responder {
	origin, err := h.sc.LookupHashOrigin(ctx, h.hash)
	if dbModel.IsNotFound(err) {
		return gimlet.MakeJSONErrorResponder(gimlet.ErrorResponse{
			StatusCode: http.StatusNotFound,
			Message:    err.Error(),
		})
	}
	if err != nil {
		return gimlet.MakeJSONInternalErrorResponder(errors.WithStack(err))
	}
	return gimlet.NewJSONResponse(origin)
}
