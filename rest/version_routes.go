package rest

import (
	"context"
	"net/http"

	apiModel "github.com/evergreen-ci/sth-comet/rest/model"

	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/sth-comet"
)

// versionHandler answers GET /version, per spec.md §6.
type versionHandler struct{}

func (h *versionHandler) Factory() gimlet.RouteHandler { return &versionHandler{} }

func (h *versionHandler) Parse(ctx context.Context, r *http.Request) error { return nil }

func (h *versionHandler) Run(ctx context.Context) gimlet.Responder {
	return gimlet.NewJSONResponse(apiModel.APIVersion{Version: sth.BuildRevision})
}
