package rest

import (
	"context"
	"net/http"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"

	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/sth-comet/rest/data"
)

// notifyHandler answers POST /notify, the ingest endpoint, per spec.md §4.5/§6.
type notifyHandler struct {
	sc data.Connector

	scope   fiwareScope
	body    dbModel.Notification
	invalid *validationFailure
}

func (h *notifyHandler) Factory() gimlet.RouteHandler {
	return &notifyHandler{sc: h.sc}
}

func (h *notifyHandler) Parse(ctx context.Context, r *http.Request) error {
	h.scope = scopeFromContext(r.Context())

	if err := gimlet.GetJSON(r.Body, &h.body); err != nil {
		h.invalid = &validationFailure{source: "payload", keys: []string{"contextResponses"}}
		return nil
	}

	if len(h.body.ContextResponses) == 0 {
		h.invalid = &validationFailure{source: "payload", keys: []string{"contextResponses"}}
		return nil
	}

	return nil
}

func (h *notifyHandler) Run(ctx context.Context) gimlet.Responder {
	if h.invalid != nil {
		return validationResponder(h.invalid.source, h.invalid.keys)
	}

	recvTime := time.Now()

	if err := h.sc.ProcessNotification(ctx, h.scope, h.body, recvTime); err != nil {
		return errResponder(err)
	}

	return gimlet.NewJSONResponse(struct {
		Status string `json:"status"`
	}{Status: "OK"})
}
