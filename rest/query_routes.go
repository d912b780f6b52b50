package rest

import (
	"context"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"time"

	dbModel "github.com/evergreen-ci/sth-comet/model"
	apiModel "github.com/evergreen-ci/sth-comet/rest/model"

	"github.com/evergreen-ci/gimlet"
	"github.com/evergreen-ci/sth-comet/rest/data"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// sthQueryHandler answers GET /STH/v1/contextEntities/type/{entityType}/id/{entityId}/attributes/{attrName},
// applying the dispatch rule spec.md §4.6 lists verbatim.
type sthQueryHandler struct {
	sc data.Connector

	entityType, entityID, attrName string
	scope                          fiwareScope

	lastN           int
	hLimit, hOffset int
	hasLastN        bool
	hasWindow       bool

	aggrMethod dbModel.Method
	aggrPeriod dbModel.Resolution
	hasAggr    bool

	dateFrom, dateTo time.Time
	filetype         string

	invalid *validationFailure
}

// validationFailure records a request-validation failure Parse detects, for
// Run to render as the structured `{validation: {source, keys}}` body
// spec.md §6/§7 requires alongside every 400.
type validationFailure struct {
	source string
	keys   []string
}

func (h *sthQueryHandler) fail(source string, keys ...string) error {
	h.invalid = &validationFailure{source: source, keys: keys}
	return nil
}

func (h *sthQueryHandler) Factory() gimlet.RouteHandler {
	return &sthQueryHandler{sc: h.sc}
}

func (h *sthQueryHandler) Parse(ctx context.Context, r *http.Request) error {
	vars := gimlet.GetVars(r)
	h.entityType = vars["entityType"]
	h.entityID = vars["entityId"]
	h.attrName = vars["attrName"]
	h.scope = scopeFromContext(r.Context())

	q := r.URL.Query()

	if v := q.Get("lastN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return h.fail("query", "lastN")
		}
		h.lastN = n
		h.hasLastN = n > 0
	}

	hLimitSet, hOffsetSet := q.Has("hLimit"), q.Has("hOffset")
	if hLimitSet {
		n, err := strconv.Atoi(q.Get("hLimit"))
		if err != nil || n < 0 {
			return h.fail("query", "hLimit")
		}
		h.hLimit = n
	}
	if hOffsetSet {
		n, err := strconv.Atoi(q.Get("hOffset"))
		if err != nil || n < 0 {
			return h.fail("query", "hOffset")
		}
		h.hOffset = n
	}
	h.hasWindow = hLimitSet && hOffsetSet

	h.filetype = q.Get("filetype")

	aggrMethod, aggrPeriod := q.Get("aggrMethod"), q.Get("aggrPeriod")
	if aggrMethod != "" || aggrPeriod != "" {
		if !validMethod(aggrMethod) || !validResolution(aggrPeriod) {
			return h.fail("query", "aggrMethod", "aggrPeriod")
		}
		h.aggrMethod = dbModel.Method(aggrMethod)
		h.aggrPeriod = dbModel.Resolution(aggrPeriod)
		h.hasAggr = true
	}

	var err error
	if v := q.Get("dateFrom"); v != "" {
		h.dateFrom, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return h.fail("query", "dateFrom")
		}
	}
	if v := q.Get("dateTo"); v != "" {
		h.dateTo, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return h.fail("query", "dateTo")
		}
	}

	switch {
	case h.hasLastN, h.hasWindow, h.filetype == "csv":
		h.hasAggr = false
	case h.hasAggr:
	default:
		return h.fail("query", "lastN", "hLimit", "hOffset", "filetype", "aggrMethod", "aggrPeriod")
	}

	return nil
}

func (h *sthQueryHandler) Run(ctx context.Context) gimlet.Responder {
	if h.invalid != nil {
		return validationResponder(h.invalid.source, h.invalid.keys)
	}

	ns := dbModel.NamespaceTuple{
		Service:     h.scope.Service,
		ServicePath: h.scope.ServicePath,
		EntityID:    h.entityID,
		EntityType:  h.entityType,
		AttrName:    h.attrName,
	}

	family := dbModel.FamilyRaw
	if h.hasAggr {
		family = dbModel.FamilyAggregated
	}

	handle, err := h.sc.GetCollection(ctx, ns, dbModel.CollectionOptions{Family: family, Create: false})
	if dbModel.IsNotFound(err) {
		return gimlet.NewJSONResponse(apiModel.NewResponseEnvelope(h.entityID, h.entityType, h.attrName, nil))
	}
	if err != nil {
		return errResponder(err)
	}

	if h.hasAggr {
		return h.runAggregate(ctx, handle)
	}
	return h.runRaw(ctx, handle)
}

func (h *sthQueryHandler) runRaw(ctx context.Context, handle *dbModel.CollectionHandle) gimlet.Responder {
	spec := dbModel.RawQuerySpec{
		EntityID:   h.entityID,
		EntityType: h.entityType,
		AttrName:   h.attrName,
		LastN:      h.lastN,
		HLimit:     h.hLimit,
		HOffset:    h.hOffset,
		CSV:        h.filetype == "csv",
	}
	if !h.dateFrom.IsZero() {
		spec.From = &h.dateFrom
	}
	if !h.dateTo.IsZero() {
		spec.To = &h.dateTo
	}

	result, err := h.sc.QueryRaw(ctx, handle, spec)
	if err != nil {
		return errResponder(err)
	}

	if result.File != "" {
		return csvFileResponder(result.File)
	}

	values := make([]interface{}, 0, len(result.Events))
	for _, ev := range result.Events {
		v := apiModel.APIRawValue{}
		v.Import(ev)
		values = append(values, v)
	}
	return gimlet.NewJSONResponse(apiModel.NewResponseEnvelope(h.entityID, h.entityType, h.attrName, values))
}

func (h *sthQueryHandler) runAggregate(ctx context.Context, handle *dbModel.CollectionHandle) gimlet.Responder {
	spec := dbModel.AggregateQuerySpec{
		EntityID:     h.entityID,
		EntityType:   h.entityType,
		AttrName:     h.attrName,
		Method:       h.aggrMethod,
		Resolution:   h.aggrPeriod,
		From:         h.dateFrom,
		To:           h.dateTo,
		FilterEmpty:  true,
	}

	buckets, err := h.sc.QueryAggregate(ctx, handle, spec)
	if dbModel.IsTypeMismatch(err) {
		return validationResponder("query", []string{"aggrMethod"})
	}
	if err != nil {
		return errResponder(err)
	}

	values := make([]interface{}, 0, len(buckets))
	for _, b := range buckets {
		v := apiModel.APIAggregatedValue{}
		v.Import(b)
		values = append(values, v)
	}
	return gimlet.NewJSONResponse(apiModel.NewResponseEnvelope(h.entityID, h.entityType, h.attrName, values))
}

// csvFileResponder reads path fully into memory and removes it once read,
// per spec.md §4.3/§9's "stream to the response and delete once flushed".
func csvFileResponder(path string) gimlet.Responder {
	defer func() {
		if err := os.Remove(path); err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "failed to remove csv export scratch file",
				"path":    path,
			}))
		}
	}()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errResponder(errors.Wrap(err, "reading csv export file"))
	}
	return gimlet.NewTextResponse(data)
}

func validMethod(m string) bool {
	switch dbModel.Method(m) {
	case dbModel.MethodMin, dbModel.MethodMax, dbModel.MethodSum, dbModel.MethodSum2, dbModel.MethodOccur:
		return true
	default:
		return false
	}
}

func validResolution(r string) bool {
	switch dbModel.Resolution(r) {
	case dbModel.ResSecond, dbModel.ResMinute, dbModel.ResHour, dbModel.ResDay, dbModel.ResMonth:
		return true
	default:
		return false
	}
}

// validationResponder renders the `{validation: {source, keys}}` body
// spec.md §6/§7 requires alongside every 400.
func validationResponder(source string, keys []string) gimlet.Responder {
	resp := gimlet.NewJSONResponse(apiModel.NewValidationBody(source, keys))
	_ = resp.SetStatus(http.StatusBadRequest)
	return resp
}

func errResponder(err error) gimlet.Responder {
	if source, keys, ok := dbModel.ValidationDetails(err); ok {
		return validationResponder(source, keys)
	}
	if dbModel.IsValidation(err) {
		return gimlet.MakeJSONErrorResponder(gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		})
	}
	return gimlet.MakeJSONInternalErrorResponder(errors.WithStack(err))
}
