package model

import (
	dbModel "github.com/evergreen-ci/sth-comet/model"
	"github.com/evergreen-ci/utility"
)

// APIResponseEnvelope is the fixed-shape wire response every successful
// query returns, per spec.md §6, regardless of whether the underlying
// result set is empty.
type APIResponseEnvelope struct {
	ContextResponses []APIContextResponse `json:"contextResponses"`
}

// APIContextResponse wraps one APIContextElement together with the status
// pair the upstream FIWARE wire contract expects on every element.
type APIContextResponse struct {
	ContextElement APIContextElement `json:"contextElement"`
	StatusCode     APIStatusCode     `json:"statusCode"`
}

// APIContextElement carries the entity identity and the single requested
// attribute's projected values.
type APIContextElement struct {
	ID         *string          `json:"id"`
	Type       *string          `json:"type"`
	IsPattern  bool             `json:"isPattern"`
	Attributes []APIAttribute   `json:"attributes"`
}

// APIAttribute is the one-attribute-per-response slice spec.md §6 shows;
// Values holds either raw events or projected aggregate buckets.
type APIAttribute struct {
	Name   *string       `json:"name"`
	Values []interface{} `json:"values"`
}

// APIStatusCode is the small status object every contextResponse entry
// carries, independent of the outer HTTP status.
type APIStatusCode struct {
	Code         string `json:"code"`
	ReasonPhrase string `json:"reasonPhrase"`
}

// NewResponseEnvelope builds the fixed-shape envelope for one
// (entityId, entityType, attrName) query, projecting values into the
// generic []interface{} the wire shape expects.
func NewResponseEnvelope(entityID, entityType, attrName string, values []interface{}) APIResponseEnvelope {
	if values == nil {
		values = []interface{}{}
	}
	return APIResponseEnvelope{
		ContextResponses: []APIContextResponse{
			{
				ContextElement: APIContextElement{
					ID:        utility.ToStringPtr(entityID),
					Type:      utility.ToStringPtr(entityType),
					IsPattern: false,
					Attributes: []APIAttribute{
						{
							Name:   utility.ToStringPtr(attrName),
							Values: values,
						},
					},
				},
				StatusCode: APIStatusCode{Code: "200", ReasonPhrase: "OK"},
			},
		},
	}
}

// APIRawValue is one raw event projected onto the wire, per spec.md §6.
type APIRawValue struct {
	RecvTime  string      `json:"recvTime"`
	AttrType  string      `json:"attrType"`
	AttrValue interface{} `json:"attrValue"`
}

// Import populates a from one dbModel.RawEvent.
func (v *APIRawValue) Import(ev dbModel.RawEvent) {
	v.RecvTime = ev.RecvTime.Format("2006-01-02T15:04:05.000Z")
	v.AttrType = ev.AttrType
	v.AttrValue = ev.AttrValue
}

// APIAggregatedValue is one projected aggregate bucket on the wire.
type APIAggregatedValue struct {
	Origin string               `json:"_id"`
	Points []APIAggregatedPoint `json:"points"`
}

// APIAggregatedPoint is one projected slot within an APIAggregatedValue.
type APIAggregatedPoint struct {
	Offset  int              `json:"offset"`
	Samples int64            `json:"samples"`
	Value   float64          `json:"value,omitempty"`
	Occur   map[string]int64 `json:"occur,omitempty"`
}

// Import populates a from one dbModel.ProjectedBucket.
func (v *APIAggregatedValue) Import(b dbModel.ProjectedBucket) {
	v.Origin = b.Origin.Format("2006-01-02T15:04:05.000Z")
	v.Points = make([]APIAggregatedPoint, 0, len(b.Points))
	for _, p := range b.Points {
		v.Points = append(v.Points, APIAggregatedPoint{
			Offset:  p.Offset,
			Samples: p.Samples,
			Value:   p.Value,
			Occur:   p.Occur,
		})
	}
}

// APIValidationError is the `{source, keys}` pair identifying why a request
// was rejected, per spec.md §6/§7.
type APIValidationError struct {
	Source string   `json:"source"`
	Keys   []string `json:"keys"`
}

// APIValidationBody is the full body returned alongside every 400, nesting
// APIValidationError under "validation" per spec.md §6's `validation.source`/
// `validation.keys` scenarios (S4, S5).
type APIValidationBody struct {
	Validation APIValidationError `json:"validation"`
}

// NewValidationBody builds the 400 body for a given source/keys pair.
func NewValidationBody(source string, keys []string) APIValidationBody {
	return APIValidationBody{Validation: APIValidationError{Source: source, Keys: keys}}
}

// APIVersion is the body GET /version returns.
type APIVersion struct {
	Version string `json:"version"`
}
