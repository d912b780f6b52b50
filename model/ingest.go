package model

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// StoreMode controls whether ingest writes raw events, pre-aggregates, or
// both, per spec.md §4.5/§6.
type StoreMode string

const (
	StoreOnlyRaw        StoreMode = "ONLY_RAW"
	StoreOnlyAggregated StoreMode = "ONLY_AGGREGATED"
	StoreBoth           StoreMode = "BOTH"
)

func (m StoreMode) wantsRaw() bool        { return m == StoreOnlyRaw || m == StoreBoth }
func (m StoreMode) wantsAggregated() bool { return m == StoreOnlyAggregated || m == StoreBoth }

// Notification is the upstream context-broker payload POST /notify
// receives, per spec.md §4.5.
type Notification struct {
	ContextResponses []ContextResponse `json:"contextResponses"`
}

// ContextResponse wraps one ContextElement, matching the upstream wire
// shape verbatim rather than flattening it away.
type ContextResponse struct {
	ContextElement ContextElement `json:"contextElement"`
}

// ContextElement identifies the entity an attribute change belongs to.
type ContextElement struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attribute is one attribute-change observation within a ContextElement.
type Attribute struct {
	Name     string                 `json:"name"`
	Type     string                 `json:"type"`
	Value    interface{}            `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NamespaceScope carries the service/servicePath pair a notification's
// headers contribute to every NamespaceTuple it produces; the remaining
// three NamespaceTuple fields (entityId, entityType, attrName) come from
// the notification body itself, one set per retained attribute.
type NamespaceScope struct {
	Service     string
	ServicePath string
}

// IngestConfig carries the subset of Configuration the ingestion
// coordinator consults, decoupled from the root package's Configuration
// type to avoid a model<->root import cycle.
type IngestConfig struct {
	ShouldStore       StoreMode
	IgnoreBlankSpaces bool
	FilterOutEmpty    bool
	StoreHash         bool
	Truncate          TruncationPolicy
	Resolutions       []Resolution
	SubtaskTimeout    time.Duration
}

// retainedAttribute pairs one surviving Attribute with the entity identity
// it was flattened from.
type retainedAttribute struct {
	entityID, entityType string
	attr                 Attribute
}

// ProcessNotification flattens n, drops attributes that fail the retention
// rule, and dispatches one raw-write and/or one aggregate-update subtask per
// retained attribute in parallel, per spec.md §4.5.
func ProcessNotification(ctx context.Context, provider *Provider, cfg IngestConfig, scope NamespaceScope, n Notification, recvTime time.Time) error {
	retained := flattenAndFilter(n, cfg)
	if len(retained) == 0 {
		return NewValidationErrorWithKeys("payload", []string{"attributes"}, "no attribute in payload.attributes survived value-type/blank filtering")
	}

	var wg sync.WaitGroup
	catcher := grip.NewBasicCatcher()

	var once sync.Once
	var firstErr error
	latch := func(err error) {
		if err == nil {
			return
		}
		once.Do(func() { firstErr = err })
	}

	// Subtasks run against a detached context carrying only a timeout, not
	// the inbound request context: a cancelled request must not abort
	// in-flight store operations, per spec.md §5.
	bg := context.Background()
	var cancel context.CancelFunc
	if cfg.SubtaskTimeout > 0 {
		bg, cancel = context.WithTimeout(bg, cfg.SubtaskTimeout)
	}
	if cancel != nil {
		defer cancel()
	}

	for _, ra := range retained {
		ns := NamespaceTuple{
			Service:     scope.Service,
			ServicePath: scope.ServicePath,
			EntityID:    ra.entityID,
			EntityType:  ra.entityType,
			AttrName:    ra.attr.Name,
		}
		writeTime := attributeRecvTime(ra.attr, recvTime)

		if cfg.ShouldStore.wantsRaw() {
			wg.Add(1)
			go func(ns NamespaceTuple, writeTime time.Time, attr Attribute) {
				defer wg.Done()
				err := storeRawSubtask(bg, provider, cfg, ns, writeTime, attr)
				if err != nil {
					catcher.Add(err)
				}
				latch(err)
			}(ns, writeTime, ra.attr)
		}

		if cfg.ShouldStore.wantsAggregated() {
			wg.Add(1)
			go func(ns NamespaceTuple, writeTime time.Time, attr Attribute) {
				defer wg.Done()
				err := updateAggregateSubtask(bg, provider, cfg, ns, writeTime, attr)
				if err != nil {
					catcher.Add(err)
				}
				latch(err)
			}(ns, writeTime, ra.attr)
		}
	}

	wg.Wait()

	if catcher.HasErrors() {
		grip.Error(message.WrapError(catcher.Resolve(), message.Fields{
			"message": "one or more ingestion subtasks failed",
			"service": scope.Service,
		}))
	}

	return firstErr
}

func storeRawSubtask(ctx context.Context, provider *Provider, cfg IngestConfig, ns NamespaceTuple, writeTime time.Time, attr Attribute) error {
	handle, err := provider.GetCollection(ctx, ns, CollectionOptions{
		Family:    FamilyRaw,
		Create:    true,
		StoreHash: cfg.StoreHash,
		Truncate:  cfg.Truncate,
	})
	if err != nil {
		return err
	}

	return StoreRawEvent(ctx, handle, RawEvent{
		RecvTime:   writeTime,
		EntityID:   ns.EntityID,
		EntityType: ns.EntityType,
		AttrName:   ns.AttrName,
		AttrType:   attr.Type,
		AttrValue:  attr.Value,
	})
}

func updateAggregateSubtask(ctx context.Context, provider *Provider, cfg IngestConfig, ns NamespaceTuple, writeTime time.Time, attr Attribute) error {
	handle, err := provider.GetCollection(ctx, ns, CollectionOptions{
		Family:    FamilyAggregated,
		Create:    true,
		StoreHash: cfg.StoreHash,
		Truncate:  cfg.Truncate,
	})
	if err != nil {
		return err
	}

	value, ok := aggregableValue(attr.Value)
	if !ok {
		return NewTypeMismatchError("attribute value is neither numeric nor string")
	}

	resolutions := cfg.Resolutions
	if len(resolutions) == 0 {
		resolutions = []Resolution{ResSecond, ResMinute, ResHour, ResDay, ResMonth}
	}

	catcher := grip.NewBasicCatcher()
	for _, res := range resolutions {
		catcher.Add(UpdateBucket(ctx, handle, ns, res, writeTime, value))
	}
	return catcher.Resolve()
}

// flattenAndFilter implements spec.md §4.5 step 1: drop attributes whose
// value is neither string nor number, and, when configured, whose trimmed
// string value is empty.
func flattenAndFilter(n Notification, cfg IngestConfig) []retainedAttribute {
	out := []retainedAttribute{}
	for _, cr := range n.ContextResponses {
		el := cr.ContextElement
		for _, attr := range el.Attributes {
			if !isRetainable(attr.Value) {
				continue
			}
			if cfg.FilterOutEmpty {
				if s, ok := attr.Value.(string); ok {
					trimmed := s
					if cfg.IgnoreBlankSpaces {
						trimmed = strings.TrimSpace(s)
					}
					if trimmed == "" {
						continue
					}
				}
			}
			out = append(out, retainedAttribute{entityID: el.ID, entityType: el.Type, attr: attr})
		}
	}
	return out
}

func isRetainable(value interface{}) bool {
	_, ok := aggregableValue(value)
	return ok
}

// aggregableValue normalizes an attribute's dynamic JSON value to either a
// float64 or a string, the two kinds the aggregate engine understands. JSON
// numbers already decode to float64; numeric strings are accepted too,
// since upstream notifiers commonly stringify numeric attribute values.
func aggregableValue(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
		return v, true
	default:
		return nil, false
	}
}

// attributeRecvTime substitutes metadata.TimeInstant for recvTime when
// present and well-formed, per spec.md §4.5's closing note.
func attributeRecvTime(attr Attribute, recvTime time.Time) time.Time {
	if attr.Metadata == nil {
		return recvTime
	}
	raw, ok := attr.Metadata["TimeInstant"]
	if !ok {
		return recvTime
	}
	s, ok := raw.(string)
	if !ok {
		return recvTime
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return recvTime
	}
	return t
}
