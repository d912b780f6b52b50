package model

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Family distinguishes the raw and aggregated collection families that
// exist per namespace, per spec.md §3.
type Family string

const (
	FamilyRaw        Family = "raw"
	FamilyAggregated Family = "aggregated"
)

const aggregatedSuffix = ".aggr"

// NameMode selects how NamespaceTuple is turned into a collection
// identifier.
type NameMode string

const (
	NameModePath NameMode = "path"
	NameModeHash NameMode = "hash"
)

// NamespaceTuple is the identity of one time series: spec.md §3's
// (service, servicePath, entityId, entityType, attrName).
type NamespaceTuple struct {
	Service     string
	ServicePath string
	EntityID    string
	EntityType  string
	AttrName    string
}

func (ns NamespaceTuple) concat() string {
	return strings.Join([]string{ns.ServicePath, ns.EntityType, ns.EntityID, ns.AttrName}, "_")
}

// Resolver maps a NamespaceTuple plus Family to a stable collection
// identifier, per spec.md §4.1. It is a pure function of its inputs and
// configuration: the same tuple and mode always yield the same name.
type Resolver struct {
	Mode        NameMode
	MaxIDLength int
}

// Resolve returns the collection identifier for ns in the given family. The
// bool return reports whether hash mode was used to produce the name.
func (r *Resolver) Resolve(ns NamespaceTuple, fam Family) (string, bool, error) {
	switch r.Mode {
	case NameModeHash:
		return r.hashName(ns, fam), true, nil
	case NameModePath, "":
		name := r.pathName(ns, fam)
		if r.MaxIDLength > 0 && len(name) > r.MaxIDLength {
			return "", false, NewIdentifierTooLongError(fmt.Sprintf(
				"collection identifier %q (%d bytes) exceeds the configured limit of %d bytes and hash mode is not enabled",
				name, len(name), r.MaxIDLength))
		}
		return name, false, nil
	default:
		return "", false, NewValidationError(fmt.Sprintf("unrecognized collection-name mode %q", r.Mode))
	}
}

func (r *Resolver) pathName(ns NamespaceTuple, fam Family) string {
	name := ns.concat()
	if fam == FamilyAggregated {
		name += aggregatedSuffix
	}
	return name
}

// hashName derives a fixed-length collection identifier from the
// concatenated tuple via a 64-bit xxhash digest, hex-encoded. The digest is
// always well under any realistic store identifier limit regardless of how
// long the underlying tuple fields are.
func (r *Resolver) hashName(ns NamespaceTuple, fam Family) string {
	sum := xxhash.Sum64String(ns.concat())
	name := fmt.Sprintf("%016x", sum)
	if fam == FamilyAggregated {
		name += aggregatedSuffix
	}
	return name
}
