// Package sth holds application-level constants and shared resources for the
// Short Time Historic service.
package sth

import "time"

const (
	// ShortDateFormat is a minute-precision timestamp layout. The service's
	// responses do not use it; they format times with millisecond precision.
	ShortDateFormat = "2006-01-02T15:04"

	// UnicaCorrelatorHeaderDefault is the header name echoed back on query
	// responses when the caller does not override it via configuration.
	UnicaCorrelatorHeaderDefault = "Unica-Correlator"

	// FiwareServiceHeader and FiwareServicePathHeader scope every namespace
	// tuple to a tenant and sub-tenant.
	FiwareServiceHeader     = "fiware-service"
	FiwareServicePathHeader = "fiware-servicepath"

	// QueueName is the amboy queue identifier used when the service is
	// configured with a remote, mongodb-backed queue.
	QueueName = "sth.jobs"

	// DefaultDialTimeout bounds how long the service waits to establish the
	// initial connection to the document store.
	DefaultDialTimeout = 10 * time.Second
)

// BuildRevision stores the commit the binary was built from; it is set with
// -ldflags at build time and left empty otherwise.
var BuildRevision = ""
