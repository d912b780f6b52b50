package sth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKPIIncAndReset(t *testing.T) {
	k := &KPI{}
	assert.Equal(t, uint64(0), k.AttendedRequests())

	k.IncAttendedRequests()
	k.IncAttendedRequests()
	assert.Equal(t, uint64(2), k.AttendedRequests())

	k.Reset()
	assert.Equal(t, uint64(0), k.AttendedRequests())
}

func TestGetKPIReturnsProcessWideSingleton(t *testing.T) {
	a := GetKPI()
	b := GetKPI()
	assert.Same(t, a, b)
}
