// Package id provides the ID generators used by the kernel.
package id

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique identifiers.
type Generator interface {
	Generate() uint64
}

// NewGenerator returns a sequential generator whose first ID is 1, so that
// the zero value can mean "no ID".
func NewGenerator() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	nextID atomic.Uint64
}

func (g *sequentialGenerator) Generate() uint64 {
	return g.nextID.Add(1)
}

// NewRunID returns a globally unique, sortable ID for a simulation run.
func NewRunID() string {
	return xid.New().String()
}
