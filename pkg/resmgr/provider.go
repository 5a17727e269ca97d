/*
Copyright 2022 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package resmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

var (
	// ErrReferenceNotFound is returned when a resource depends on another
	// resource that has not been created yet or no longer exists.
	ErrReferenceNotFound = errors.New("referenced resource not found")

	// ErrNotFound is returned by providers when the live resource does not exist.
	ErrNotFound = errors.New("resource not found")
)

// Status is the reconciliation state of a live resource.
type Status string

const (
	// StatusAbsent means the resource does not exist.
	StatusAbsent Status = "absent"
	// StatusDiverged means the resource exists but differs from its declaration.
	StatusDiverged Status = "diverged"
	// StatusConverged means the resource matches its declaration.
	StatusConverged Status = "converged"
)

// Observation is the result of comparing a declaration with the live resource.
type Observation struct {
	Status Status

	// Replace is set when the diverged fields can't be changed in place.
	Replace bool

	// Diff describes the diverged fields.
	Diff string

	// Entry identifies the live resource, set unless the resource is absent.
	Entry inventory.Entry
}

// Resolver maps a resource reference to the live resource it points to.
type Resolver interface {
	Resolve(id resource.ID) (inventory.Entry, error)
}

// Provider issues the cloud API calls for a set of resource kinds.
type Provider interface {
	// Observe returns the state of the live resource.
	Observe(ctx context.Context, res resource.Resource, refs Resolver) (*Observation, error)

	// Create provisions the resource and returns its inventory entry.
	Create(ctx context.Context, res resource.Resource, refs Resolver) (inventory.Entry, error)

	// Update converges the live resource in place.
	Update(ctx context.Context, res resource.Resource, live inventory.Entry, refs Resolver) (inventory.Entry, error)

	// Delete removes the live resource, returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, entry inventory.Entry) error

	// Ready reports whether the resource can be used by its dependents.
	Ready(ctx context.Context, entry inventory.Entry) (bool, error)

	// Exists reports whether the live resource still exists.
	Exists(ctx context.Context, entry inventory.Entry) (bool, error)
}

// HasDrifted compares the desired and live states and returns a diff of
// the fields that changed.
func HasDrifted(desired, live interface{}, opts ...cmp.Option) (bool, string) {
	diff := cmp.Diff(desired, live, opts...)
	return diff != "", diff
}

// state is a concurrent safe Resolver backed by inventory entries.
type state struct {
	mu      sync.RWMutex
	entries map[string]inventory.Entry
}

func newState(inv *inventory.Inventory) *state {
	s := &state{entries: map[string]inventory.Entry{}}
	if inv != nil {
		for _, e := range inv.Entries {
			s.entries[e.ID] = e
		}
	}
	return s
}

func (s *state) Resolve(id resource.ID) (inventory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id.String()]
	if !ok {
		return inventory.Entry{}, fmt.Errorf("%s: %w", id, ErrReferenceNotFound)
	}
	return e, nil
}

func (s *state) set(e inventory.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
}
