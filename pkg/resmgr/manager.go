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
	"fmt"
	"time"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/logger"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// KnownAfterApply is the placeholder for identifiers assigned on creation.
const KnownAfterApply = "(known after apply)"

// ResourceManager reconciles cloud resources with the given provider.
type ResourceManager struct {
	provider Provider
}

// NewResourceManager creates a ResourceManager for the given provider.
func NewResourceManager(provider Provider) *ResourceManager {
	return &ResourceManager{provider: provider}
}

// ApplyOptions contains options for apply requests.
type ApplyOptions struct {
	// Concurrency limits the number of resources reconciled in parallel
	// inside a dependency level.
	Concurrency int

	// WaitInterval is the polling interval used when waiting for readiness.
	WaitInterval time.Duration

	// WaitTimeout enables waiting for every level to become ready before
	// applying its dependents, when greater than zero.
	WaitTimeout time.Duration

	// Clock returns the time recorded in the inventory.
	Clock func() time.Time
}

// DefaultApplyOptions returns the default apply options.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		Concurrency:  4,
		WaitInterval: 2 * time.Second,
		Clock:        time.Now,
	}
}

// Diff observes the declared resources in dependency order and returns the
// actions an apply would perform, followed by the stale inventory entries
// that would be deleted.
func (rm *ResourceManager) Diff(ctx context.Context, set *resource.Set, inv *inventory.Inventory) (*ChangeSet, error) {
	levels, err := set.Levels()
	if err != nil {
		return nil, err
	}

	changeSet := NewChangeSet()
	refs := newState(inv)
	pending := map[string]bool{}

	for _, level := range levels {
		for _, res := range level {
			id := res.ID().String()

			if dependsOnPending(res, pending) {
				pending[id] = true
				changeSet.Add(ChangeSetEntry{Subject: id, Action: string(CreatedAction)})
				continue
			}

			obs, err := rm.provider.Observe(ctx, res, refs)
			if err != nil {
				return nil, fmt.Errorf("%s observe failed, error: %w", id, err)
			}
			logger.Ctx(ctx).Debug().Str("resource", id).Str("status", string(obs.Status)).Msg("observed")

			switch obs.Status {
			case StatusAbsent:
				pending[id] = true
				refs.set(unknownEntry(res))
				changeSet.Add(ChangeSetEntry{Subject: id, Action: string(CreatedAction)})
			case StatusDiverged:
				if obs.Replace {
					pending[id] = true
					refs.set(unknownEntry(res))
					changeSet.Add(ChangeSetEntry{Subject: id, Action: string(ReplacedAction), Diff: obs.Diff})
				} else {
					refs.set(withIdentity(obs.Entry, res))
					changeSet.Add(ChangeSetEntry{Subject: id, Action: string(ConfiguredAction), Diff: obs.Diff})
				}
			default:
				refs.set(withIdentity(obs.Entry, res))
				changeSet.Add(ChangeSetEntry{Subject: id, Action: string(UnchangedAction)})
			}
		}
	}

	if inv != nil {
		for _, e := range inv.DiffSet(set) {
			changeSet.Add(ChangeSetEntry{Subject: e.ID, Action: string(DeletedAction)})
		}
	}

	return changeSet, nil
}

// dependsOnPending reports whether the resource is attached to a bucket
// that will be created or replaced. Such resources can't be observed
// and are always created.
func dependsOnPending(res resource.Resource, pending map[string]bool) bool {
	for _, ref := range res.References() {
		if ref.Kind == resource.BucketKind && pending[ref.String()] {
			return true
		}
	}
	return false
}

// unknownEntry stands in for a resource that will be created or replaced,
// dependents are observed against it so that a new identity shows as drift.
func unknownEntry(res resource.Resource) inventory.Entry {
	return withIdentity(inventory.Entry{PhysicalID: KnownAfterApply, ARN: KnownAfterApply}, res)
}

// withIdentity sets the entry fields owned by the reconciler.
func withIdentity(e inventory.Entry, res resource.Resource) inventory.Entry {
	e.ID = res.ID().String()
	e.Dependencies = nil
	for _, ref := range res.References() {
		e.Dependencies = append(e.Dependencies, ref.String())
	}
	return e
}
