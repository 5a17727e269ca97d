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

	"golang.org/x/sync/errgroup"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/logger"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// Apply reconciles a single resource whose dependencies have already been applied.
// Absent resources are created, diverged resources are updated in place or
// replaced when an immutable field changed, converged resources are left untouched.
func (rm *ResourceManager) Apply(ctx context.Context, res resource.Resource, refs Resolver) (*ChangeSetEntry, inventory.Entry, error) {
	id := res.ID().String()
	log := logger.Ctx(ctx).With().Str("resource", id).Logger()

	obs, err := rm.provider.Observe(ctx, res, refs)
	if err != nil {
		return nil, inventory.Entry{}, fmt.Errorf("%s observe failed, error: %w", id, err)
	}
	log.Debug().Str("status", string(obs.Status)).Msg("observed")

	switch obs.Status {
	case StatusAbsent:
		entry, err := rm.provider.Create(ctx, res, refs)
		if err != nil {
			return nil, inventory.Entry{}, fmt.Errorf("%s create failed, error: %w", id, err)
		}
		log.Debug().Str("physicalID", entry.PhysicalID).Msg("created")
		return &ChangeSetEntry{Subject: id, Action: string(CreatedAction)}, withIdentity(entry, res), nil

	case StatusDiverged:
		if obs.Replace {
			if err := rm.provider.Delete(ctx, withIdentity(obs.Entry, res)); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, inventory.Entry{}, fmt.Errorf("%s immutable field detected, failed to delete resource, error: %w", id, err)
			}
			entry, err := rm.provider.Create(ctx, res, refs)
			if err != nil {
				return nil, inventory.Entry{}, fmt.Errorf("%s replace failed, error: %w", id, err)
			}
			log.Debug().Str("physicalID", entry.PhysicalID).Msg("replaced")
			return &ChangeSetEntry{Subject: id, Action: string(ReplacedAction), Diff: obs.Diff}, withIdentity(entry, res), nil
		}

		entry, err := rm.provider.Update(ctx, res, obs.Entry, refs)
		if err != nil {
			return nil, inventory.Entry{}, fmt.Errorf("%s update failed, error: %w", id, err)
		}
		log.Debug().Str("physicalID", entry.PhysicalID).Msg("configured")
		return &ChangeSetEntry{Subject: id, Action: string(ConfiguredAction), Diff: obs.Diff}, withIdentity(entry, res), nil

	default:
		return &ChangeSetEntry{Subject: id, Action: string(UnchangedAction)}, withIdentity(obs.Entry, res), nil
	}
}

// ApplyAll reconciles the resources level by level in dependency order.
// Resources inside a level are applied concurrently. Every successful
// operation is recorded in the inventory, also when the apply fails midway.
func (rm *ResourceManager) ApplyAll(ctx context.Context, set *resource.Set, inv *inventory.Inventory, opts ApplyOptions) (*ChangeSet, error) {
	levels, err := set.Levels()
	if err != nil {
		return nil, err
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	changeSet := NewChangeSet()
	refs := newState(inv)
	var mu sync.Mutex

	for _, level := range levels {
		results := make([]*ChangeSetEntry, len(level))
		entries := make([]inventory.Entry, len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, res := range level {
			i, res := i, res
			g.Go(func() error {
				cse, entry, err := rm.Apply(gctx, res, refs)
				if err != nil {
					return err
				}
				refs.set(entry)
				results[i] = cse
				entries[i] = entry

				if inv != nil {
					mu.Lock()
					inv.Set(entry)
					mu.Unlock()
				}
				return nil
			})
		}
		err := g.Wait()

		for _, cse := range results {
			if cse != nil {
				changeSet.Add(*cse)
			}
		}
		if err != nil {
			return changeSet, err
		}

		if opts.WaitTimeout > 0 {
			if err := rm.Wait(ctx, entries, WaitOptions{Interval: opts.WaitInterval, Timeout: opts.WaitTimeout}); err != nil {
				return changeSet, err
			}
		}
	}

	if inv != nil && opts.Clock != nil {
		inv.SetLastAppliedTime(opts.Clock())
	}

	return changeSet, nil
}
