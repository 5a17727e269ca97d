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

	"github.com/stefanprodan/kcstore/pkg/graph"
	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/logger"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// DeleteOptions contains options for delete requests.
type DeleteOptions struct {
	// Concurrency limits the number of resources deleted in parallel.
	Concurrency int
}

// DefaultDeleteOptions returns the default delete options.
func DefaultDeleteOptions() DeleteOptions {
	return DeleteOptions{Concurrency: 4}
}

// DeleteAll deletes the given inventory entries, dependents before their
// dependencies, using the dependencies recorded at apply time.
// Resources that no longer exist are skipped. The deleted entries are
// removed from the inventory when one is given.
func (rm *ResourceManager) DeleteAll(ctx context.Context, entries []inventory.Entry, inv *inventory.Inventory, opts DeleteOptions) (*ChangeSet, error) {
	changeSet := NewChangeSet()
	if len(entries) == 0 {
		return changeSet, nil
	}

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	index := make(map[string]inventory.Entry, len(entries))
	dag := graph.New(resource.LessID)
	for _, e := range entries {
		index[e.ID] = e
		dag.AddNode(e.ID)
	}
	for _, e := range entries {
		for _, dep := range e.Dependencies {
			if _, ok := index[dep]; ok {
				dag.AddEdge(e.ID, dep)
			}
		}
	}

	levels, err := dag.Levels()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	for _, level := range graph.Reverse(levels) {
		deleted := make([]bool, len(level))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, id := range level {
			i, entry := i, index[id]
			g.Go(func() error {
				err := rm.provider.Delete(gctx, entry)
				switch {
				case errors.Is(err, ErrNotFound):
					logger.Ctx(gctx).Debug().Str("resource", entry.ID).Msg("already deleted")
				case err != nil:
					return fmt.Errorf("%s delete failed, error: %w", entry.ID, err)
				default:
					deleted[i] = true
					logger.Ctx(gctx).Debug().Str("resource", entry.ID).Msg("deleted")
				}

				if inv != nil {
					mu.Lock()
					inv.Remove(entry.ID)
					mu.Unlock()
				}
				return nil
			})
		}
		err := g.Wait()

		for i, id := range level {
			if deleted[i] {
				changeSet.Add(ChangeSetEntry{Subject: id, Action: string(DeletedAction)})
			}
		}
		if err != nil {
			return changeSet, err
		}
	}

	return changeSet, nil
}
