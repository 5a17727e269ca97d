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
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/stefanprodan/kcstore/pkg/inventory"
)

// WaitOptions contains options for wait requests.
type WaitOptions struct {
	// Interval defines how often to poll the provider.
	Interval time.Duration

	// Timeout defines after which interval should the wait give up.
	Timeout time.Duration
}

// DefaultWaitOptions returns the default wait options.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		Interval: 2 * time.Second,
		Timeout:  5 * time.Minute,
	}
}

// Wait checks if the given resources are ready to be used.
func (rm *ResourceManager) Wait(ctx context.Context, entries []inventory.Entry, opts WaitOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	pending := map[string]bool{}
	for _, entry := range entries {
		pending[entry.ID] = true
	}

	for _, entry := range entries {
		entry := entry
		err := wait.PollImmediateUntil(interval(opts), func() (bool, error) {
			ready, err := rm.provider.Ready(ctx, entry)
			if err != nil {
				return false, err
			}
			return ready, nil
		}, ctx.Done())
		if err != nil {
			if err == wait.ErrWaitTimeout {
				return fmt.Errorf("timeout waiting for: [%s]", strings.Join(notReady(entries, pending), ", "))
			}
			return fmt.Errorf("%s wait failed, error: %w", entry.ID, err)
		}
		delete(pending, entry.ID)
	}
	return nil
}

// WaitForTermination waits for the given resources to be deleted.
func (rm *ResourceManager) WaitForTermination(ctx context.Context, entries []inventory.Entry, opts WaitOptions) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	for _, entry := range entries {
		if err := wait.PollImmediateUntil(interval(opts), rm.isDeleted(ctx, entry), ctx.Done()); err != nil {
			if err == wait.ErrWaitTimeout {
				return fmt.Errorf("timeout waiting for %s termination", entry.ID)
			}
			return err
		}
	}
	return nil
}

func (rm *ResourceManager) isDeleted(ctx context.Context, entry inventory.Entry) wait.ConditionFunc {
	return func() (bool, error) {
		exists, err := rm.provider.Exists(ctx, entry)
		if err != nil {
			return false, err
		}
		return !exists, nil
	}
}

func interval(opts WaitOptions) time.Duration {
	if opts.Interval <= 0 {
		return DefaultWaitOptions().Interval
	}
	return opts.Interval
}

func notReady(entries []inventory.Entry, pending map[string]bool) []string {
	var ids []string
	for _, e := range entries {
		if pending[e.ID] {
			ids = append(ids, e.ID)
		}
	}
	return ids
}
