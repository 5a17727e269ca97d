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

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/config"
	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply reconciles the declared resources with AWS in dependency order and records them in the inventory.",
	Example: `  # Provision a kubeconfig store
  kcstore apply --bucket-name my-kubeconfigs --tag env=prod --wait

  # Apply resources from manifests without removing the stale ones
  kcstore apply -f ./stack/ -i my-stack --prune=false
`,
	RunE: runApplyCmd,
}

type applyFlags struct {
	stackFlags
	inventoryName string
	wait          bool
	waitTimeout   time.Duration
	prune         bool
	concurrency   int
	source        string
	revision      string
}

var applyArgs applyFlags

func init() {
	applyArgs.addFlags(applyCmd)
	applyCmd.Flags().StringVarP(&applyArgs.inventoryName, "inventory-name", "i", stack.Name,
		"The name of the inventory.")
	applyCmd.Flags().BoolVar(&applyArgs.wait, "wait", false,
		"Wait for every dependency level to become ready before applying its dependents.")
	applyCmd.Flags().DurationVar(&applyArgs.waitTimeout, "wait-timeout", config.DefaultWaitTimeout,
		"The length of time to wait for a dependency level to become ready.")
	applyCmd.Flags().BoolVar(&applyArgs.prune, "prune", true,
		"Delete the resources that are recorded in the inventory but no longer declared.")
	applyCmd.Flags().IntVar(&applyArgs.concurrency, "concurrency", config.DefaultConcurrency,
		"The number of resources reconciled in parallel inside a dependency level.")
	applyCmd.Flags().StringVar(&applyArgs.source, "source", "", "The URL to the source code.")
	applyCmd.Flags().StringVar(&applyArgs.revision, "revision", "", "The revision identifier.")

	rootCmd.AddCommand(applyCmd)
}

func runApplyCmd(cmd *cobra.Command, args []string) error {
	if applyArgs.inventoryName == "" {
		return fmt.Errorf("--inventory-name is required")
	}
	if applyArgs.concurrency < 1 {
		return fmt.Errorf("--concurrency must be greater than zero")
	}

	set, err := applyArgs.load(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	invStorage, err := newInventoryStorage()
	if err != nil {
		return err
	}

	newInventory, err := invStorage.GetInventory(ctx, applyArgs.inventoryName)
	if err != nil {
		if !errors.Is(err, inventory.ErrNotFound) {
			return fmt.Errorf("inventory query failed, error: %w", err)
		}
		newInventory = inventory.NewInventory(applyArgs.inventoryName)
	}
	newInventory.Source = applyArgs.source
	newInventory.Revision = applyArgs.revision

	c, err := newCloud(ctx)
	if err != nil {
		return err
	}

	identity, err := c.provider.CallerIdentity(ctx)
	if err != nil {
		return err
	}
	logger.Println(fmt.Sprintf("applying %v resource(s) to account %s in %s...",
		set.Len(), identity.Account, identity.Region))

	if cms, ok := invStorage.(*inventory.ConfigMapStorage); ok {
		if err := cms.CreateNamespace(ctx); err != nil {
			return fmt.Errorf("inventory namespace init failed, error: %w", err)
		}
	}

	resMgr := resmgr.NewResourceManager(c.provider)

	applyOpts := resmgr.DefaultApplyOptions()
	applyOpts.Concurrency = applyArgs.concurrency
	if applyArgs.wait {
		applyOpts.WaitTimeout = applyArgs.waitTimeout
	}

	changeSet, applyErr := resMgr.ApplyAll(ctx, set, newInventory, applyOpts)
	if changeSet != nil {
		for _, change := range changeSet.Entries {
			logger.Println(change.String())
		}
	}

	// record the partial progress before returning the apply error
	if err := invStorage.ApplyInventory(ctx, newInventory); err != nil {
		return fmt.Errorf("inventory apply failed, error: %w", err)
	}
	if applyErr != nil {
		return applyErr
	}

	if applyArgs.prune {
		staleEntries, err := inventory.GetInventoryStaleEntries(ctx, invStorage, declaredInventory(newInventory, set))
		if err != nil {
			return fmt.Errorf("inventory query failed, error: %w", err)
		}

		if len(staleEntries) > 0 {
			changeSet, err := resMgr.DeleteAll(ctx, staleEntries, newInventory, resmgr.DeleteOptions{
				Concurrency: applyArgs.concurrency,
			})
			if changeSet != nil {
				for _, change := range changeSet.Entries {
					logger.Println(change.String())
				}
			}
			if err := invStorage.ApplyInventory(ctx, newInventory); err != nil {
				return fmt.Errorf("inventory apply failed, error: %w", err)
			}
			if err != nil {
				return fmt.Errorf("prune failed, error: %w", err)
			}

			if applyArgs.wait {
				waitOpts := resmgr.DefaultWaitOptions()
				waitOpts.Timeout = applyArgs.waitTimeout
				if err := resMgr.WaitForTermination(ctx, staleEntries, waitOpts); err != nil {
					return fmt.Errorf("waiting for termination failed, error: %w", err)
				}
			}
		}
	}

	if applyArgs.wait {
		logger.Println("all resources are ready")
	}
	return nil
}

// declaredInventory returns a copy of the inventory holding only the
// entries of the declared resources.
func declaredInventory(inv *inventory.Inventory, set *resource.Set) *inventory.Inventory {
	declared := inv.DeepCopy()
	for _, e := range declared.DiffSet(set) {
		declared.Remove(e.ID)
	}
	return declared
}
