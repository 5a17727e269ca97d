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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/resmgr"
)

var deleteInventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "Delete the AWS resources recorded in the specified inventory including the inventory storage.",
	Example: `  kcstore delete inventory <inventory name>

  # Delete a kubeconfig store and the objects stored in its bucket
  kcstore delete inv kubeconfigs --wait
`,
	RunE: deleteInventoryCmdRun,
}

type deleteInventoryFlags struct {
	wait        bool
	concurrency int
}

var deleteInventoryArgs deleteInventoryFlags

func init() {
	deleteInventoryCmd.Flags().BoolVar(&deleteInventoryArgs.wait, "wait", true,
		"Wait for the deleted AWS resources to be terminated.")
	deleteInventoryCmd.Flags().IntVar(&deleteInventoryArgs.concurrency, "concurrency", resmgr.DefaultDeleteOptions().Concurrency,
		"The number of resources deleted in parallel.")

	deleteCmd.AddCommand(deleteInventoryCmd)
}

func deleteInventoryCmdRun(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("you must specify an inventory name")
	}
	name := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	logger.Println("retrieving inventory...")

	invStorage, err := newInventoryStorage()
	if err != nil {
		return err
	}

	inv, err := invStorage.GetInventory(ctx, name)
	if err != nil {
		return err
	}

	c, err := newCloud(ctx)
	if err != nil {
		return err
	}

	entries := append(inv.Entries[:0:0], inv.Entries...)
	logger.Println(fmt.Sprintf("deleting %v resource(s)...", len(entries)))

	resMgr := resmgr.NewResourceManager(c.provider)
	changeSet, err := resMgr.DeleteAll(ctx, entries, inv, resmgr.DeleteOptions{
		Concurrency: deleteInventoryArgs.concurrency,
	})
	if changeSet != nil {
		for _, change := range changeSet.Entries {
			logger.Println(change.String())
		}
	}
	if err != nil {
		if applyErr := invStorage.ApplyInventory(ctx, inv); applyErr != nil {
			logger.Println(`✗`, applyErr)
		}
		return fmt.Errorf("deleting resources failed, error: %w", err)
	}

	if deleteInventoryArgs.wait {
		logger.Println("waiting for resources to be terminated...")
		waitOpts := resmgr.DefaultWaitOptions()
		waitOpts.Timeout = rootArgs.timeout
		if err := resMgr.WaitForTermination(ctx, entries, waitOpts); err != nil {
			return fmt.Errorf("waiting for termination failed, error: %w", err)
		}
		logger.Println("all resources have been deleted")
	}

	if err := invStorage.DeleteInventory(ctx, name); err != nil {
		return fmt.Errorf("deleting inventory failed, error: %w", err)
	}
	logger.Println("inventory", name, "deleted")
	return nil
}
