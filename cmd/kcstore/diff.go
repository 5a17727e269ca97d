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

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff compares the declared resources with the live AWS resources and prints the planned actions.",
	Example: `  # Preview the changes of a kubeconfig store
  kcstore diff --bucket-name my-kubeconfigs -i kubeconfigs
`,
	RunE: runDiffCmd,
}

type diffFlags struct {
	stackFlags
	inventoryName string
}

var diffArgs diffFlags

func init() {
	diffArgs.addFlags(diffCmd)
	diffCmd.Flags().StringVarP(&diffArgs.inventoryName, "inventory-name", "i", stack.Name,
		"The name of the inventory.")

	rootCmd.AddCommand(diffCmd)
}

func runDiffCmd(cmd *cobra.Command, args []string) error {
	set, err := diffArgs.load(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	invStorage, err := newInventoryStorage()
	if err != nil {
		return err
	}

	inv, err := invStorage.GetInventory(ctx, diffArgs.inventoryName)
	if err != nil {
		if !errors.Is(err, inventory.ErrNotFound) {
			return fmt.Errorf("inventory query failed, error: %w", err)
		}
		inv = inventory.NewInventory(diffArgs.inventoryName)
	}

	c, err := newCloud(ctx)
	if err != nil {
		return err
	}

	resMgr := resmgr.NewResourceManager(c.provider)
	changeSet, err := resMgr.Diff(ctx, set, inv)
	if err != nil {
		return err
	}

	for _, change := range changeSet.Entries {
		switch change.Action {
		case string(resmgr.UnchangedAction):
			continue
		case string(resmgr.CreatedAction):
			cmd.Println(`►`, change.Subject, "will be created")
		case string(resmgr.DeletedAction):
			cmd.Println(`►`, change.Subject, "will be deleted")
		case string(resmgr.ReplacedAction):
			cmd.Println(`►`, change.Subject, "will be replaced")
			cmd.Println(change.Diff)
		default:
			cmd.Println(`►`, change.Subject, "drifted")
			cmd.Println(change.Diff)
		}
	}

	if !changeSet.HasChanges() {
		logger.Println("no changes")
	}
	return nil
}
