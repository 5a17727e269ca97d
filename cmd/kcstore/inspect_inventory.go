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
	"strings"

	"github.com/spf13/cobra"
)

var inspectInventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "Inspect prints the content of the given inventory.",
	Example: `  kcstore inspect inventory <name>

  # Print the AWS identifiers of a kubeconfig store
  kcstore inspect inv kubeconfigs
`,
	RunE: runInspectInventoryCmd,
}

func init() {
	inspectCmd.AddCommand(inspectInventoryCmd)
}

func runInspectInventoryCmd(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("you must specify an inventory name")
	}
	name := args[0]

	invStorage, err := newInventoryStorage()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	inv, err := invStorage.GetInventory(ctx, name)
	if err != nil {
		return err
	}

	cmd.Println(fmt.Sprintf("Inventory: %s", inv.Name))
	cmd.Println(fmt.Sprintf("Source: %s", inv.Source))
	cmd.Println(fmt.Sprintf("Revision: %s", inv.Revision))
	cmd.Println(fmt.Sprintf("Last applied: %s", inv.LastAppliedTime))
	cmd.Println("Entries:")

	var rows [][]string
	for _, e := range inv.Entries {
		rows = append(rows, []string{e.ID, e.PhysicalID, e.ARN, strings.Join(e.Dependencies, ",")})
	}
	printTable(cmd.OutOrStdout(), []string{"id", "physical id", "arn", "depends on"}, rows)
	return nil
}
