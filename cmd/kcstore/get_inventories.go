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
)

var getInventoriesCmd = &cobra.Command{
	Use:     "inventories",
	Aliases: []string{"invs"},
	Short:   "Get prints the name, entry count, source and last applied time of all inventories.",
	RunE:    runGetInventoriesCmd,
}

func init() {
	getCmd.AddCommand(getInventoriesCmd)
}

func runGetInventoriesCmd(cmd *cobra.Command, args []string) error {
	invStorage, err := newInventoryStorage()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	inventories, err := invStorage.ListInventories(ctx)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, inv := range inventories {
		row := []string{inv.Name, fmt.Sprintf("%v", len(inv.Entries)), inv.Source, inv.Revision, inv.LastAppliedTime}
		rows = append(rows, row)
	}

	printTable(cmd.OutOrStdout(), []string{"name", "entries", "source", "revision", "last applied"}, rows)
	return nil
}
