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
	"time"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
)

var listKubeconfigsCmd = &cobra.Command{
	Use:     "kubeconfigs",
	Aliases: []string{"kcs"},
	Short:   "List prints the name, size, encryption and last modified time of the stored kubeconfigs.",
	RunE:    runListKubeconfigsCmd,
}

var listKubeconfigsArgs storeFlags

func init() {
	listKubeconfigsArgs.addFlags(listKubeconfigsCmd)

	listCmd.AddCommand(listKubeconfigsCmd)
}

func runListKubeconfigsCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	store, err := listKubeconfigsArgs.open(ctx, kubeconfig.Cipher{})
	if err != nil {
		return err
	}

	objects, err := store.List(ctx)
	if err != nil {
		return err
	}

	var rows [][]string
	for _, obj := range objects {
		rows = append(rows, []string{
			obj.Name,
			fmt.Sprintf("%d", obj.Size),
			fmt.Sprintf("%t", obj.Encrypted),
			obj.LastModified.UTC().Format(time.RFC3339),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"name", "size", "age encrypted", "last modified"}, rows)
	return nil
}
