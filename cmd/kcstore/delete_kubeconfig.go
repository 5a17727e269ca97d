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

	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
)

var deleteKubeconfigCmd = &cobra.Command{
	Use:     "kubeconfig [name]",
	Aliases: []string{"kc"},
	Short:   "Delete removes a kubeconfig from the store bucket, previous versions are kept by the bucket versioning.",
	RunE:    runDeleteKubeconfigCmd,
}

var deleteKubeconfigArgs storeFlags

func init() {
	deleteKubeconfigArgs.addFlags(deleteKubeconfigCmd)

	deleteCmd.AddCommand(deleteKubeconfigCmd)
}

func runDeleteKubeconfigCmd(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("you must specify a kubeconfig name")
	}
	name := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	store, err := deleteKubeconfigArgs.open(ctx, kubeconfig.Cipher{})
	if err != nil {
		return err
	}

	if err := store.Delete(ctx, name); err != nil {
		return err
	}
	logger.Println("kubeconfig", name, "deleted")
	return nil
}
