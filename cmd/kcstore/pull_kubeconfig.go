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
	"os"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
)

var pullKubeconfigCmd = &cobra.Command{
	Use:     "kubeconfig [name]",
	Aliases: []string{"kc"},
	Short:   "Pull downloads a kubeconfig and writes it to stdout or to a file.",
	Example: `  # Print a kubeconfig
  kcstore pull kubeconfig prod-eu

  # Decrypt an age encrypted kubeconfig and write it to a file
  kcstore pull kc dev --age-identities ~/.age/key.txt -o ./dev.yaml
`,
	RunE: runPullKubeconfigCmd,
}

type pullKubeconfigFlags struct {
	storeFlags
	output        string
	ageIdentities string
}

var pullKubeconfigArgs pullKubeconfigFlags

func init() {
	pullKubeconfigArgs.storeFlags.addFlags(pullKubeconfigCmd)
	pullKubeconfigCmd.Flags().StringVarP(&pullKubeconfigArgs.output, "output", "o", "",
		"Path to write the kubeconfig to, defaults to stdout.")
	pullKubeconfigCmd.Flags().StringVar(&pullKubeconfigArgs.ageIdentities, "age-identities", "",
		"Path to a file with age identities used to decrypt the kubeconfig.")

	pullCmd.AddCommand(pullKubeconfigCmd)
}

func runPullKubeconfigCmd(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("you must specify a kubeconfig name")
	}
	name := args[0]

	cipher, err := kubeconfig.LoadCipher("", pullKubeconfigArgs.ageIdentities)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	store, err := pullKubeconfigArgs.open(ctx, cipher)
	if err != nil {
		return err
	}

	data, obj, err := store.Pull(ctx, name)
	if err != nil {
		return err
	}

	if pullKubeconfigArgs.output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(pullKubeconfigArgs.output, data, 0o600); err != nil {
		return err
	}
	logger.Println("pulled", name, "version", obj.VersionID, "to", pullKubeconfigArgs.output)
	return nil
}
