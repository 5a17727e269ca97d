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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
)

var pushKubeconfigCmd = &cobra.Command{
	Use:     "kubeconfig [name]",
	Aliases: []string{"kc"},
	Short:   "Push validates a kubeconfig and uploads it encrypted with the store KMS key.",
	Long: `The push command validates the kubeconfig, inlines the certificate files it references
and uploads it to the store bucket with server-side encryption using the store KMS key.
When age recipients are given, the kubeconfig is also encrypted client-side.`,
	Example: `  # Push the current context of the default kubeconfig
  kcstore push kubeconfig prod-eu --kubeconfig-file ~/.kube/config --minify

  # Push a kubeconfig read from stdin and encrypt it with age
  kind get kubeconfig | kcstore push kc dev --kubeconfig-file - --age-recipients ./recipients.txt
`,
	RunE: runPushKubeconfigCmd,
}

type pushKubeconfigFlags struct {
	storeFlags
	file          string
	context       string
	minify        bool
	flatten       bool
	ageRecipients string
}

var pushKubeconfigArgs pushKubeconfigFlags

func init() {
	pushKubeconfigArgs.storeFlags.addFlags(pushKubeconfigCmd)
	pushKubeconfigCmd.Flags().StringVar(&pushKubeconfigArgs.file, "kubeconfig-file", "",
		"Path to the kubeconfig file, use '-' to read from stdin.")
	pushKubeconfigCmd.Flags().StringVar(&pushKubeconfigArgs.context, "kube-context", "",
		"The context to select as current, defaults to the current context of the file.")
	pushKubeconfigCmd.Flags().BoolVar(&pushKubeconfigArgs.minify, "minify", false,
		"Remove the clusters, users and contexts not used by the selected context.")
	pushKubeconfigCmd.Flags().BoolVar(&pushKubeconfigArgs.flatten, "flatten", true,
		"Inline the certificate and key files referenced by the kubeconfig.")
	pushKubeconfigCmd.Flags().StringVar(&pushKubeconfigArgs.ageRecipients, "age-recipients", "",
		"Path to a file with age recipients, one per line.")

	pushCmd.AddCommand(pushKubeconfigCmd)
}

func runPushKubeconfigCmd(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("you must specify a kubeconfig name")
	}
	name := args[0]
	if err := kubeconfig.ValidateName(name); err != nil {
		return err
	}
	if pushKubeconfigArgs.file == "" {
		return fmt.Errorf("--kubeconfig-file is required")
	}

	var data []byte
	var err error
	if pushKubeconfigArgs.file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(pushKubeconfigArgs.file)
	}
	if err != nil {
		return err
	}

	data, err = kubeconfig.Load(data, kubeconfig.LoadOptions{
		Context: pushKubeconfigArgs.context,
		Minify:  pushKubeconfigArgs.minify,
		Flatten: pushKubeconfigArgs.flatten,
	})
	if err != nil {
		return err
	}

	cipher, err := kubeconfig.LoadCipher(pushKubeconfigArgs.ageRecipients, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), rootArgs.timeout)
	defer cancel()

	store, err := pushKubeconfigArgs.open(ctx, cipher)
	if err != nil {
		return err
	}

	if server, err := kubeconfig.CurrentServer(data); err == nil {
		logger.Println("pushing", name, "for", server)
	}

	obj, err := store.Push(ctx, name, data)
	if err != nil {
		return err
	}

	logger.Println("pushed", fmt.Sprintf("s3://%s/%s", store.Bucket, obj.Key), "version", obj.VersionID)
	return nil
}
