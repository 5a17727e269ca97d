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
	"fmt"
	"os"
	"time"

	"github.com/fluxcd/pkg/ssa"
	"github.com/spf13/cobra"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/stefanprodan/kcstore/pkg/config"
	tracelog "github.com/stefanprodan/kcstore/pkg/logger"
)

var VERSION = "0.1.0-dev.0"

const PROJECT = "kcstore"

var rootCmd = &cobra.Command{
	Use:           PROJECT,
	Version:       VERSION,
	SilenceUsage:  true,
	SilenceErrors: true,
	Short:         "A command line utility to provision an encrypted S3 kubeconfig store and manage the kubeconfigs in it.",
	Long: `kcstore reconciles an S3 bucket and a dedicated KMS key that together store Kubernetes kubeconfigs.

Provision the store:

- kcstore build --bucket-name <name> [--tag k=v]
- kcstore diff --bucket-name <name> [--tag k=v]
- kcstore apply --bucket-name <name> [--tag k=v] --prune --wait

Manage the provisioned resources:

- kcstore get inventories
- kcstore inspect inventory <name>
- kcstore delete inventory <name>

Store kubeconfigs:

- kcstore push kubeconfig <name> --kubeconfig-file <path> [--context] [--minify] [--age-recipients]
- kcstore pull kubeconfig <name> [-o <path>] [--age-identities]
- kcstore list kubeconfigs
- kcstore delete kubeconfig <name>
`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindEnv(cmd); err != nil {
			return err
		}
		if rootArgs.logLevel != "" {
			return tracelog.SetLevelFromString(rootArgs.logLevel)
		}
		return nil
	},
}

type rootFlags struct {
	timeout          time.Duration
	logLevel         string
	region           string
	profile          string
	endpoint         string
	pathStyle        bool
	inventoryStorage string
}

var (
	rootArgs       = rootFlags{}
	logger         = stderrLogger{stderr: os.Stderr}
	cfg            = config.NewConfig()
	inventoryOwner = ssa.Owner{
		Field: cfg.FieldManager.Name,
		Group: cfg.FieldManager.Group,
	}
)

var kubeconfigArgs = genericclioptions.NewConfigFlags(false)

func init() {
	rootCmd.PersistentFlags().DurationVar(&rootArgs.timeout, "timeout", 10*time.Minute,
		"The length of time to wait before giving up on the current operation.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.logLevel, "log-level", "",
		"The level of the API call trace logs written to stderr, one of debug, info, warn, error.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.region, "region", "",
		"The AWS region, defaults to the AWS SDK configuration.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.profile, "profile", "",
		"The AWS shared config profile.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.endpoint, "endpoint", "",
		"Override the AWS service endpoint, e.g. 'http://localhost:4566' for LocalStack.")
	rootCmd.PersistentFlags().BoolVar(&rootArgs.pathStyle, "path-style", false,
		"Use path style S3 addressing.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.inventoryStorage, "inventory-storage", config.FileStorage,
		"Where to keep the inventories, 'file' for '$HOME/.kcstore/inventories' or 'configmap' for a Kubernetes cluster.")

	kubeconfigArgs.Timeout = nil
	kubeconfigArgs.Namespace = nil
	kubeconfigArgs.AddFlags(rootCmd.PersistentFlags())

	defaultNamespace := config.DefaultNamespace
	kubeconfigArgs.Namespace = &defaultNamespace
	rootCmd.PersistentFlags().StringVarP(kubeconfigArgs.Namespace, "namespace", "n", *kubeconfigArgs.Namespace,
		"The namespace of the inventory ConfigMaps when using the configmap storage.")

	rootCmd.DisableAutoGenTag = true
	rootCmd.SetOut(os.Stdout)
}

func main() {
	loadConfig("")
	if err := rootCmd.Execute(); err != nil {
		logger.Println(`✗`, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and uses its values as flag defaults.
func loadConfig(path string) {
	if c, err := config.Read(path); err != nil {
		logger.Println(`✗`, fmt.Errorf("loading the config failed, error: %w", err))
	} else {
		cfg = c
	}

	inventoryOwner = ssa.Owner{
		Field: cfg.FieldManager.Name,
		Group: cfg.FieldManager.Group,
	}
}
