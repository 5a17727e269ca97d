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

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build generates the kubeconfig store resources, or validates the given manifests, and prints the multi-doc to stdout.",
	Example: `  # Print the resources of a kubeconfig store
  kcstore build --bucket-name my-kubeconfigs --tag env=prod

  # Validate manifests and print them as JSON
  kcstore build -f ./stack/ -o json
`,
	RunE: runBuildCmd,
}

type buildFlags struct {
	stackFlags
	output string
}

var buildArgs buildFlags

func init() {
	buildArgs.addFlags(buildCmd)
	buildCmd.Flags().StringVarP(&buildArgs.output, "output", "o", "yaml",
		"Write manifests to stdout in YAML or JSON format.")

	rootCmd.AddCommand(buildCmd)
}

func runBuildCmd(cmd *cobra.Command, args []string) error {
	set, err := buildArgs.load(cmd.InOrStdin())
	if err != nil {
		return err
	}

	switch buildArgs.output {
	case "yaml":
		yml, err := resource.ObjectsToYAML(set.Items())
		if err != nil {
			return err
		}
		cmd.Println(yml)
	case "json":
		json, err := resource.ObjectsToJSON(set.Items())
		if err != nil {
			return err
		}
		cmd.Println(json)
	default:
		return fmt.Errorf("unsupported output, can be yaml or json")
	}

	return nil
}
