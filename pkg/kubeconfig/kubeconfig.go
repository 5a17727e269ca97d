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

// Package kubeconfig stores Kubernetes client configurations in the S3 bucket
// managed by kcstore.
package kubeconfig

import (
	"fmt"
	"regexp"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

var nameRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ValidateName checks that the name can be used as an object key segment.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("kubeconfig name %q is not valid, it must match %s", name, nameRegexp.String())
	}
	return nil
}

// LoadOptions controls how a kubeconfig is prepared for upload.
type LoadOptions struct {
	// Context selects the context to keep, defaults to the current context.
	Context string

	// Minify drops every cluster, user and context not used by the selected context.
	Minify bool

	// Flatten inlines the certificate and key files referenced by the config.
	Flatten bool
}

// Load parses and validates the kubeconfig, then serialises it back
// after applying the given options.
func Load(data []byte, opts LoadOptions) ([]byte, error) {
	cfg, err := clientcmd.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}

	if opts.Context != "" {
		if _, ok := cfg.Contexts[opts.Context]; !ok {
			return nil, fmt.Errorf("context %q not found in kubeconfig", opts.Context)
		}
		cfg.CurrentContext = opts.Context
	}

	if err := clientcmd.Validate(*cfg); err != nil {
		return nil, fmt.Errorf("invalid kubeconfig: %w", err)
	}

	if opts.Minify {
		if err := clientcmdapi.MinifyConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to minify kubeconfig: %w", err)
		}
	}

	if opts.Flatten {
		if err := clientcmdapi.FlattenConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to flatten kubeconfig: %w", err)
		}
	}

	return clientcmd.Write(*cfg)
}

// CurrentServer returns the API server URL of the current context.
func CurrentServer(data []byte) (string, error) {
	cfg, err := clientcmd.Load(data)
	if err != nil {
		return "", err
	}
	ctx, ok := cfg.Contexts[cfg.CurrentContext]
	if !ok {
		return "", fmt.Errorf("current context %q not found", cfg.CurrentContext)
	}
	cluster, ok := cfg.Clusters[ctx.Cluster]
	if !ok {
		return "", fmt.Errorf("cluster %q not found", ctx.Cluster)
	}
	return cluster.Server, nil
}
