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

	corev1 "k8s.io/api/core/v1"
	apiruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/stefanprodan/kcstore/pkg/config"
	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
	awsprovider "github.com/stefanprodan/kcstore/pkg/provider/aws"
)

func newScheme() *apiruntime.Scheme {
	scheme := apiruntime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	return scheme
}

var newKubeClient = func(rcg genericclioptions.RESTClientGetter) (client.Client, error) {
	cfg, err := newKubeConfig(rcg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client initialization failed: %w", err)
	}

	kubeClient, err := client.New(cfg, client.Options{
		Scheme: newScheme(),
	})
	if err != nil {
		return nil, fmt.Errorf("kubernetes client initialization failed: %w", err)
	}

	return kubeClient, nil
}

func newKubeConfig(rcg genericclioptions.RESTClientGetter) (*rest.Config, error) {
	cfg, err := rcg.ToRESTConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig load failed: %w", err)
	}

	cfg.QPS = 50
	cfg.Burst = 100

	return cfg, nil
}

// cloud holds the AWS clients of a single account and region.
type cloud struct {
	provider *awsprovider.Provider
	objects  kubeconfig.ObjectAPI
}

var newCloud = func(ctx context.Context) (*cloud, error) {
	clients, err := awsprovider.NewClients(ctx, awsprovider.Config{
		Region:       rootArgs.region,
		Profile:      rootArgs.profile,
		Endpoint:     rootArgs.endpoint,
		UsePathStyle: rootArgs.pathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS client init failed: %w", err)
	}

	return &cloud{
		provider: awsprovider.NewProvider(clients),
		objects:  clients.S3,
	}, nil
}

func newInventoryStorage() (inventory.Storage, error) {
	switch rootArgs.inventoryStorage {
	case config.FileStorage:
		dir := cfg.Inventory.Dir
		if dir == "" {
			d, err := inventory.DefaultFileStorageDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
		return &inventory.FileStorage{Dir: dir}, nil
	case config.ConfigMapStorage:
		if kubeconfigArgs.Namespace == nil || *kubeconfigArgs.Namespace == "" {
			return nil, fmt.Errorf("you must specify an inventory namespace")
		}
		kubeClient, err := newKubeClient(kubeconfigArgs)
		if err != nil {
			return nil, fmt.Errorf("client init failed: %w", err)
		}
		return &inventory.ConfigMapStorage{
			Client:    kubeClient,
			Owner:     inventoryOwner,
			Namespace: *kubeconfigArgs.Namespace,
		}, nil
	default:
		return nil, fmt.Errorf("inventory storage %q is not supported, must be '%s' or '%s'",
			rootArgs.inventoryStorage, config.FileStorage, config.ConfigMapStorage)
	}
}
