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

package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fluxcd/pkg/ssa"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/json"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

const (
	InventoryKindName = "inventory"
	InventoryPrefix   = "inv-"
	nameLabelKey      = "app.kubernetes.io/name"
	componentLabelKey = "app.kubernetes.io/component"
	createdByLabelKey = "app.kubernetes.io/created-by"
)

// ErrNotFound is returned when the inventory does not exist in storage.
var ErrNotFound = errors.New("inventory not found")

// Storage persists inventories between runs.
type Storage interface {
	// ApplyInventory creates or updates the storage object for the given inventory.
	ApplyInventory(ctx context.Context, inv *Inventory) error

	// GetInventory retrieves the inventory with the given name, returns ErrNotFound if missing.
	GetInventory(ctx context.Context, name string) (*Inventory, error)

	// DeleteInventory removes the storage object, deleting a missing inventory is a no-op.
	DeleteInventory(ctx context.Context, name string) error

	// ListInventories returns all the stored inventories sorted by name.
	ListInventories(ctx context.Context) ([]*Inventory, error)
}

// GetInventoryStaleEntries returns the entries of the stored inventory
// that are not part of the given one, and are subject to pruning.
func GetInventoryStaleEntries(ctx context.Context, storage Storage, inv *Inventory) ([]Entry, error) {
	existing, err := storage.GetInventory(ctx, inv.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Entry{}, nil
		}
		return nil, err
	}
	return existing.Diff(inv), nil
}

// ConfigMapStorage manages the Inventory in-cluster storage.
type ConfigMapStorage struct {
	Client    client.Client
	Owner     ssa.Owner
	Namespace string
}

// GetOwnerLabels returns the inventory storage common labels.
func (m *ConfigMapStorage) GetOwnerLabels() client.MatchingLabels {
	return client.MatchingLabels{
		componentLabelKey: InventoryKindName,
		createdByLabelKey: m.Owner.Field,
	}
}

// CreateNamespace creates the inventory namespace if not present.
func (m *ConfigMapStorage) CreateNamespace(ctx context.Context) error {
	ns := &corev1.Namespace{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Namespace",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: m.Namespace,
			Labels: map[string]string{
				createdByLabelKey: m.Owner.Field,
			},
		},
	}

	if err := m.Client.Get(ctx, client.ObjectKeyFromObject(ns), ns); err != nil {
		if apierrors.IsNotFound(err) {
			return m.Client.Create(ctx, ns, client.FieldOwner(m.Owner.Field))
		}
		return err
	}

	return nil
}

func (m *ConfigMapStorage) ApplyInventory(ctx context.Context, inv *Inventory) error {
	data, err := json.Marshal(inv.Entries)
	if err != nil {
		return err
	}

	cm := m.newConfigMap(inv.Name)
	_, err = controllerutil.CreateOrUpdate(ctx, m.Client, cm, func() error {
		cm.Labels = m.newConfigMap(inv.Name).Labels
		cm.Annotations = map[string]string{}
		if inv.LastAppliedTime != "" {
			cm.Annotations[m.Owner.Group+"/last-applied-time"] = inv.LastAppliedTime
		}
		if inv.Source != "" {
			cm.Annotations[m.Owner.Group+"/source"] = inv.Source
		}
		if inv.Revision != "" {
			cm.Annotations[m.Owner.Group+"/revision"] = inv.Revision
		}
		cm.Data = map[string]string{
			InventoryKindName: string(data),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply ConfigMap/%s/%s, error: %w", m.Namespace, cm.Name, err)
	}
	return nil
}

func (m *ConfigMapStorage) GetInventory(ctx context.Context, name string) (*Inventory, error) {
	cm := m.newConfigMap(name)

	cmKey := client.ObjectKeyFromObject(cm)
	if err := m.Client.Get(ctx, cmKey, cm); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("ConfigMap/%s: %w", cmKey, ErrNotFound)
		}
		return nil, err
	}

	return m.fromConfigMap(cm)
}

func (m *ConfigMapStorage) DeleteInventory(ctx context.Context, name string) error {
	cm := m.newConfigMap(name)

	cmKey := client.ObjectKeyFromObject(cm)
	err := m.Client.Delete(ctx, cm)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete ConfigMap/%s, error: %w", cmKey, err)
	}
	return nil
}

func (m *ConfigMapStorage) ListInventories(ctx context.Context) ([]*Inventory, error) {
	list := &corev1.ConfigMapList{}
	if err := m.Client.List(ctx, list, client.InNamespace(m.Namespace), m.GetOwnerLabels()); err != nil {
		return nil, err
	}

	result := make([]*Inventory, 0, len(list.Items))
	for i := range list.Items {
		inv, err := m.fromConfigMap(&list.Items[i])
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *ConfigMapStorage) fromConfigMap(cm *corev1.ConfigMap) (*Inventory, error) {
	cmKey := client.ObjectKeyFromObject(cm)
	if _, ok := cm.Data[InventoryKindName]; !ok {
		return nil, fmt.Errorf("inventory data not found in ConfigMap/%s", cmKey)
	}

	inv := NewInventory(cm.Labels[nameLabelKey])
	if err := json.Unmarshal([]byte(cm.Data[InventoryKindName]), &inv.Entries); err != nil {
		return nil, fmt.Errorf("inventory data in ConfigMap/%s is invalid: %w", cmKey, err)
	}

	for k, v := range cm.GetAnnotations() {
		switch k {
		case m.Owner.Group + "/source":
			inv.Source = v
		case m.Owner.Group + "/revision":
			inv.Revision = v
		case m.Owner.Group + "/last-applied-time":
			inv.LastAppliedTime = v
		}
	}

	return inv, nil
}

func (m *ConfigMapStorage) newConfigMap(name string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      InventoryPrefix + name,
			Namespace: m.Namespace,
			Labels: map[string]string{
				nameLabelKey:      name,
				componentLabelKey: InventoryKindName,
				createdByLabelKey: m.Owner.Field,
			},
		},
	}
}
