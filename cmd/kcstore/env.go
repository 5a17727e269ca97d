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
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "KCSTORE"

// bindEnv fills the flags that were not set on the command line from the
// KCSTORE_* environment variables, then from the config file.
// A flag named 'bucket-name' maps to KCSTORE_BUCKET_NAME.
func bindEnv(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range configDefaults() {
		v.SetDefault(key, value)
	}

	var errs []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if err := sv.Replace(v.GetStringSlice(f.Name)); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
			}
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("invalid flag values from environment: %s", strings.Join(errs, ", "))
	}
	return nil
}

// configDefaults maps flag names to the non-empty values of the config file.
func configDefaults() map[string]interface{} {
	defaults := map[string]interface{}{}
	set := func(key string, value interface{}) {
		switch v := value.(type) {
		case string:
			if v == "" {
				return
			}
		case []string:
			if len(v) == 0 {
				return
			}
		}
		defaults[key] = value
	}

	set("region", cfg.AWS.Region)
	set("profile", cfg.AWS.Profile)
	set("endpoint", cfg.AWS.Endpoint)
	if cfg.AWS.UsePathStyle {
		set("path-style", "true")
	}
	set("bucket-name", cfg.Bucket.Name)
	if len(cfg.Bucket.Tags) > 0 {
		var tags []string
		for _, k := range cfg.Bucket.Tags.Keys() {
			tags = append(tags, k+"="+cfg.Bucket.Tags[k])
		}
		set("tag", tags)
	}
	set("inventory-storage", cfg.Inventory.Storage)
	set("namespace", cfg.Inventory.Namespace)
	set("concurrency", fmt.Sprintf("%d", cfg.Apply.Concurrency))
	if cfg.Apply.WaitTimeout.Duration > 0 {
		set("wait-timeout", cfg.Apply.WaitTimeout.Duration.String())
	}
	return defaults
}
