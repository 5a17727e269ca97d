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
	"bytes"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

// stackFlags selects the resources to reconcile, either from manifests
// or from the built-in kubeconfig store.
type stackFlags struct {
	filename   []string
	bucketName string
	tags       []string
}

func (f *stackFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.filename, "filename", "f", nil,
		"Path to resource manifest(s). If a directory is specified, then all manifests in the directory tree will be processed recursively.")
	cmd.Flags().StringVar(&f.bucketName, "bucket-name", "",
		"The name of the S3 bucket, generates the kubeconfig store resources when no manifests are given.")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil,
		"Tags in the format 'key=value' applied to the bucket and the key.")
}

// load returns the validated resource set.
func (f *stackFlags) load(stdin io.Reader) (*resource.Set, error) {
	if len(f.filename) == 0 {
		if f.bucketName == "" {
			return nil, fmt.Errorf("-f or --bucket-name is required")
		}
		tags, err := resource.ParseTags(f.tags)
		if err != nil {
			return nil, err
		}
		return stack.Kubeconfig(stack.Options{
			BucketName: f.bucketName,
			BaseTags:   tags,
		})
	}

	var items []resource.Resource
	if len(f.filename) == 1 && f.filename[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		res, err := resource.ReadObjects(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		items = res
	} else {
		manifests, err := scan(f.filename)
		if err != nil {
			return nil, err
		}
		for _, manifest := range manifests {
			res, err := readManifest(manifest)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", manifest, err)
			}
			items = append(items, res...)
		}
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no resources found in %v", f.filename)
	}

	set, err := resource.NewSet(items...)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func readManifest(name string) ([]resource.Resource, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return resource.ReadObjects(file)
}

func scan(paths []string) ([]string, error) {
	var manifests []string

	for _, in := range paths {
		fi, err := os.Stat(in)
		if err != nil {
			return nil, err
		}

		switch mode := fi.Mode(); {
		case mode.IsDir():
			m, err := scanRec(in)
			if err != nil {
				return nil, err
			}
			manifests = append(manifests, m...)
		case mode.IsRegular():
			if matchExt(fi.Name()) {
				manifests = append(manifests, in)
			}
		}
	}

	return manifests, nil
}

func scanRec(dir string) ([]string, error) {
	var manifests []string
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.IsDir() {
			m, err := scanRec(path.Join(dir, file.Name()))
			if err != nil {
				return nil, err
			}
			manifests = append(manifests, m...)
			continue
		}
		if matchExt(file.Name()) {
			manifests = append(manifests, path.Join(dir, file.Name()))
		}
	}
	return manifests, nil
}

func matchExt(f string) bool {
	ext := path.Ext(f)
	return ext == ".yaml" || ext == ".yml" || ext == ".json"
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
