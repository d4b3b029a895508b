/*
Copyright 2022 The Numaproj Authors.

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

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/numaproj/numaslice/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	var configPath string
	command := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, defaults merged with the file and NUMASLICE_ environment variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(conf)
			if err != nil {
				return fmt.Errorf("failed to marshal the configuration, %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	command.Flags().StringVar(&configPath, "config", "", "Path of the YAML configuration")
	return command
}
