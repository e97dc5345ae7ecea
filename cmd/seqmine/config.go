package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	seqerr "github.com/logflow/seqmine/pkg/errors"
	"github.com/logflow/seqmine/pkg/pipeline"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or check the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return seqerr.Wrap(err, seqerr.CodeWriteFailed, "encoding config")
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}, &cobra.Command{
		Use:   "validate",
		Short: "Validate the merged configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pipeline.FromConfig(a.cfg)
			if err != nil {
				return err
			}
			a.printf("ok: %d segment templates, %d growth templates, %d iterations, granularity %s\n",
				len(opts.Segment.Templates), opts.Growth.Templates.Len(), opts.Generations,
				opts.Segment.Granularity)
			return nil
		},
	})
	return cmd
}
