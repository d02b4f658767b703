package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/cli/cli/command/formatter/tabwriter"
	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func loadManifest(path string) (*service.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m := &service.Manifest{}

	err = yaml.Unmarshal(data, m)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	return m, nil
}

func printDDL(out io.Writer, s service.RoutineService, m *service.Manifest) error {
	routines, err := s.Plan(m)
	if err != nil {
		return err
	}

	for _, r := range routines {
		ddl, err := s.DDL(r)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintf(out, "%s;\n\n", ddl)
	}

	return nil
}

func printRoutines(out io.Writer, routines []*service.Routine) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "Routine\tFunction\tArguments\tReturns\tEndpoint")

	for _, r := range routines {
		args := make([]string, len(r.Arguments))
		for i, a := range r.Arguments {
			args[i] = string(a.Type)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.FullyQualifiedName(), r.Function, strings.Join(args, ","), r.ReturnType, r.Endpoint)
	}

	return w.Flush()
}

func newDDLCommand(opts *globalOptions) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the CREATE FUNCTION statements for a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}

			return printDDL(cmd.OutOrStdout(), opts.routineService(), m)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "manifest.yaml", "Path to the manifest")

	return cmd
}

func newDeployCommand(opts *globalOptions) *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or replace the routines of a manifest in BigQuery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}

			routines, err := opts.routineService().Deploy(cmd.Context(), m)
			if err != nil {
				return err
			}

			return printRoutines(cmd.OutOrStdout(), routines)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "manifest.yaml", "Path to the manifest")

	return cmd
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var project, dataset string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the remote functions of a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			routines, err := opts.routineService().List(cmd.Context(), project, dataset)
			if err != nil {
				return err
			}

			return printRoutines(cmd.OutOrStdout(), routines)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project")
	cmd.Flags().StringVar(&dataset, "dataset", "", "BigQuery dataset")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func newDeleteCommand(opts *globalOptions) *cobra.Command {
	var project, dataset, name string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a remote function routine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := opts.routineService().Delete(cmd.Context(), project, dataset, name)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s.%s.%s\n", project, dataset, name)

			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "GCP project")
	cmd.Flags().StringVar(&dataset, "dataset", "", "BigQuery dataset")
	cmd.Flags().StringVar(&name, "name", "", "Routine id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
