package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dukex/leadflow/pkg/client"
	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/wire"
	cli "github.com/urfave/cli/v3"
)

var errFlowInvalid = errors.New("flow has violations")

func newClient(command *cli.Command) (*client.Client, *wire.Codec) {
	log.Setup(command.String("log-level"))

	codec := wire.NewCodec(registry.NewRegistry())

	return client.New(
		command.String("api-url"),
		codec,
		client.WithTimeout(command.Duration("timeout")),
		client.WithTokens(client.NewMemoryTokens(command.String("token"))),
		client.WithLogger(log.WithModule("cli")),
	), codec
}

func output(command *cli.Command) io.Writer {
	if w := command.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func flowID(command *cli.Command) (string, error) {
	id := command.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s: flow id is required", command.Name)
	}

	return id, nil
}

func readFlow(codec *wire.Codec, path string) (models.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to read flow file: %w", err)
	}

	return codec.Unmarshal(data)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func printViolations(w io.Writer, violations []graph.Violation) {
	for _, v := range violations {
		target := v.NodeID
		if target == "" {
			target = v.EdgeID
		}

		if target == "" {
			fmt.Fprintf(w, "  - [%s] %s\n", v.Kind, v.Message)

			continue
		}

		fmt.Fprintf(w, "  - [%s] %s: %s\n", v.Kind, target, v.Message)
	}
}

// reportRejection prints the violations of a refused activation and returns
// the error unchanged.
func reportRejection(w io.Writer, err error) error {
	var rejected *client.ActivationRejectedError
	if errors.As(err, &rejected) {
		fmt.Fprintln(w, "Activation rejected:")
		printViolations(w, rejected.Violations)
	}

	return err
}

func NewListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List stored flows",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the summaries as JSON"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			c, _ := newClient(command)

			summaries, err := c.List(ctx)
			if err != nil {
				return err
			}

			w := output(command)
			if command.Bool("json") {
				return writeJSON(w, summaries)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tACTIVE\tNODES\tEDGES\tUPDATED")

			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%s\n",
					s.ID, s.Name, s.IsActive, s.NodeCount, s.EdgeCount, s.UpdatedAt.Format("2006-01-02 15:04"))
			}

			return tw.Flush()
		},
	}
}

func NewGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print a flow document",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := flowID(command)
			if err != nil {
				return err
			}

			c, codec := newClient(command)

			flow, err := c.Load(ctx, id)
			if err != nil {
				return err
			}

			doc, err := codec.EncodeFlow(flow)
			if err != nil {
				return err
			}

			return writeJSON(output(command), doc)
		},
	}
}

func NewCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a flow from a document, or from the start/end template",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Flow document to upload"},
			&cli.StringFlag{Name: "name", Usage: "Name of the new flow"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			c, codec := newClient(command)

			flow := models.Flow{Name: "Untitled flow", Graph: graph.NewTemplate()}

			if path := command.String("file"); path != "" {
				loaded, err := readFlow(codec, path)
				if err != nil {
					return err
				}

				flow = loaded
			}

			if name := command.String("name"); name != "" {
				flow.Name = name
			}

			flow.ID = ""

			saved, err := c.Save(ctx, flow)
			if err != nil {
				return reportRejection(output(command), err)
			}

			fmt.Fprintln(output(command), saved.ID)

			return nil
		},
	}
}

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a flow document for structural violations",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remote", Usage: "Ask the API to validate instead of checking locally"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("validate: file is required")
			}

			c, codec := newClient(command)

			flow, err := readFlow(codec, path)
			if err != nil {
				return err
			}

			violations := graph.Validate(flow.Graph)

			if command.Bool("remote") {
				violations, err = c.ValidateRemote(ctx, flow)
				if err != nil {
					return err
				}
			}

			w := output(command)
			if len(violations) == 0 {
				fmt.Fprintln(w, "Flow is valid")

				return nil
			}

			fmt.Fprintf(w, "Flow has %d violation(s):\n", len(violations))
			printViolations(w, violations)

			return errFlowInvalid
		},
	}
}

func NewActivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Usage:     "Activate a stored flow",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := flowID(command)
			if err != nil {
				return err
			}

			c, _ := newClient(command)

			flow, err := c.Activate(ctx, id)
			if err != nil {
				return reportRejection(output(command), err)
			}

			fmt.Fprintf(output(command), "Flow %s is active\n", flow.ID)

			return nil
		},
	}
}

func NewDeactivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "deactivate",
		Usage:     "Deactivate a stored flow",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := flowID(command)
			if err != nil {
				return err
			}

			c, _ := newClient(command)

			flow, err := c.Deactivate(ctx, id)
			if err != nil {
				return err
			}

			fmt.Fprintf(output(command), "Flow %s is inactive\n", flow.ID)

			return nil
		},
	}
}

func NewDuplicateCommand() *cli.Command {
	return &cli.Command{
		Name:      "duplicate",
		Aliases:   []string{"cp"},
		Usage:     "Copy a flow and print the id of the copy",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := flowID(command)
			if err != nil {
				return err
			}

			c, _ := newClient(command)

			copyID, err := c.Duplicate(ctx, id)
			if err != nil {
				return err
			}

			fmt.Fprintln(output(command), copyID)

			return nil
		},
	}
}

func NewDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a stored flow",
		ArgsUsage: "<flow-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id, err := flowID(command)
			if err != nil {
				return err
			}

			c, _ := newClient(command)

			return c.Delete(ctx, id)
		},
	}
}

func NewRefdataCommand() *cli.Command {
	return &cli.Command{
		Name:  "refdata",
		Usage: "Fetch CRM and dialer reference data",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the full catalogue as JSON"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			c, _ := newClient(command)

			data := client.NewReferenceData(c)

			err := data.Refresh(ctx)
			if err != nil {
				return err
			}

			w := output(command)
			if command.Bool("json") {
				return writeJSON(w, data.Snapshot())
			}

			snapshot := data.Snapshot()
			fmt.Fprintf(w, "fields: %d\npipelines: %d\nschedulers: %d\ncampaigns: %d\nbuckets: %d\n",
				len(snapshot.Fields), len(snapshot.Pipelines), len(snapshot.Schedulers),
				len(snapshot.Campaigns), len(snapshot.Buckets))

			return nil
		},
	}
}
