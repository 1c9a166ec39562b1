package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/glimte/mmate-schema/catalog"
	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/health"
	"github.com/glimte/mmate-schema/messaging"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/serialization"
)

type options struct {
	catalogPath string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "mmate-registry",
		Short: "Inspect a message schema catalog",
		Long: `mmate-registry loads a YAML catalog of versioned message types and lets you
list and describe them, validate envelopes and cast payloads between versions.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.catalogPath, "catalog", "c", "catalog.yaml", "Path to the YAML catalog")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		newListCmd(opts),
		newDescribeCmd(opts),
		newValidateCmd(opts),
		newCastCmd(opts),
		newKeyCmd(),
		newCheckCmd(opts),
	)
	return rootCmd
}

// load declares the catalog into a fresh registry
func (o *options) load(cmd *cobra.Command) (*registry.Registry, error) {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cat, err := catalog.Load(o.catalogPath)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.WithLogger(logger))
	if _, err := cat.Declare(reg); err != nil {
		return nil, fmt.Errorf("failed to declare catalog: %w", err)
	}
	return reg, nil
}

func newListCmd(opts *options) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared types",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			var filter contracts.Kind
			if kind != "" {
				if filter, err = contracts.ParseKind(kind); err != nil {
					return err
				}
			}

			var rows [][]string
			for _, key := range reg.List(filter) {
				rec, err := reg.Lookup(key)
				if err != nil {
					return err
				}
				rows = append(rows, []string{key.String(), string(rec.Kind), versionList(rec)})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No types declared"))
				return nil
			}
			printTable(out, []string{"TYPE", "KIND", "VERSIONS"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only list this kind (event or command)")
	return cmd
}

func versionList(rec registry.Record) string {
	if rec.Simple {
		return "simple"
	}
	versions := rec.VersionNumbers()
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func newDescribeCmd(opts *options) *cobra.Command {
	var examples int

	cmd := &cobra.Command{
		Use:   "describe <type>",
		Short: "Show a type's versions and their shapes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			key, err := contracts.ParseTypeKey(args[0])
			if err != nil {
				return err
			}
			rec, err := reg.Lookup(key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(rec.Key.String())+" "+mutedStyle.Render("("+string(rec.Kind)+")"))
			if rec.Doc != "" {
				fmt.Fprintln(out, rec.Doc)
			}

			for _, entry := range rec.Versions() {
				versioned, err := contracts.VersionedKey(rec.Kind, entry.Version, rec.Key)
				if err != nil {
					return err
				}

				var b strings.Builder
				fmt.Fprintf(&b, "%s\n", headerStyle.Render(versioned.String()))
				if entry.Doc != "" {
					fmt.Fprintf(&b, "%s\n", entry.Doc)
				}
				if shape, ok := entry.Shape.(*schema.Shape); ok {
					doc, err := json.MarshalIndent(shape.JSONSchema(), "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintf(&b, "%s\n", doc)
				}
				if ex, ok := entry.Shape.(schema.Exampler); ok && examples > 0 {
					for _, sample := range ex.Examples(examples) {
						line, err := json.Marshal(sample)
						if err != nil {
							return err
						}
						fmt.Fprintf(&b, "%s %s\n", mutedStyle.Render("example:"), line)
					}
				}
				fmt.Fprintln(out, cardStyle.Render(strings.TrimRight(b.String(), "\n")))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&examples, "examples", "e", 0, "Number of example payloads to print per version")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	var payloadOnly bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an envelope (or a bare payload) read from a JSON file, - for stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var env *contracts.Envelope
			if payloadOnly {
				var payload contracts.Payload
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("failed to parse payload: %w", err)
				}
				env = &contracts.Envelope{ID: uuid.New(), Payload: payload}
			} else {
				env, err = serialization.NewJSONSerializer().DeserializeEnvelope(data)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			err = messaging.NewValidator(reg).ValidateEnvelope(context.Background(), env)
			if err == nil {
				key, _ := env.TypeKey()
				fmt.Fprintln(out, okStyle.Render("valid")+" "+key.String())
				return nil
			}

			if verr, ok := schema.AsValidationError(err); ok {
				fmt.Fprintln(out, errorStyle.Render("invalid")+" "+mutedStyle.Render("("+string(verr.Cause)+")"))
				for _, v := range verr.Violations {
					fmt.Fprintf(out, "  %s %s\n", warnStyle.Render(v.Code), v.String())
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&payloadOnly, "payload", "p", false, "The file holds a bare payload instead of an envelope")
	return cmd
}

func newCastCmd(opts *options) *cobra.Command {
	var from, to int

	cmd := &cobra.Command{
		Use:   "cast <type> <file>",
		Short: "Cast a JSON payload between two versions of a type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			key, err := contracts.ParseTypeKey(args[0])
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}

			var payload contracts.Payload
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("failed to parse payload: %w", err)
			}

			cast, err := reg.Cast(key, payload, from, to)
			if err != nil {
				return err
			}

			doc, err := json.MarshalIndent(cast, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "Version of the input payload")
	cmd.Flags().IntVar(&to, "to", 0, "Version to cast to")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newKeyCmd() *cobra.Command {
	var kind string
	var v int

	cmd := &cobra.Command{
		Use:   "key <type>",
		Short: "Build a versioned key, or split one into its parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := contracts.ParseTypeKey(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if kv, ok := contracts.Destructure(key); ok {
				printTable(out, []string{"BASE", "KIND", "VERSION"}, [][]string{
					{kv.Base.String(), string(kv.Kind), strconv.Itoa(kv.Version)},
				})
				return nil
			}

			k, err := contracts.ParseKind(kind)
			if err != nil {
				return err
			}
			versioned, err := contracts.VersionedKey(k, v, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, versioned.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "event", "Kind for the versioned key")
	cmd.Flags().IntVar(&v, "version", 1, "Version for the versioned key")
	return cmd
}

func newCheckCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify every declared version chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			checks := health.NewRegistry()
			checks.SetMetadata("catalog", opts.catalogPath)
			checks.Register(health.NewRegistryChecker(reg))
			report := checks.Check(context.Background())
			out := cmd.OutOrStdout()

			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
				fmt.Fprintln(out, string(data))
			} else {
				for _, name := range checks.Names() {
					result := report.Checks[name]
					style := okStyle
					switch result.Status {
					case health.StatusDegraded:
						style = warnStyle
					case health.StatusUnhealthy:
						style = errorStyle
					}
					fmt.Fprintln(out, style.Render(string(result.Status))+" "+result.Message)
				}
			}

			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("registry is unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full health report as JSON")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
