// cmd/cfgsync/main.go
package main

import (
	"fmt"
	"os"
	"strings"

	"cfgsync/internal/config"
	"cfgsync/internal/digest"
	"cfgsync/internal/engine"
	"cfgsync/internal/logging"
	"cfgsync/internal/patchset"
	"cfgsync/internal/tree"
	"cfgsync/internal/version"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "cfgsync",
	Short: "cfgsync diffs, patches and verifies replicated configuration documents",
	Long: `cfgsync computes the changes between two revisions of a configuration
document, encodes them as a versioned patch, and replays patches onto other
copies with version and digest checks.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.Path()
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	l, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger = l.Logger
	return nil
}

func newEngine(withDigest bool) *engine.Engine {
	return engine.New(engine.Options{
		Logger:        logger,
		ConfigSection: cfg.Patch.ConfigSection,
		WithDigest:    withDigest,
		FeatureSet:    cfg.FeatureSet,
		Lazy:          cfg.Patch.Lazy,
		Privileged:    cfg.ACL.Privileged,
	})
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (defaults to $"+config.EnvConfig+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	var diffCmd = &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Create the patch that takes OLD to NEW",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetInt("format")
			noVersion, _ := cmd.Flags().GetBool("no-version")
			withLog, _ := cmd.Flags().GetBool("log")
			prune, _ := cmd.Flags().GetBool("prune")
			withDigest := cfg.Patch.Digest
			if cmd.Flags().Changed("digest") {
				withDigest, _ = cmd.Flags().GetBool("digest")
			}
			if !cmd.Flags().Changed("format") {
				format = cfg.Patch.Format
			}

			old, err := tree.LoadFile(args[0])
			if err != nil {
				return err
			}
			cur, err := tree.LoadFile(args[1])
			if err != nil {
				return err
			}

			e := newEngine(withDigest)
			if cfg.ACL.Enforce {
				if err := e.BeginTracking(cur, cfg.ACL.User, old.Root(), true); err != nil {
					return err
				}
			}

			manage := cfg.Patch.ManageVersion && !noVersion
			p, err := e.GeneratePatch(old, cur, patchset.Format(format), manage)
			if err != nil {
				return fmt.Errorf("creating patch: %w", err)
			}
			if p == nil {
				fmt.Fprintln(os.Stderr, "No changes")
				return nil
			}
			if v1, ok := p.(*patchset.V1); ok && prune {
				v1.Prune()
			}

			if withLog {
				printPatchLog(p)
				return nil
			}
			return printPatch(p)
		},
	}
	diffCmd.Flags().IntP("format", "f", 0, "Patch format (1 or 2; 0 picks from the feature set)")
	diffCmd.Flags().Bool("no-version", false, "Require NEW to carry its own version instead of bumping it")
	diffCmd.Flags().Bool("digest", true, "Attach a digest to format 2 patches")
	diffCmd.Flags().Bool("log", false, "Print the change log instead of the patch")
	diffCmd.Flags().Bool("prune", false, "Drop unchanged leaves from format 1 patches")

	var applyCmd = &cobra.Command{
		Use:   "apply DOC PATCH",
		Short: "Apply PATCH to DOC",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			noCheck, _ := cmd.Flags().GetBool("no-version-check")
			output, _ := cmd.Flags().GetString("output")

			doc, err := tree.LoadFile(args[0])
			if err != nil {
				return err
			}
			p, err := readPatch(args[1])
			if err != nil {
				return err
			}

			if err := newEngine(cfg.Patch.Digest).ApplyPatch(doc, p, !noCheck); err != nil {
				return fmt.Errorf("applying %s: %w", patchset.Summary(p), err)
			}
			logger.Info("applied patch", zap.String("patch", patchset.Summary(p)))

			if output == "" {
				fmt.Print(doc.Root().Indented())
				return nil
			}
			return doc.WriteFile(output)
		},
	}
	applyCmd.Flags().Bool("no-version-check", false, "Apply even if the versions do not line up")
	applyCmd.Flags().StringP("output", "o", "", "Write the result to a file instead of stdout")

	var digestCmd = &cobra.Command{
		Use:   "digest DOC",
		Short: "Print the digest of DOC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := tree.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Println(digest.Of(doc))
			return nil
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version DOC",
		Short: "Print the version vector and feature set of DOC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := tree.LoadFile(args[0])
			if err != nil {
				return err
			}
			root := doc.Root()
			fmt.Printf("%s  feature_set=%s\n",
				version.FromNode(root, 0),
				root.AttrOr(version.AttrFeatureSet, "(none)"))
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log PATCH",
		Short: "Describe the changes in PATCH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := readPatch(args[0])
			if err != nil {
				return err
			}
			printPatchLog(p)
			return nil
		},
	}

	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(watchCmd())
}

func readPatch(path string) (patchset.Patchset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := patchset.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("reading patch %s: %w", path, err)
	}
	return p, nil
}

func printPatch(p patchset.Patchset) error {
	data, err := patchset.Marshal(p)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func printPatchLog(p patchset.Patchset) {
	printColoredDiff(strings.Join(patchset.Log(p), "\n"))
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	moved := color.New(color.FgYellow)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(diff, "\n") {
		if len(line) == 0 {
			fmt.Println()
			continue
		}

		switch {
		case strings.HasPrefix(line, "Diff:"):
			header.Println(line)
		case strings.HasPrefix(line, "+~"):
			moved.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
