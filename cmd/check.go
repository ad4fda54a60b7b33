package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schemalign/schemalign/internal/diff"
	"github.com/schemalign/schemalign/internal/dispatch"
	"github.com/schemalign/schemalign/internal/fixer"
	"github.com/schemalign/schemalign/internal/report"
	"github.com/schemalign/schemalign/internal/risk"
	"github.com/schemalign/schemalign/internal/schema"
	"github.com/schemalign/schemalign/internal/selection"
)

// Exit code when the target database holds no tables at all.
const exitNotInitialised = 2

var (
	checkTables     string
	checkExclude    string
	checkRisky      bool
	checkFix        string
	checkReportPath string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the declared schema with the live database",
	Long: `Check compares the declared schema against the live database and prints
one line per discrepancy with its repair safety. With --fix, discrepancies
of the requested safety levels are repaired in place.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkTables, "tables", "t", "", "comma-separated table names or * globs to check")
	checkCmd.Flags().StringVarP(&checkExclude, "exclude", "e", "", "comma-separated table names or * globs to skip")
	checkCmd.Flags().BoolVarP(&checkRisky, "check-risky", "c", false, "probe data to resolve risky findings")
	checkCmd.Flags().StringVarP(&checkFix, "fix", "f", "", "repair findings of these safety levels (safe,dbindex,unsafe)")
	checkCmd.Flags().StringVar(&checkReportPath, "report", "", "write a JSON report to this path")
	rootCmd.AddCommand(checkCmd)
}

// parseFixLevels validates the --fix argument. The risky level is not
// acceptable here: risky findings become safe, unsafe or unfixable through
// --check-risky first.
func parseFixLevels(value string) (map[diff.Safety]bool, error) {
	levels := make(map[diff.Safety]bool)
	for _, name := range selection.SplitList(value) {
		if name == "risky" {
			return nil, fmt.Errorf("--fix=risky is not accepted; use --check-risky to resolve risky findings first")
		}
		s, err := diff.ParseSafety(name)
		if err != nil {
			return nil, err
		}
		if s != diff.Safe && s != diff.DBIndex && s != diff.Unsafe {
			return nil, fmt.Errorf("--fix does not accept level %q", name)
		}
		levels[s] = true
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("--fix requires at least one of safe, dbindex, unsafe")
	}
	return levels, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var fixLevels map[diff.Safety]bool
	if checkFix != "" {
		var err error
		if fixLevels, err = parseFixLevels(checkFix); err != nil {
			return err
		}
	}

	env, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer env.Adapter.Close()

	structure, err := schema.LoadFile(env.Config.SchemaFile)
	if err != nil {
		return err
	}

	liveTables, err := env.Adapter.Tables(ctx)
	if err != nil {
		return err
	}
	if len(liveTables) == 0 {
		fmt.Fprintln(os.Stderr, "the database has not been initialised")
		os.Exit(exitNotInitialised)
	}

	opts := diff.DefaultOptions()
	if opts.Limit, opts.Exclude, err = resolveSelections(structure, liveTables); err != nil {
		return err
	}

	engine := diff.New(env.Adapter, env.Generator)
	result, err := engine.Check(ctx, structure, opts)
	if err != nil {
		return err
	}

	evaluator := risk.New(env.Adapter, env.Generator)
	if checkRisky {
		if err := evaluator.EvaluateRisky(ctx, result); err != nil {
			return err
		}
	}

	printResult(result)

	resolved := 0
	if fixLevels != nil {
		dispatcher := dispatch.New(env.Adapter, env.Generator, env.Log)
		fix := fixer.New(env.Adapter, env.Generator, dispatcher, evaluator, env.Log, os.Stdout)
		resolved, err = fix.Fix(ctx, result, fixLevels)
		if err != nil {
			return err
		}
		if resolved > 0 {
			fmt.Printf("%d schema issues were resolved.\n", resolved)
		} else {
			fmt.Println("No schema issues were resolved.")
		}
	}

	if checkReportPath != "" {
		r := report.Generate(version, env.Config.Database.Database, env.Config.Database.Type, result, resolved)
		if err := report.WriteJSON(r, checkReportPath); err != nil {
			return err
		}
	}
	return nil
}

// resolveSelections expands -t and -e patterns against the union of declared
// and live table names.
func resolveSelections(structure *schema.Structure, live map[string]bool) (limit, exclude []string, err error) {
	var names []string
	seen := make(map[string]bool)
	for _, t := range structure.Tables {
		names = append(names, t.Name)
		seen[t.Name] = true
	}
	for name := range live {
		if !seen[name] {
			names = append(names, name)
		}
	}

	if checkTables != "" {
		if limit, err = selection.ResolvePatterns(selection.SplitList(checkTables), names); err != nil {
			return nil, nil, err
		}
	}
	if checkExclude != "" {
		if exclude, err = selection.ResolvePatterns(selection.SplitList(checkExclude), names); err != nil {
			return nil, nil, err
		}
	}
	return limit, exclude, nil
}

func printResult(result *diff.Result) {
	if result.Empty() {
		fmt.Println("Database structure is ok.")
		return
	}
	for i, table := range result.Order {
		if i > 0 {
			fmt.Println(strings.Repeat("-", 60))
		}
		fmt.Println(table)
		for _, p := range result.Problems[table] {
			fmt.Printf(" * fix=%s   %s\n", p.Safety, p.Desc)
		}
	}
}
