package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/schemalign/schemalign/internal/adapter"
	"github.com/schemalign/schemalign/internal/schema"
)

var dumpOut string

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the live database structure as a schema description file",
	Long: `Dump introspects the live database and writes its structure out in the
schema description format, as a starting point for a declared schema.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := setup(ctx, false)
		if err != nil {
			return err
		}
		defer env.Adapter.Close()

		s, err := dumpStructure(ctx, env.Adapter)
		if err != nil {
			return err
		}
		if err := s.WriteFile(dumpOut); err != nil {
			return err
		}
		fmt.Printf("wrote %d tables to %s\n", len(s.Tables), dumpOut)
		return nil
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpOut, "out", "o", "schema.yaml", "output file")
	rootCmd.AddCommand(dumpCmd)
}

// dumpStructure reverses the live structure into the declared model. Meta
// types collapse into their declared families; sequences become the id
// primary key convention.
func dumpStructure(ctx context.Context, a adapter.Adapter) (*schema.Structure, error) {
	live, err := a.Tables(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)

	s := &schema.Structure{}
	for _, name := range names {
		t, err := dumpTable(ctx, a, name)
		if err != nil {
			return nil, err
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

func dumpTable(ctx context.Context, a adapter.Adapter, name string) (*schema.Table, error) {
	cols, err := a.Columns(ctx, name)
	if err != nil {
		return nil, err
	}
	idxs, err := a.Indexes(ctx, name, true)
	if err != nil {
		return nil, err
	}

	t := &schema.Table{Name: name}
	for _, c := range cols {
		f := &schema.Field{
			Name:    c.Name,
			Type:    adapter.FieldTypeOf(c.MetaType),
			Length:  c.MaxLength,
			NotNull: c.NotNull,
		}
		if c.MetaType == adapter.MetaNumber || c.MetaType == adapter.MetaFloat {
			f.Decimals = c.Scale
		}
		if c.MetaType == adapter.MetaCounter {
			f.Sequence = true
		}
		if c.HasDefault {
			v := c.DefaultValue
			f.Default = &v
		}
		t.Fields = append(t.Fields, f)
	}

	for _, idx := range idxs {
		if idx.Primary {
			t.Keys = append(t.Keys, &schema.Key{
				Name:   "primary",
				Type:   schema.Primary,
				Fields: append([]string(nil), idx.Columns...),
			})
			continue
		}
		t.Indexes = append(t.Indexes, &schema.Index{
			Name:   idx.Name,
			Unique: idx.Unique,
			Fields: append([]string(nil), idx.Columns...),
		})
	}
	return t, nil
}
