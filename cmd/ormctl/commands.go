package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/easybib/ormresource/dialect/sql/schema"
	"github.com/easybib/ormresource/mapping"
	"github.com/easybib/ormresource/orm"
)

// withManager runs fn with the entity manager of the resource and closes
// it afterwards.
func withManager(cmd *cobra.Command, f *flags, fn func(*orm.EntityManager) error) error {
	r, err := f.resource(cmd)
	if err != nil {
		return err
	}
	defer r.Close()
	em, err := r.EntityManager(cmd.Context())
	if err != nil {
		return err
	}
	return fn(em)
}

func metadataCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Inspect entity mappings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the mapped classes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, f, func(em *orm.EntityManager) error {
					ms, err := em.AllMetadata(cmd.Context())
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "CLASS\tTABLE\tFIELDS\tSOURCE")
					for _, m := range ms {
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", m.QualifiedName(), m.Table, len(m.Fields)+len(m.Associations), m.Source)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Watch the entity folders and reload changed mappings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r, err := f.resource(cmd)
				if err != nil {
					return err
				}
				defer r.Close()
				if _, err := r.EntityManager(cmd.Context()); err != nil {
					return err
				}
				return r.WatchMetadata(cmd.Context())
			},
		},
	)
	return cmd
}

func schemaCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create, update or drop the tables of the mapped classes",
	}
	var force bool
	cmd.PersistentFlags().BoolVar(&force, "force", false, "allow updates dropping columns or indexes")
	allowed := func() []schema.ValidateOption {
		if !force {
			return nil
		}
		return []schema.ValidateOption{schema.AllowDropColumn(), schema.AllowDropIndex(), schema.AllowNullToNotNull()}
	}
	type action struct {
		use, short string
		sql        func(*schema.Tool, *cobra.Command, []*mapping.ClassMetadata) ([]string, error)
		run        func(*schema.Tool, *cobra.Command, []*mapping.ClassMetadata) error
	}
	for _, a := range []action{
		{
			use:   "create",
			short: "Create the tables",
			sql: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) ([]string, error) {
				return t.CreateSQL(cmd.Context(), ms)
			},
			run: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) error {
				return t.Create(cmd.Context(), ms)
			},
		},
		{
			use:   "drop",
			short: "Drop the tables",
			sql: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) ([]string, error) {
				return t.DropSQL(cmd.Context(), ms)
			},
			run: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) error {
				return t.Drop(cmd.Context(), ms)
			},
		},
		{
			use:   "update",
			short: "Migrate the existing tables to the mappings",
			sql: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) ([]string, error) {
				return t.UpdateSQL(cmd.Context(), ms, allowed()...)
			},
			run: func(t *schema.Tool, cmd *cobra.Command, ms []*mapping.ClassMetadata) error {
				return t.Update(cmd.Context(), ms, allowed()...)
			},
		},
	} {
		var dump bool
		sub := &cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd, f, func(em *orm.EntityManager) error {
					ms, err := em.AllMetadata(cmd.Context())
					if err != nil {
						return err
					}
					tool, err := em.SchemaTool()
					if err != nil {
						return err
					}
					if !dump {
						if err := a.run(tool, cmd, ms); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %d classes\n", a.use, len(ms))
						return nil
					}
					stmts, err := a.sql(tool, cmd, ms)
					if err != nil {
						return err
					}
					for _, s := range stmts {
						fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", s)
					}
					return nil
				})
			},
		}
		sub.Flags().BoolVar(&dump, "dump-sql", false, "print the statements instead of executing them")
		cmd.AddCommand(sub)
	}
	return cmd
}

func proxyCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage generated proxies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate the proxies of all mapped classes into the proxy folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, f, func(em *orm.EntityManager) error {
				paths, err := em.GenerateProxies(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	})
	return cmd
}
