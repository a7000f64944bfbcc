// Command quadsail is a thin diagnostic CLI wired directly against
// pkg/connection and pkg/store: an example embedder exercising
// begin/commit/rollback, not a repository-management surface. Shape is
// a persistent store handle opened once, one cobra.Command per operation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rickmoynihan/quadsail/pkg/connection"
	"github.com/rickmoynihan/quadsail/pkg/rdf"
	"github.com/rickmoynihan/quadsail/pkg/sail"
	"github.com/rickmoynihan/quadsail/pkg/store"
)

var dbPath string

func openStore() (store.StatementStore, error) {
	if dbPath == "" {
		return store.NewMemStore(), nil
	}
	return store.OpenBadgerStore(dbPath)
}

var rootCmd = &cobra.Command{
	Use:   "quadsail",
	Short: "diagnostic CLI for the quadsail embeddable RDF store",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "create a new on-disk store at --path",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" {
			return fmt.Errorf("quadsail: init requires --path")
		}
		st, err := store.OpenBadgerStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Printf("initialized quadsail store at %s\n", dbPath)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <subject> <predicate> <object> [graph]",
	Short: "assert one explicit statement in its own transaction",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		conn := connection.Open(st, connection.DefaultConfig())
		defer conn.Close()

		stmt := rdf.NewStatement(rdf.NewIRI(args[0]), rdf.NewIRI(args[1]), rdf.NewIRI(args[2]))
		if len(args) == 4 {
			stmt = rdf.NewStatementInContext(rdf.NewIRI(args[0]), rdf.NewIRI(args[1]), rdf.NewIRI(args[2]), rdf.NewIRI(args[3]))
		}

		if err := conn.Begin(sail.ReadCommitted); err != nil {
			return err
		}
		if err := conn.AddStatement(stmt); err != nil {
			_ = conn.Rollback(context.Background())
			return err
		}
		if err := conn.Commit(context.Background()); err != nil {
			return err
		}
		fmt.Println("added", stmt.String())
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [subject] [predicate] [object]",
	Short: "print statements matching a wildcard pattern (\"-\" = unbound)",
	Args:  cobra.MaximumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		conn := connection.Open(st, connection.DefaultConfig())
		defer conn.Close()

		var s, p, o *rdf.Value
		vals := []**rdf.Value{&s, &p, &o}
		for i, a := range args {
			if a == "-" || a == "" {
				continue
			}
			v := rdf.NewIRI(a)
			*vals[i] = &v
		}

		it, err := conn.GetStatements(context.Background(), s, p, o, true)
		if err != nil {
			return err
		}
		defer it.Close()
		count := 0
		for {
			stmt, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Println(stmt.String())
			count++
		}
		fmt.Fprintf(os.Stderr, "%s statement(s)\n", humanize.Comma(int64(count)))
		return nil
	},
}

var nsCmd = &cobra.Command{
	Use:   "ns",
	Short: "manage the namespace table",
}

var nsSetCmd = &cobra.Command{
	Use:   "set <prefix> <iri>",
	Short: "bind a namespace prefix",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		conn := connection.Open(st, connection.DefaultConfig())
		defer conn.Close()

		if err := conn.Begin(sail.ReadCommitted); err != nil {
			return err
		}
		if err := conn.SetNamespace(args[0], args[1]); err != nil {
			_ = conn.Rollback(context.Background())
			return err
		}
		return conn.Commit(context.Background())
	},
}

var nsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "list namespace bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		conn := connection.Open(st, connection.DefaultConfig())
		defer conn.Close()

		it, err := conn.Namespaces(context.Background())
		if err != nil {
			return err
		}
		defer it.Close()
		for {
			ns, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			fmt.Printf("%s: %s\n", ns.Prefix, ns.Name)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "print evaluation-statistics cardinality estimates",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats := st.EvaluationStatistics()
		total := stats.Cardinality(rdf.Pattern{})
		fmt.Printf("estimated total statements: %s\n", humanize.Comma(total))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "path", "", "badger store directory (empty = in-memory)")
	nsCmd.AddCommand(nsSetCmd, nsListCmd)
	rootCmd.AddCommand(initCmd, addCmd, getCmd, nsCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
