// Command mysqlcli is a small operator tool exercising the Database/Pool
// facade end to end: one-shot synchronous queries, pool health checks, and
// an async backlog demonstration. Grounded on keploy-keploy's
// keploycli/keploycli.go root-command/subcommand structure, replacing the
// teacher's single hardcoded-DSN main.go.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vasflam/go-mysql-core/database"
	"github.com/vasflam/go-mysql-core/dsn"
	"github.com/vasflam/go-mysql-core/results"
)

var dsnFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mysqlcli",
		Short: "Operator tool for the go-mysql-core client library",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if env := os.Getenv("MYSQLCLI_ENV_FILE"); env != "" {
				_ = godotenv.Load(env)
			} else {
				_ = godotenv.Load()
			}
			if dsnFlag == "" {
				dsnFlag = os.Getenv("MYSQL_DSN")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "mysql:// connection URL (falls back to $MYSQL_DSN, or a loaded .env)")

	root.AddCommand(newQueryCmd(), newPingCmd(), newBenchCmd())
	return root
}

func openPool(logger *zap.Logger) (*database.Pool, error) {
	if dsnFlag == "" {
		return nil, fmt.Errorf("mysqlcli: no DSN given; pass --dsn or set MYSQL_DSN")
	}
	d, err := dsn.Parse(dsnFlag)
	if err != nil {
		return nil, err
	}
	return database.NewPool(d, database.DefaultMaxConnections, logger), nil
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one query synchronously and print the result rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			pool, err := openPool(logger)
			if err != nil {
				return err
			}
			db, err := pool.DB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.Query(args[0])
			if err != nil {
				return err
			}
			cols := res.Columns()
			fmt.Println(cols)
			for {
				row, ok := res.Array()
				if !ok {
					break
				}
				values := make([]string, len(row))
				for i, v := range row {
					if !v.Valid {
						values[i] = "NULL"
					} else {
						values[i] = v.String
					}
				}
				fmt.Println(values)
			}
			fmt.Printf("affected_rows=%d last_insert_id=%d warnings=%d\n",
				res.AffectedRows(), res.LastInsertID(), res.WarningsCount())
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Lease a connection from the pool and report its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			pool, err := openPool(logger)
			if err != nil {
				return err
			}
			db, err := pool.DB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if db.Ping() {
				fmt.Println("ok")
				return nil
			}
			return fmt.Errorf("mysqlcli: ping failed")
		},
	}
}

func newBenchCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "bench <sql>",
		Short: "Fire N async queries on one Database to demonstrate backlog/ordering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync()

			pool, err := openPool(logger)
			if err != nil {
				return err
			}
			db, err := pool.DB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			start := time.Now()
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				i := i
				err := db.QueryAsync(args[0], func(err error, r *results.Results) {
					defer wg.Done()
					elapsed := time.Since(start)
					if err != nil {
						fmt.Printf("query %d failed after %s: %v\n", i, elapsed, err)
						return
					}
					fmt.Printf("query %d completed after %s, backlog=%d\n", i, elapsed, db.Backlog())
				})
				if err != nil {
					wg.Done()
					return err
				}
			}
			wg.Wait()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 5, "number of async queries to fire")
	return cmd
}
