package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"GuardianScope/client"
	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/snapshot"
)

// adminTimeout bounds one administrative command.
const adminTimeout = 30 * time.Second

var registerCommand = &cli.Command{
	Name:  "register",
	Usage: "register every local operator for stake and service",
	Action: func(cctx *cli.Context) error {
		return withLedger(cctx, func(ctx context.Context, cfg *Config, remote *ledger.Remote) error {
			holders, err := keyHolders(cfg)
			if err != nil {
				return err
			}

			for _, h := range holders {
				if err := ledger.RegisterOperator(ctx, remote, h); err != nil {
					return fmt.Errorf("register %s:\n%w", h.Operator().Short(), err)
				}
				logger.Info("operator registered", "operator", h.Operator().String())
			}

			return nil
		})
	},
}

var deregisterCommand = &cli.Command{
	Name:  "deregister",
	Usage: "deregister every local operator",
	Action: func(cctx *cli.Context) error {
		return withLedger(cctx, func(ctx context.Context, cfg *Config, remote *ledger.Remote) error {
			holders, err := keyHolders(cfg)
			if err != nil {
				return err
			}

			for _, h := range holders {
				if err := remote.Deregister(ctx, h.Operator()); err != nil {
					return fmt.Errorf("deregister %s:\n%w", h.Operator().Short(), err)
				}
				logger.Info("operator deregistered", "operator", h.Operator().String())
			}

			return nil
		})
	},
}

var createTaskCommand = &cli.Command{
	Name:      "create-task",
	Usage:     "append one task per argument to the ledger",
	ArgsUsage: "<content>...",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() == 0 {
			return fmt.Errorf("at least one content argument is required")
		}

		return withLedger(cctx, func(ctx context.Context, cfg *Config, remote *ledger.Remote) error {
			for _, content := range cctx.Args().Slice() {
				ev, err := remote.CreateTask(ctx, []byte(content))
				if err != nil {
					return fmt.Errorf("create task:\n%w", err)
				}
				fmt.Println(ev.ID)
			}

			return nil
		})
	},
}

var snapshotCommand = &cli.Command{
	Name:  "snapshot",
	Usage: "export, import or inspect a state snapshot; the operator must be stopped",
	Subcommands: []*cli.Command{
		{
			Name:      "export",
			Usage:     "write the local state to a file",
			ArgsUsage: "<file>",
			Action: func(cctx *cli.Context) error {
				path, err := fileArg(cctx)
				if err != nil {
					return err
				}

				db, err := openStorage(cctx.String("data"))
				if err != nil {
					return err
				}
				defer db.Close()

				data, info, err := snapshot.Export(db)
				if err != nil {
					return err
				}

				if err := os.WriteFile(path, data, 0600); err != nil {
					return fmt.Errorf("write snapshot:\n%w", err)
				}

				printInfo(path, info)

				return nil
			},
		},
		{
			Name:      "import",
			Usage:     "replace the local state with a snapshot file",
			ArgsUsage: "<file>",
			Action: func(cctx *cli.Context) error {
				path, err := fileArg(cctx)
				if err != nil {
					return err
				}

				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read snapshot:\n%w", err)
				}

				db, err := openStorage(cctx.String("data"))
				if err != nil {
					return err
				}
				defer db.Close()

				info, err := snapshot.Import(db, data)
				if err != nil {
					return err
				}

				printInfo(path, info)

				return nil
			},
		},
		{
			Name:      "inspect",
			Usage:     "verify a snapshot file and print its header",
			ArgsUsage: "<file>",
			Action: func(cctx *cli.Context) error {
				path, err := fileArg(cctx)
				if err != nil {
					return err
				}

				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read snapshot:\n%w", err)
				}

				info, err := snapshot.Inspect(data)
				if err != nil {
					return err
				}

				printInfo(path, info)

				return nil
			},
		},
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "print the status of the running operator",
	Action: func(cctx *cli.Context) error {
		status, err := apiClient(cctx).Status()
		if err != nil {
			return err
		}

		return printJSON(status)
	},
}

var tasksCommand = &cli.Command{
	Name:      "tasks",
	Usage:     "list tasks of the running operator, or show one",
	ArgsUsage: "[id]",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "status", Usage: "only list tasks in this status"},
	},
	Action: func(cctx *cli.Context) error {
		c := apiClient(cctx)

		if cctx.NArg() == 0 {
			tasks, err := c.Tasks(cctx.String("status"))
			if err != nil {
				return err
			}
			return printJSON(tasks)
		}

		var id uint64
		if _, err := fmt.Sscan(cctx.Args().First(), &id); err != nil {
			return fmt.Errorf("invalid task id %q", cctx.Args().First())
		}

		task, err := c.Task(moderation.TaskID(id))
		if err != nil {
			return err
		}

		return printJSON(task)
	},
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "print a line per snapshot pushed by the running operator",
	Action: func(cctx *cli.Context) error {
		return apiClient(cctx).Watch(cctx.Context, func(snap moderation.Snapshot) error {
			var open int
			for _, t := range snap.Tasks {
				if t.Status != moderation.StatusFinalized.String() {
					open++
				}
			}

			fmt.Printf("%s cursor=%d tasks=%d open=%d failures=%d\n",
				snap.GeneratedAt.Format(time.TimeOnly), snap.LastIngested, len(snap.Tasks), open, len(snap.Failures))

			return nil
		})
	},
}

// apiClient targets the --http address of the local operator.
func apiClient(cctx *cli.Context) *client.Client {
	addr := cctx.String("http")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	return client.New(addr)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// withLedger runs fn against a gateway client built from the flags.
func withLedger(cctx *cli.Context, fn func(context.Context, *Config, *ledger.Remote) error) error {
	cfg, err := configFromContext(cctx)
	if err != nil {
		return err
	}

	remote, err := newRemote(cfg)
	if err != nil {
		return err
	}
	defer remote.Close()

	ctx, cancel := context.WithTimeout(cctx.Context, adminTimeout)
	defer cancel()

	return fn(ctx, cfg, remote)
}

func fileArg(cctx *cli.Context) (string, error) {
	if cctx.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one file argument")
	}

	return cctx.Args().First(), nil
}

func printInfo(path string, info snapshot.Info) {
	fmt.Printf("%s: version %d, %d entries, created %s, checksum %x\n",
		path, info.Version, info.Entries, info.CreatedAt.Format(time.RFC3339), info.Checksum[:8])
}
