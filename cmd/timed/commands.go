package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/alexjbarnes/timed-cli/internal/config"
	"github.com/alexjbarnes/timed-cli/internal/jsonapi"
	"github.com/alexjbarnes/timed-cli/internal/timed"
)

const dateLayout = "2006-01-02"

func today() string { return time.Now().Format(dateLayout) }

func nowTime() string { return time.Now().Format("15:04:05") }

// listFlags are shared by every ls subcommand.
func listFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "date", Usage: "single day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "from", Usage: "range start (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "to", Usage: "range end (YYYY-MM-DD)"},
		&cli.BoolFlag{Name: "all-users", Usage: "do not restrict to the authenticated user"},
	}
}

func listFilters(c *cli.Context) timed.Filters {
	f := timed.Filters{
		Date:     c.String("date"),
		FromDate: c.String("from"),
		ToDate:   c.String("to"),
	}

	if !c.Bool("all-users") {
		f.User = timed.CurrentUser
	}

	return f
}

// sortParam accepts both wire keys ("from-time") and internal field
// names ("FromTime"), optionally prefixed with "-" for descending.
func sortParam(sort string) string {
	desc := strings.HasPrefix(sort, "-")
	field := strings.TrimPrefix(sort, "-")

	wire := field
	if strings.ToLower(field) != field {
		wire = jsonapi.FieldToWire(field)
	}

	if desc {
		return "-" + wire
	}

	return wire
}

func table(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}

	return *s
}

func taskLabel(t *timed.Task) string {
	if t == nil {
		return "-"
	}

	if t.Project != nil {
		return t.Project.Name + " > " + t.Name
	}

	return t.Name
}

func activityCommand() *cli.Command {
	return &cli.Command{
		Name:  "activity",
		Usage: "manage tracking blocks",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list activities",
				Flags: listFlags(),
				Action: withEnv(func(c *cli.Context, e *env) error {
					f := listFilters(c)
					if f.Date == "" && f.FromDate == "" && f.ToDate == "" {
						f.Date = today()
					}

					f.Include = []string{"task", "task.project"}

					activities, err := timed.List[timed.Activity](c.Context, e.client, f)
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(activities))
					for _, a := range activities {
						rows = append(rows, []string{
							a.ID, a.Date, a.FromTime, derefOr(a.ToTime, "running"),
							taskLabel(a.Task), orDash(a.Comment),
						})
					}

					table([]string{"ID", "DATE", "FROM", "TO", "TASK", "COMMENT"}, rows)

					return nil
				}),
			},
			{
				Name:  "add",
				Usage: "start a new activity",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "comment", Aliases: []string{"c"}, Required: true},
					&cli.StringFlag{Name: "task", Aliases: []string{"t"}, Usage: "task ID", Required: true},
					&cli.StringFlag{Name: "from", Usage: "start time (HH:MM:SS), defaults to now"},
					&cli.StringFlag{Name: "date", Usage: "day (YYYY-MM-DD), defaults to today"},
					&cli.BoolFlag{Name: "review", Usage: "mark for review"},
					&cli.BoolFlag{Name: "not-billable", Usage: "mark as not billable"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					from := c.String("from")
					if from == "" {
						from = nowTime()
					}

					date := c.String("date")
					if date == "" {
						date = today()
					}

					activity := timed.Activity{
						Comment:     c.String("comment"),
						Date:        date,
						FromTime:    from,
						Review:      c.Bool("review"),
						NotBillable: c.Bool("not-billable"),
						TaskRef:     jsonapi.Identifier{Type: timed.TypeTasks, ID: c.String("task")},
					}

					created, err := timed.Create(c.Context, e.client, activity)
					if err != nil {
						return err
					}

					fmt.Printf("started activity %s at %s\n", created.ID, created.FromTime)

					return nil
				}),
			},
			{
				Name:  "stop",
				Usage: "stop the running activity",
				Action: withEnv(func(c *cli.Context, e *env) error {
					activities, err := timed.List[timed.Activity](c.Context, e.client, timed.Filters{
						Date:   today(),
						User:   timed.CurrentUser,
						Active: timed.Bool(true),
					})
					if err != nil {
						return err
					}

					if len(activities) == 0 {
						fmt.Println("no running activity")
						return nil
					}

					for _, a := range activities {
						end := nowTime()
						a.ToTime = &end

						if _, err := timed.Update(c.Context, e.client, a); err != nil {
							return fmt.Errorf("stopping activity %s: %w", a.ID, err)
						}

						fmt.Printf("stopped activity %s at %s\n", a.ID, end)
					}

					return nil
				}),
			},
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "manage durable time bookings",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list reports",
				Flags: append(listFlags(),
					&cli.StringFlag{Name: "sort", Usage: "order by attribute, \"-\" prefix for descending"},
				),
				Action: withEnv(func(c *cli.Context, e *env) error {
					f := listFilters(c)
					if f.Date == "" && f.FromDate == "" && f.ToDate == "" {
						f.Date = today()
					}

					f.Include = []string{"task", "task.project"}

					if sort := c.String("sort"); sort != "" {
						f.Extra = map[string]string{"ordering": sortParam(sort)}
					}

					reports, err := timed.List[timed.Report](c.Context, e.client, f)
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(reports))
					for _, r := range reports {
						rows = append(rows, []string{
							r.ID, r.Date, r.Duration, taskLabel(r.Task), orDash(r.Comment),
						})
					}

					table([]string{"ID", "DATE", "DURATION", "TASK", "COMMENT"}, rows)

					return nil
				}),
			},
		},
	}
}

func projectCommand() *cli.Command {
	return &cli.Command{
		Name:  "project",
		Usage: "browse projects",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list projects",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "customer", Usage: "filter by customer ID"},
					&cli.BoolFlag{Name: "archived", Usage: "include only archived projects"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					f := timed.Filters{
						Customer: c.String("customer"),
						Archived: timed.Bool(c.Bool("archived")),
						Include:  []string{"customer"},
					}

					projects, err := timed.List[timed.Project](c.Context, e.client, f)
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(projects))
					for _, p := range projects {
						customer := "-"
						if p.Customer != nil {
							customer = p.Customer.Name
						}

						rows = append(rows, []string{p.ID, p.Name, customer})
					}

					table([]string{"ID", "NAME", "CUSTOMER"}, rows)

					return nil
				}),
			},
		},
	}
}

func customerCommand() *cli.Command {
	return &cli.Command{
		Name:  "customer",
		Usage: "browse customers",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list customers",
				Action: withEnv(func(c *cli.Context, e *env) error {
					customers, err := timed.List[timed.Customer](c.Context, e.client, timed.Filters{
						Archived: timed.Bool(false),
					})
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(customers))
					for _, cust := range customers {
						rows = append(rows, []string{cust.ID, cust.Name})
					}

					table([]string{"ID", "NAME"}, rows)

					return nil
				}),
			},
		},
	}
}

func taskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "browse tasks",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "project", Usage: "filter by project ID"},
				},
				Action: withEnv(func(c *cli.Context, e *env) error {
					f := timed.Filters{
						Project:  c.String("project"),
						Archived: timed.Bool(false),
						Include:  []string{"project", "project.customer"},
					}

					tasks, err := timed.List[timed.Task](c.Context, e.client, f)
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(tasks))
					for _, t := range tasks {
						project := "-"
						if t.Project != nil {
							project = t.Project.Name
						}

						rows = append(rows, []string{t.ID, t.Name, project})
					}

					table([]string{"ID", "NAME", "PROJECT"}, rows)

					return nil
				}),
			},
		},
	}
}

func absenceCommand() *cli.Command {
	return &cli.Command{
		Name:  "absence",
		Usage: "browse absences",
		Subcommands: []*cli.Command{
			{
				Name:  "ls",
				Usage: "list absences",
				Flags: listFlags(),
				Action: withEnv(func(c *cli.Context, e *env) error {
					f := listFilters(c)
					f.Include = []string{"absence-type"}

					absences, err := timed.List[timed.Absence](c.Context, e.client, f)
					if err != nil {
						return err
					}

					rows := make([][]string, 0, len(absences))
					for _, a := range absences {
						kind := "-"
						if a.AbsenceType != nil {
							kind = a.AbsenceType.Name
						}

						rows = append(rows, []string{a.ID, a.Date, kind, orDash(a.Comment)})
					}

					table([]string{"ID", "DATE", "TYPE", "COMMENT"}, rows)

					return nil
				}),
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect and persist the local profile",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the resolved configuration",
				Action: withEnv(func(c *cli.Context, e *env) error {
					out, err := yaml.Marshal(e.cfg)
					if err != nil {
						return fmt.Errorf("serializing config: %w", err)
					}

					fmt.Print(string(out))

					return nil
				}),
			},
			{
				Name:  "init",
				Usage: "write the resolved configuration to the profile file",
				Action: withEnv(func(c *cli.Context, e *env) error {
					path, err := config.DefaultProfilePath()
					if err != nil {
						return err
					}

					if err := e.cfg.WriteProfile(path); err != nil {
						return err
					}

					fmt.Printf("profile written to %s\n", path)

					return nil
				}),
			},
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "show the current worktime balance",
		Action: withEnv(func(c *cli.Context, e *env) error {
			balances, err := timed.List[timed.WorktimeBalance](c.Context, e.client, timed.Filters{
				Date: today(),
				User: timed.CurrentUser,
			})
			if err != nil {
				return err
			}

			if len(balances) == 0 {
				fmt.Println("no balance available")
				return nil
			}

			fmt.Printf("balance as of %s: %s\n", balances[0].Date, balances[0].Balance)

			return nil
		}),
	}
}

// overviewCommand fetches today's activities, reports, and balance
// concurrently; all three requests share the token manager and cache.
func overviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "overview",
		Usage: "show today's activities, reports, and balance",
		Action: withEnv(func(c *cli.Context, e *env) error {
			var (
				activities []timed.Activity
				reports    []timed.Report
				balances   []timed.WorktimeBalance
			)

			day := today()

			g, ctx := errgroup.WithContext(c.Context)

			g.Go(func() error {
				var err error
				activities, err = timed.List[timed.Activity](ctx, e.client, timed.Filters{
					Date: day, User: timed.CurrentUser, Include: []string{"task", "task.project"},
				})

				return err
			})

			g.Go(func() error {
				var err error
				reports, err = timed.List[timed.Report](ctx, e.client, timed.Filters{
					Date: day, User: timed.CurrentUser, Include: []string{"task", "task.project"},
				})

				return err
			})

			g.Go(func() error {
				var err error
				balances, err = timed.List[timed.WorktimeBalance](ctx, e.client, timed.Filters{
					Date: day, User: timed.CurrentUser,
				})

				return err
			})

			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Printf("overview for %s\n\nactivities:\n", day)

			for _, a := range activities {
				fmt.Printf("  %s-%s  %s  %s\n",
					a.FromTime, derefOr(a.ToTime, "now"), taskLabel(a.Task), a.Comment)
			}

			if len(activities) == 0 {
				fmt.Println("  none")
			}

			fmt.Println("\nreports:")

			for _, r := range reports {
				fmt.Printf("  %s  %s  %s\n", r.Duration, taskLabel(r.Task), r.Comment)
			}

			if len(reports) == 0 {
				fmt.Println("  none")
			}

			if len(balances) > 0 {
				fmt.Printf("\nbalance: %s\n", balances[0].Balance)
			}

			return nil
		}),
	}
}
