package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"agentdesk/internal/app"
	"agentdesk/internal/config"
	"agentdesk/internal/domain"
	"agentdesk/internal/engine"
	"agentdesk/internal/engine/auth"
	"agentdesk/internal/events"
	"agentdesk/internal/lifecycle"
)

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			b, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(b))
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

func taskCmd() *cobra.Command {
	c := &cobra.Command{Use: "task", Short: "Inspect and create tasks"}
	c.AddCommand(taskListCmd())
	c.AddCommand(taskShowCmd())
	c.AddCommand(taskCreateCmd())
	return c
}

func taskListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Store.ListTasks(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Status", "Conversations", "Dialogues", "Pending diffs"})
				for _, t := range tasks {
					pending := 0
					for _, d := range t.Diffs {
						if d.Status == domain.DiffPending {
							pending++
						}
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.OwnerID, lifecycle.Aggregate(t.Conversations), len(t.Conversations), len(t.Dialogues), pending})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Store.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var owner, title, desc, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task from an instruction file (YAML or JSON)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" || file == "" {
				return fmt.Errorf("--owner and --instruction are required")
			}
			instr, err := readInstruction(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Store.GetUser(ctx, owner); err != nil {
					return err
				}
				t, err := a.Engine.CreateTask(ctx, engine.TaskCreateOptions{
					OwnerID:     owner,
					Title:       title,
					Description: desc,
					Instruction: instr,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&file, "instruction", "", "instruction set file")
	return cmd
}

// readInstruction decodes a YAML (or JSON) document using the API field
// names.
func readInstruction(path string) (domain.InstructionSet, error) {
	var out domain.InstructionSet
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

func reportCmd() *cobra.Command {
	c := &cobra.Command{Use: "report", Short: "Reports across all tasks"}
	c.AddCommand(&cobra.Command{
		Use:   "weekly",
		Short: "Completed conversations per week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				weekly, err := a.Engine.WeeklyConversion(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(weekly)
				}
				weeks := make([]string, 0, len(weekly))
				for w := range weekly {
					weeks = append(weeks, w)
				}
				sort.Strings(weeks)
				tw := newTable()
				tw.AppendHeader(table.Row{"Week", "Completed"})
				for _, w := range weeks {
					tw.AppendRow(table.Row{w, weekly[w]})
				}
				tw.Render()
				return nil
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Average dialogue metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				avg, err := a.Engine.MetricAverages(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(avg)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Metric", "Average"})
				for _, m := range domain.Metrics {
					tw.AppendRow(table.Row{m, fmt.Sprintf("%.2f", avg[m])})
				}
				tw.Render()
				return nil
			})
		},
	})
	return c
}

func keyCmd() *cobra.Command {
	c := &cobra.Command{Use: "key", Short: "Manage API keys"}
	c.AddCommand(keyCreateCmd())
	c.AddCommand(keyListCmd())
	c.AddCommand(keyUpdateCmd())
	return c
}

func keyCreateCmd() *cobra.Command {
	var email, org, envFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and its API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Directory.CreateKey(ctx, auth.KeyCreateOptions{
					Email:        email,
					Organization: org,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if envFile != "" {
					if err := setEnvValue(envFile, "AGENTDESK_API_KEY", created.RawKey); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key_id": created.Key.ID, "user_id": created.User.ID, "key_value": created.RawKey})
				}
				fmt.Printf("key %s for user %s\n", created.Key.ID, created.User.ID)
				fmt.Printf("key value (shown once): %s\n", created.RawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user e-mail")
	cmd.Flags().StringVar(&org, "org", "", "organization")
	cmd.Flags().StringVar(&envFile, "save-env", "", "also write AGENTDESK_API_KEY to this .env file")
	return cmd
}

// setEnvValue sets key in a dotenv file, keeping its other entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func keyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Directory.ListKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					for i := range keys {
						keys[i].KeyHash = ""
					}
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "User", "Status", "Model", "Model select", "Accounts"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Status, k.DefaultModel, k.AllowModelSelection, strings.Join(k.AgentAccountIDs, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func keyUpdateCmd() *cobra.Command {
	var active, allowModels bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Activate/deactivate a key or toggle model selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := auth.KeyUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("active") {
				status := domain.KeyInactive
				if active {
					status = domain.KeyActive
				}
				opts.Status = &status
			}
			if cmd.Flags().Changed("allow-model-selection") {
				opts.AllowModelSelection = &allowModels
			}
			if opts.Status == nil && opts.AllowModelSelection == nil {
				return fmt.Errorf("nothing to update; pass --active or --allow-model-selection")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				k, err := a.Directory.UpdateKey(ctx, opts)
				if err != nil {
					return err
				}
				k.KeyHash = ""
				return printJSONOrTable(k)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "key status")
	cmd.Flags().BoolVar(&allowModels, "allow-model-selection", false, "allow model selection")
	return cmd
}

func accountCmd() *cobra.Command {
	c := &cobra.Command{Use: "account", Short: "Manage agent messaging accounts"}

	var label, creds string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				acc, err := a.Directory.CreateAccount(ctx, auth.AccountCreateOptions{
					Label:       label,
					Credentials: creds,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				fmt.Println(acc.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&label, "label", "", "account label")
	create.Flags().StringVar(&creds, "credentials", "", "session credentials")
	c.AddCommand(create)

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Directory.ListAccounts(ctx)
				if err != nil {
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Label", "Status", "Key"})
				for _, acc := range items {
					tw.AppendRow(table.Row{acc.ID, acc.Label, acc.Status, acc.KeyID})
				}
				tw.Render()
				return nil
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "assign <account-id> <key-id>",
		Short: "Bind an account to a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				acc, err := a.Directory.AssignAccount(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("account %s bound to key %s\n", acc.ID, acc.KeyID)
				return nil
			})
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "ban <account-id>",
		Short: "Mark an account banned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				_, err := a.Directory.UpdateAccountStatus(ctx, args[0], domain.AccountBanned, viper.GetString("actor-id"))
				return err
			})
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Audit event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				latest, err := a.Store.LatestEventID(ctx)
				if err != nil {
					return err
				}
				after := latest - int64(n)
				if evtType != "" {
					after = 0
				}
				if after < 0 {
					after = 0
				}
				var out []domain.Event
				for {
					evts, err := a.Store.EventsAfter(ctx, after, 500)
					if err != nil {
						return err
					}
					for _, e := range evts {
						if evtType == "" || e.Type == evtType {
							out = append(out, e)
						}
					}
					if len(out) > n {
						out = out[len(out)-n:]
					}
					if len(evts) < 500 {
						break
					}
					after = evts[len(evts)-1].ID
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range out {
					payload, _ := json.Marshal(events.Decode(e))
					tw.AppendRow(table.Row{e.ID, e.TS.Format("2006-01-02 15:04:05"), e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	c.AddCommand(tail)
	return c
}
