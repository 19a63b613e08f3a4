package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentdesk/internal/app"
	"agentdesk/internal/config"
	"agentdesk/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "agentdesk",
	Short: "AI agent manager",
	Long: `agentdesk manages outreach agents: their instruction sets, the diffs that
revise them, the conversations they run and the dialogue metrics they report.
- Task: a campaign with an instruction ledger, conversations and dialogues.
- Instruction set: a full snapshot of what the agent is told; every revision is kept.
- Diff: a proposed change to one instruction field, accepted or rejected by the owner.
  Every 10th recorded dialogue queues a system diff adding a reminder step.
- Conversation: one agent account working the task; status in_progress, completed or failed.
- Keys: API keys issued to users; admin commands create, list and toggle them.
- Event log: audit trail of every change, view with 'agentdesk log tail'.`,
	SilenceUsage: true,
}

func main() {
	// a missing .env is fine; the environment still applies
	_ = godotenv.Load()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGENTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.String("config", "", "config file (default <workspace>/agentdesk.yml)")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "cli", "actor recorded in the event log")
	pf.String("store", "", "store driver: memory, sqlite or postgres")
	pf.String("dsn", "", "postgres dsn or sqlite file path")
	pf.String("log-level", "", "log level override")
	_ = viper.BindPFlag("workspace", pf.Lookup("workspace"))
	_ = viper.BindPFlag("config", pf.Lookup("config"))
	_ = viper.BindPFlag("json", pf.Lookup("json"))
	_ = viper.BindPFlag("actor-id", pf.Lookup("actor-id"))
	_ = viper.BindPFlag("store.driver", pf.Lookup("store"))
	_ = viper.BindPFlag("store.dsn", pf.Lookup("dsn"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(logCmd())
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Store.Workspace == "" || cfg.Store.Workspace == "." {
		cfg.Store.Workspace = workspace
	}
	if v := viper.GetString("store.driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("store.dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("log.level"); v != "" {
		cfg.Log.Level = v
	}
	for key, dst := range map[string]*string{
		"admin_token": &cfg.Server.AdminToken,
		"jwt_secret":  &cfg.Server.JWTSecret,
	} {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withApp runs fn against the configured store. The memory driver is
// refused because nothing would outlive the command.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Driver == store.DriverMemory {
		return errors.New("the memory store does not persist between commands; use --store sqlite or postgres")
	}
	a, err := app.Build(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func cliLogger(cfg *config.Config) *slog.Logger {
	return app.NewLogger(os.Stderr, cfg.Log.Level, "text")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
