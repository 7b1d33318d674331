package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regtrack/internal/app"
	"regtrack/internal/config"
	"regtrack/internal/db"
	"regtrack/internal/domain"
	"regtrack/internal/engine"
	"regtrack/internal/repo"
	"regtrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rt",
	Short: "Regtrack CLI",
	Long: `Regtrack tracks registration processes for country/manufacturer pairs.
Core concepts:
- Workspace: a directory holding the .regtrack database and regtrack.yml.
- Catalog: statuses grouped into ordered stages, seeded from regtrack.yml.
- Process: one registration pipeline instance; it always sits in exactly one
  status, and every stay is recorded as a history interval.
- Priority: derived urgency (-1 stopped, 0 on track, >0 days overdue),
  recomputed on every write and by 'rt admin recompute'.
- Periods: per-stage duration analytics built from the history ledger.
- Event log: diary of changes, view with 'rt log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REGTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(periodsCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(serveCmd())
}

func processCmd() *cobra.Command {
	proc := &cobra.Command{
		Use:   "process",
		Short: "Manage registration processes",
	}
	proc.AddCommand(processCreateCmd())
	proc.AddCommand(processListCmd())
	proc.AddCommand(processShowCmd())
	proc.AddCommand(processTransitionCmd())
	proc.AddCommand(processTrashCmd())
	proc.AddCommand(processRestoreCmd())
	return proc
}

func processCreateCmd() *cobra.Command {
	var opts engine.ProcessCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProcess(ctx, opts)
				if err != nil {
					return err
				}
				p, err = e.Repo.GetProcess(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "process id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Country, "country", "", "target country")
	cmd.Flags().StringVar(&opts.Manufacturer, "manufacturer", "", "manufacturer name")
	cmd.Flags().Int64Var(&opts.StatusID, "status", 0, "initial status id")
	_ = cmd.MarkFlagRequired("country")
	_ = cmd.MarkFlagRequired("manufacturer")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func processListCmd() *cobra.Command {
	var f repo.ProcessFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProcesses(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Country", "Manufacturer", "Status", "Priority", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Country, p.Manufacturer, statusName(e, p.StatusID), p.Priority, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.StatusID, "status", 0, "filter by status id")
	cmd.Flags().Int64Var(&f.StageID, "stage", 0, "filter by stage id")
	cmd.Flags().StringVar(&f.Country, "country", "", "filter by country")
	cmd.Flags().BoolVar(&f.IncludeTrashed, "trashed", false, "include soft-deleted processes")
	cmd.Flags().BoolVar(&f.OrderByPriority, "by-priority", false, "order by priority descending")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func processShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				lastActivity, err := e.LastActivityAt(ctx, p.ID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"process":          p,
					"status_name":      statusName(e, p.StatusID),
					"last_activity_at": lastActivity,
				}
				if stage, ok := e.Catalog.StageForStatus(p.StatusID); ok {
					out["stage_name"] = stage.Name
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func processTransitionCmd() *cobra.Command {
	var statusID int64
	var at string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move a process to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TransitionOptions{
				ProcessID:   args[0],
				NewStatusID: statusID,
				ActorID:     viper.GetString("actor-id"),
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				opts.OccurredAt = ts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.TransitionStatus(ctx, opts); err != nil {
					return err
				}
				p, err := e.Repo.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&statusID, "status", 0, "target status id")
	cmd.Flags().StringVar(&at, "at", "", "transition timestamp (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func processTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash <id>",
		Short: "Soft-delete a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Trash(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func processRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Restore a soft-deleted process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Restore(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	hist := &cobra.Command{
		Use:   "history",
		Short: "Inspect and correct the status history ledger",
	}
	hist.AddCommand(historyShowCmd())
	hist.AddCommand(historyEditCmd())
	hist.AddCommand(historyDeleteCmd())
	return hist
}

func historyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <process-id>",
		Short: "Show a process ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetProcess(ctx, args[0]); err != nil {
					return err
				}
				entries, err := e.Repo.ListHistoryEntries(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Start", "End", "Days"})
				for _, h := range entries {
					end := "open"
					if h.EndAt != nil {
						end = *h.EndAt
					}
					days := ""
					if h.DurationDays != nil {
						days = fmt.Sprintf("%d", *h.DurationDays)
					}
					tw.AppendRow(table.Row{h.ID, statusName(e, h.StatusID), h.StartAt, end, days})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func historyEditCmd() *cobra.Command {
	var statusID int64
	var startAt, endAt string
	cmd := &cobra.Command{
		Use:   "edit <entry-id>",
		Short: "Edit a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.HistoryEditOptions{EntryID: args[0]}
			if cmd.Flags().Changed("status") {
				opts.NewStatusID = &statusID
			}
			if startAt != "" {
				ts, err := time.Parse(time.RFC3339, startAt)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				opts.NewStartAt = &ts
			}
			if endAt != "" {
				ts, err := time.Parse(time.RFC3339, endAt)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				opts.NewEndAt = &ts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.EditHistoryEntry(ctx, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().Int64Var(&statusID, "status", 0, "corrected status id")
	cmd.Flags().StringVar(&startAt, "start", "", "corrected start (RFC3339)")
	cmd.Flags().StringVar(&endAt, "end", "", "corrected end (RFC3339)")
	return cmd
}

func historyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <entry-id>",
		Short: "Delete a closed ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteHistoryEntry(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func periodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods <process-id>",
		Short: "Per-stage period analytics for a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetProcess(ctx, args[0]); err != nil {
					return err
				}
				periods, err := e.BuildPeriods(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(periods)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Start", "End", "Days", "Ratio %"})
				for _, p := range periods {
					tw.AppendRow(table.Row{p.StageName, p.StartAt, p.EndAt, p.DurationDays, p.DurationRatio})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commentCmd() *cobra.Command {
	cm := &cobra.Command{
		Use:   "comment",
		Short: "Process comments",
	}
	cm.AddCommand(commentAddCmd())
	cm.AddCommand(commentListCmd())
	return cm
}

func commentAddCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "add <process-id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, args[0], viper.GetString("actor-id"), body)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <process-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				comments, err := e.Repo.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(comments)
			})
		},
	}
	return cmd
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the status catalog",
	}
	cat.AddCommand(catalogShowCmd())
	cat.AddCommand(catalogImportCmd())
	cat.AddCommand(catalogInitCmd())
	return cat
}

func catalogShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"stages":   e.Catalog.Stages(),
						"statuses": e.Catalog.Statuses(),
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Name", "Stage", "Deadline days", "Stopped"})
				for _, s := range e.Catalog.Statuses() {
					deadline := ""
					if s.DeadlineDays != nil {
						deadline = fmt.Sprintf("%d", *s.DeadlineDays)
					}
					stage := ""
					if sg, ok := e.Catalog.StageByID(s.StageID); ok {
						stage = sg.Name
					}
					tw.AppendRow(table.Row{s.ID, s.Name, stage, deadline, s.Stopped})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func catalogImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import catalog config from YAML into the workspace and DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			if err := os.WriteFile(config.Path(workspace), data, 0o644); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cat, err := e.ImportCatalog(ctx, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d stages, %d statuses\n", len(cat.Stages()), len(cat.Statuses()))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func catalogInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default regtrack.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var processID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, processID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&processID, "process", "", "process id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   viper.GetString("actor-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s\n", key.ID, key.ActorID)
				fmt.Printf("Secret (save it now, it is not stored): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func adminCmd() *cobra.Command {
	adm := &cobra.Command{
		Use:   "admin",
		Short: "Administrative maintenance",
	}
	adm.AddCommand(adminRecomputeCmd())
	return adm
}

func adminRecomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute every process priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RecomputeAllPriorities(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Recomputed %d processes (%d failed)\n", res.Processed, res.Failed)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, apiKeyRole string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:  os.Getenv("REGTRACK_JWT_SECRET"),
				APIKeyRole: apiKeyRole,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REGTRACK_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Regtrack API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&apiKeyRole, "api-key-role", "operator", "role granted to API-key principals")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer e.DB.Close()
	return fn(ctx, e)
}

func statusName(e engine.Engine, statusID int64) string {
	if s, ok := e.Catalog.StatusByID(statusID); ok {
		return s.Name
	}
	return fmt.Sprintf("status %d", statusID)
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
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
