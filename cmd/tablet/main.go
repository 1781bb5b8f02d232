package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JediahDizon/project-naa/internal/attach"
	"github.com/JediahDizon/project-naa/internal/changelog"
	"github.com/JediahDizon/project-naa/internal/config"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/engine"
	"github.com/JediahDizon/project-naa/internal/logging"
	"github.com/JediahDizon/project-naa/internal/remote"
	"github.com/JediahDizon/project-naa/internal/server"
	"github.com/JediahDizon/project-naa/internal/session"
	"github.com/JediahDizon/project-naa/internal/store"
	"github.com/JediahDizon/project-naa/internal/syncer"
)

const userHashKey = "TABLET_USER_HASH"

var rootCmd = &cobra.Command{
	Use:   "tablet",
	Short: "Offline field data store",
	Long: `tablet keeps field projects, tasks, form values and attachments in a
per-user SQLite store and queues local edits in a changelog until they sync.
Core concepts:
- Namespace: one directory per login (username + password hash) holding tablet.db and files.
- Entities: projects, tasks, form definitions, form values, images, form files, translations.
- Changelog: pending local edits keyed by entity id; reads merge them over the canonical row.
- Sync: pull remote changes per table since the last clean run, then push outstanding logs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env := filepath.Join(viper.GetString("dir"), ".env")
		if err := godotenv.Load(env); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", env, err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TABLET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("dir", "d", ".", "directory holding tablet.yml and .env")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-hash", "", "namespace to open (set by tablet login)")
	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-hash", rootCmd.PersistentFlags().Lookup("user-hash"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(schemaCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(translationCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage tablet.yml"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default tablet.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("dir"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.Template()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tablet.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("dir")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cfg.AddCommand(initCmd, validateCmd)
	return cfg
}

func loginCmd() *cobra.Command {
	var username, password string
	var online bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a user namespace",
		Long: `Without --online, opens the namespace of a user that already logged in on
this device. With --online, authenticates against remote.base_url first and
stores the user record for later offline logins.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var sess session.Session
			var user domain.User
			if online {
				client := remoteClient(cfg)
				id, err := client.Login(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				sess, user, err = session.AddLogin(nil, cfg.Store.Root, cfg.Store.Platform, domain.User{
					ID:          id.Subject,
					Username:    username,
					Email:       id.Email,
					DisplayName: id.Name,
					Roles:       id.Roles,
				}, password)
				if err != nil {
					return err
				}
			} else {
				sess, user, err = session.Login(nil, cfg.Store.Root, cfg.Store.Platform, username, password)
				if err != nil {
					return err
				}
			}
			env := filepath.Join(viper.GetString("dir"), ".env")
			if err := setEnvValue(env, userHashKey, sess.UserHash); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(user)
			}
			fmt.Printf("Logged in as %s; namespace %s\n", user.Username, sess.Dir())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().BoolVar(&online, "online", false, "authenticate against the remote first")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current user and outstanding work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, sess session.Session) error {
				user, err := sess.User()
				if err != nil {
					return err
				}
				outstanding, err := e.Changelog.Pending(ctx)
				if err != nil {
					return err
				}
				byTable := map[string]int{}
				for _, l := range outstanding {
					byTable[l.TableName]++
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"user":        user,
						"namespace":   sess.Dir(),
						"outstanding": byTable,
					})
				}
				fmt.Printf("User: %s\nNamespace: %s\n", user.Username, sess.Dir())
				tw := newTable("Table", "Outstanding")
				for _, t := range store.Tables() {
					if n := byTable[t]; n > 0 {
						tw.AppendRow(table.Row{t, n})
					}
				}
				tw.AppendFooter(table.Row{"Total", len(outstanding)})
				tw.Render()
				return nil
			})
		},
	}
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the store schema version and tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				return printJSONOrTable(map[string]any{
					"version": e.Store.SchemaVersion(),
					"tables":  store.Tables(),
				})
			})
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				items, err := e.GetProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Assigned To", "Tasks", "Files")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.AssignedTo, len(p.Tasks), len(p.Files)})
				}
				tw.Render()
				return nil
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its tasks, form values, attachments and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				if err := e.DeleteProject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted project %s\n", args[0])
				return nil
			})
		},
	})
	return prj
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	var projectID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a project's tasks in project order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				items, err := e.GetTasksByProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	list.Flags().StringVar(&projectID, "project", "", "project id")
	_ = list.MarkFlagRequired("project")
	task.AddCommand(list)
	task.AddCommand(&cobra.Command{
		Use:   "unlinked",
		Short: "List tasks with pending edits that no project references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				items, err := e.UnlinkedTasks(ctx)
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	})
	task.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with pending edits applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				t, err := e.MergedTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	return task
}

func formCmd() *cobra.Command {
	form := &cobra.Command{Use: "form", Short: "Inspect form definitions and values"}
	form.AddCommand(&cobra.Command{
		Use:   "values <task-id>",
		Short: "Show a task's form values with pending edits applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				v, err := e.GetFormValue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	})
	form.AddCommand(&cobra.Command{
		Use:   "definition <task-id>",
		Short: "Show the form definition a task's values use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				d, err := e.GetFormDefinitionByTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	})
	return form
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect and resolve changelog entries"}

	var tables, statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List changelog entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := changelog.Filter{Tables: tables}
			for _, s := range statuses {
				st, err := domain.ParseStatus(s)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, st)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				logs, err := e.Changelog.Logs(ctx, f)
				if err != nil {
					return err
				}
				return printLogs(logs)
			})
		},
	}
	list.Flags().StringSliceVar(&tables, "table", nil, "table filter (repeatable)")
	list.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	lg.AddCommand(list)

	var pendingTables []string
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List entries that still need to be pushed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				logs, err := e.Changelog.Pending(ctx, pendingTables...)
				if err != nil {
					return err
				}
				return printLogs(logs)
			})
		},
	}
	pending.Flags().StringSliceVar(&pendingTables, "table", nil, "table filter (repeatable)")
	lg.AddCommand(pending)

	lg.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				l, err := e.Changelog.GetLog(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	})

	var message string
	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an entry to a new status (success and deleted remove it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				if err := e.Changelog.SetStatus(ctx, args[0], st, message); err != nil {
					return err
				}
				fmt.Printf("%s -> %s\n", args[0], st)
				return nil
			})
		},
	}
	status.Flags().StringVar(&message, "message", "", "status message")
	lg.AddCommand(status)

	lg.AddCommand(&cobra.Command{
		Use:   "export <id>",
		Short: "Write an entry's payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				return e.ExportLog(ctx, args[0])
			})
		},
	})
	lg.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Drop an entry without pushing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				return e.Changelog.DeleteLog(ctx, args[0])
			})
		},
	})
	return lg
}

func syncCmd() *cobra.Command {
	sc := &cobra.Command{Use: "sync", Short: "Synchronize with the remote"}
	var pullOnly, pushOnly bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Pull remote changes, then push outstanding logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pullOnly && pushOnly {
				return fmt.Errorf("--pull and --push are exclusive")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				client := remoteClient(e.Config)
				client.BearerToken = viper.GetString("token")
				s := syncer.New(e, client, e.Log)
				var res syncer.Result
				switch {
				case pullOnly:
					for _, t := range s.Tables {
						tr, err := s.Pull(ctx, t)
						if err != nil {
							return err
						}
						res.Pulled = append(res.Pulled, tr)
					}
				case pushOnly:
					pushed, err := s.Push(ctx)
					if err != nil {
						return err
					}
					res.Pushed = pushed
				default:
					var err error
					if res, err = s.Run(ctx); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable("Direction", "Table", "Count", "Failed")
				for _, tr := range res.Pulled {
					tw.AppendRow(table.Row{"pull", tr.Table, tr.Count, tr.Failed})
				}
				for _, tr := range res.Pushed {
					tw.AppendRow(table.Row{"push", tr.Table, tr.Count, tr.Failed})
				}
				tw.AppendFooter(table.Row{"", "", "Failed", res.Failed()})
				tw.Render()
				return nil
			})
		},
	}
	run.Flags().BoolVar(&pullOnly, "pull", false, "only pull")
	run.Flags().BoolVar(&pushOnly, "push", false, "only push")
	run.Flags().String("token", "", "bearer token for the remote (TABLET_TOKEN)")
	_ = viper.BindPFlag("token", run.Flags().Lookup("token"))
	sc.AddCommand(run)

	var tableName string
	logs := &cobra.Command{
		Use:   "logs",
		Short: "List sync runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				items, err := e.GetSyncLogs(ctx, tableName)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Timestamp", "Table", "Type", "Errors")
				for _, r := range items {
					typ := "pull"
					if r.Type == domain.SyncPush {
						typ = "push"
					}
					tw.AppendRow(table.Row{r.Timestamp.Format(time.RFC3339), r.TableName, typ, len(r.Errors)})
				}
				tw.Render()
				return nil
			})
		},
	}
	logs.Flags().StringVar(&tableName, "table", "", "table filter")
	sc.AddCommand(logs)

	sc.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget sync history so the next run pulls everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				n, err := e.ClearSyncLogs(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Cleared %d sync records\n", n)
				return nil
			})
		},
	})
	return sc
}

func translationCmd() *cobra.Command {
	tr := &cobra.Command{Use: "translation", Short: "Inspect translations"}
	tr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored locales",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				items, err := e.GetTranslations(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Locale", "Keys")
				for _, t := range items {
					tw.AppendRow(table.Row{t.Locale, len(t.Translation)})
				}
				tw.Render()
				return nil
			})
		},
	})
	tr.AddCommand(&cobra.Command{
		Use:   "show <locale>",
		Short: "Show one locale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				t, err := e.GetTranslation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	})
	return tr
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ session.Session) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: e.Config.Server.JWTSecret}
				if s := viper.GetString("jwt-secret"); s != "" {
					authCfg.JWTSecret = s
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: e.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				if authCfg.JWTSecret == "" {
					e.Log.Warn("serving without bearer auth; keep the listener on loopback")
				}
				fmt.Printf("Serving tablet API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer auth (TABLET_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("dir"))
	if err != nil {
		return nil, err
	}
	if root := viper.GetString("store-root"); root != "" {
		cfg.Store.Root = root
	}
	if url := viper.GetString("remote-base-url"); url != "" {
		cfg.Remote.BaseURL = url
	}
	return cfg, nil
}

func remoteClient(cfg *config.Config) *remote.Client {
	c := remote.New(cfg.Remote.BaseURL)
	if cfg.Remote.ClientID != "" {
		c.ClientID = cfg.Remote.ClientID
	}
	if cfg.Remote.Timeout > 0 {
		c.Timeout = cfg.Remote.Timeout
	}
	c.RequiredRole = cfg.Remote.RequiredRole
	return c
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, session.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	hash := viper.GetString("user-hash")
	if hash == "" {
		return fmt.Errorf("%w: run tablet login first", domain.ErrNotInitialized)
	}
	sess := session.New(nil, cfg.Store.Root, hash, cfg.Store.Platform)
	e, err := engine.Open(ctx, engine.Options{
		Config:  cfg,
		Session: sess,
		Logger:  logger.WithField("user", shortHash(hash)),
		Sharer:  attach.WriterSharer{W: os.Stdout},
	})
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e, sess)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Name", "Type", "Status", "Assigned To")
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Name, t.Type, t.Status, t.AssignedTo})
	}
	tw.Render()
	return nil
}

func printLogs(logs []domain.Log) error {
	if viper.GetBool("json") {
		return printJSON(logs)
	}
	tw := newTable("ID", "Table", "Status", "Timestamp", "Message", "Errors")
	for _, l := range logs {
		tw.AppendRow(table.Row{l.ID, l.TableName, l.Status, l.Timestamp.Format(time.RFC3339), l.Message, len(l.Errors)})
	}
	tw.Render()
	return nil
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

// setEnvValue rewrites one key in a .env file, keeping the others.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return godotenv.Write(env, path)
}
