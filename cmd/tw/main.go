package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskwire/internal/config"
	"taskwire/internal/engine"
	"taskwire/internal/identity"
	"taskwire/internal/registry"
	"taskwire/internal/server"
	"taskwire/internal/store"
	taskwiresdk "taskwire/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tw",
	Short: "Taskwire CLI",
	Long: `Taskwire is a collaborative task tracker. A server pushes every task
mutation to all of a user's live connections; the client commands speak the
same websocket protocol.`,
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("TASKWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "ws://127.0.0.1:8080/ws", "server websocket URL")
	rootCmd.PersistentFlags().String("token", "", "identity token for task commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(taskCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Taskwire server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(workspace)
			}
			cfg.ApplyEnv(
				viper.GetString("listen"),
				viper.GetString("environment"),
				viper.GetString("users-root"),
				viper.GetString("registration-secrets"),
				viper.GetString("certificate"),
				viper.GetString("private-key"),
			)
			if err := cfg.Validate(); err != nil {
				return err
			}

			st := store.New(cfg.UsersRoot)
			if err := st.EnsureRoot(); err != nil {
				return err
			}
			reg := registry.New()
			eng := engine.New(st, reg)
			handler, err := server.New(server.Config{
				Engine:   eng,
				Identity: identity.Service{Store: st, Secrets: cfg.Registration.Secrets},
				Registry: reg,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: cfg.Listen, Handler: handler}
			errCh := make(chan error, 1)
			go func() {
				fmt.Printf("taskwire listening on %s (env=%s tls=%v)\n", cfg.Listen, cfg.Environment, cfg.TLSEnabled())
				var err error
				if cfg.TLSEnabled() {
					err = srv.ListenAndServeTLS(cfg.TLS.Certificate, cfg.TLS.PrivateKey)
				} else {
					err = srv.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().String("listen", "", "listen address (overrides config)")
	cmd.Flags().String("users-root", "", "task record root directory (overrides config)")
	_ = viper.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("users-root", cmd.Flags().Lookup("users-root"))
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage server config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default taskwire.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func registerCmd() *cobra.Command {
	var username, password, secret string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *taskwiresdk.Client) error {
				token, err := c.Register(username, password, secret)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&secret, "secret", "", "registration secret")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Resolve credentials to an identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *taskwiresdk.Client) error {
				token, err := c.Login(username, password)
				if err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskLifecycleCmd("start", "Start a task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Start(id) }))
	task.AddCommand(taskLifecycleCmd("pause", "Pause a running task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Pause(id) }))
	task.AddCommand(taskLifecycleCmd("resume", "Resume a paused task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Resume(id) }))
	task.AddCommand(taskLifecycleCmd("restart", "Restart a completed task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Restart(id) }))
	task.AddCommand(taskLifecycleCmd("complete", "Complete a task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Complete(id) }))
	task.AddCommand(taskLifecycleCmd("copy", "Copy a task", func(c *taskwiresdk.Client, id string) (taskwiresdk.Task, error) { return c.Copy(id) }))
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskRenameCmd())
	task.AddCommand(taskPriorityCmd())
	return task
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				tasks, err := c.List()
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var name, project string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				t, err := c.CreateTask(name, project, priority)
				if err != nil {
					return err
				}
				return printTasks([]taskwiresdk.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&project, "project", "", "project label")
	cmd.Flags().IntVar(&priority, "priority", 0, "ordering hint")
	return cmd
}

func taskLifecycleCmd(use, short string, fn func(*taskwiresdk.Client, string) (taskwiresdk.Task, error)) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				t, err := fn(c, id)
				if err != nil {
					return err
				}
				return printTasks([]taskwiresdk.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				if err := c.Delete(id); err != nil {
					return err
				}
				fmt.Println("deleted", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskRenameCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				t, err := c.UpdateName(id, name)
				if err != nil {
					return err
				}
				return printTasks([]taskwiresdk.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskPriorityCmd() *cobra.Command {
	var id string
	var priority int
	cmd := &cobra.Command{
		Use:   "priority",
		Short: "Change a task's priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(func(c *taskwiresdk.Client) error {
				t, err := c.UpdatePriority(id, priority)
				if err != nil {
					return err
				}
				return printTasks([]taskwiresdk.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func withClient(fn func(*taskwiresdk.Client) error) error {
	c, err := taskwiresdk.Dial(viper.GetString("server"))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func withAuthedClient(fn func(*taskwiresdk.Client) error) error {
	token := viper.GetString("token")
	if token == "" {
		return fmt.Errorf("--token required (obtain one with tw login)")
	}
	return withClient(func(c *taskwiresdk.Client) error {
		c.Token = token
		return fn(c)
	})
}

func printTasks(tasks []taskwiresdk.Task) error {
	if viper.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}
	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"ID", "NAME", "PROJECT", "PRIORITY", "STATE", "ELAPSED"})
	for _, t := range tasks {
		w.AppendRow(table.Row{t.ID, t.Name, t.Project, t.Priority, taskState(t), formatElapsed(t.Elapsed)})
	}
	w.Render()
	return nil
}

func taskState(t taskwiresdk.Task) string {
	switch {
	case t.CompletedAt != 0:
		return "completed"
	case t.PausedAt != 0:
		return "paused"
	case t.StartedAt != 0:
		return "started"
	default:
		return "created"
	}
}

func formatElapsed(millis int64) string {
	return (time.Duration(millis) * time.Millisecond).Truncate(time.Second).String()
}
