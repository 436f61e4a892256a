// Command edge-ai runs the edge AI/IoT platform: device telemetry
// ingestion, the automation rule engine, LLM-backed agents, and the
// scheduler, behind one binary.
//
// # Basic Usage
//
// Start the server:
//
//	edge-ai serve --host 0.0.0.0 --port 8080
//
// One-shot completion:
//
//	edge-ai prompt "why is the workshop sensor offline?"
//
// Interactive chat:
//
//	edge-ai chat --session debugging
//
// # Environment Variables
//
//   - OLLAMA_ENDPOINT: Ollama server endpoint (default http://localhost:11434)
//   - OPENAI_API_KEY / OPENAI_ENDPOINT: OpenAI-compatible backend
//   - LLM_MODEL, LLM_PROVIDER: default model and provider
//   - NEOTALK_JWT_SECRET: HS256 secret for session tokens
//   - NEOTALK_LOG_JSON: switch logs to JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neotalk/edge-ai/internal/actions"
	"github.com/neotalk/edge-ai/internal/agent"
	"github.com/neotalk/edge-ai/internal/alerts"
	"github.com/neotalk/edge-ai/internal/auth"
	"github.com/neotalk/edge-ai/internal/bus"
	"github.com/neotalk/edge-ai/internal/config"
	"github.com/neotalk/edge-ai/internal/devices"
	"github.com/neotalk/edge-ai/internal/llm"
	"github.com/neotalk/edge-ai/internal/memory"
	"github.com/neotalk/edge-ai/internal/plugins"
	"github.com/neotalk/edge-ai/internal/rules"
	"github.com/neotalk/edge-ai/internal/scheduler"
	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/internal/tools"
	"github.com/neotalk/edge-ai/internal/workflow"
	"github.com/neotalk/edge-ai/pkg/models"
)

const (
	exitOK               = 0
	exitFailure          = 1
	exitPluginValidation = 2
)

var (
	flagModel   string
	flagVerbose bool
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "edge-ai",
		Short:         "Edge AI/IoT platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model override")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	root.AddCommand(
		serveCommand(cfg),
		promptCommand(cfg),
		chatCommand(cfg),
		listModelsCommand(cfg),
		pluginCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		return exitFailure
	}
	return exitOK
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func exitCodeOf(err error) (int, bool) {
	if ee, ok := err.(*exitError); ok {
		return ee.code, true
	}
	return 0, false
}

func setupLogging(cfg *config.Config) {
	logger := cfg.Logger()
	if flagVerbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		if cfg.LogJSON {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
		}
	}
	slog.SetDefault(logger)
}

// envInstance builds a backend instance from the environment defaults.
func envInstance(cfg *config.Config) models.LlmBackendInstance {
	model := cfg.Model
	if flagModel != "" {
		model = flagModel
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return models.LlmBackendInstance{
			ID:          "env-openai",
			DisplayName: "OpenAI (env)",
			BackendType: models.BackendOpenAI,
			Endpoint:    cfg.OpenAIEndpoint,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       model,
		}
	default:
		return models.LlmBackendInstance{
			ID:          "env-ollama",
			DisplayName: "Ollama (env)",
			BackendType: models.BackendOllama,
			Endpoint:    cfg.OllamaEndpoint,
			Model:       model,
		}
	}
}

func serveCommand(cfg *config.Config) *cobra.Command {
	var host string
	var port int
	var dataDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the platform server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, host, port, dataDir)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "data directory")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, host string, port int, dataDir string) error {
	if err := os.MkdirAll(filepath.Join(dataDir, "messages"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "workflows"), 0o755); err != nil {
		return err
	}

	open := func(name string) (*store.Store, error) {
		return store.Open(filepath.Join(dataDir, name))
	}
	mainStore, err := open("devices.redb")
	if err != nil {
		return err
	}
	defer mainStore.Close()
	messageStore, err := store.Open(filepath.Join(dataDir, "messages", "messages.redb"))
	if err != nil {
		return err
	}
	defer messageStore.Close()
	memoryStore, err := open("llm_memory.redb")
	if err != nil {
		return err
	}
	defer memoryStore.Close()
	backendStore, err := open("llm_backends.redb")
	if err != nil {
		return err
	}
	defer backendStore.Close()
	userStore, err := open("users.redb")
	if err != nil {
		return err
	}
	defer userStore.Close()

	userSvc := auth.NewUserService(userStore)
	if existing, err := userSvc.List(); err == nil && len(existing) == 0 {
		if _, err := userSvc.Register("admin", "admin", models.RoleAdmin); err == nil {
			slog.Warn("bootstrapped default admin user; change its password")
		}
	}
	jwtSvc := auth.NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)

	eventBus := bus.New()
	deviceSvc := devices.NewService(mainStore, eventBus)
	alertMgr := alerts.NewManager(mainStore, eventBus)
	tracker := workflow.New(cfg.ConcurrentLimit)

	engine := rules.NewEngine(deviceSvc,
		rules.WithActionExecutor(actions.New(deviceSvc, alertMgr, tracker, eventBus)))

	llmMgr := llm.NewInstanceManager(backendStore)
	if _, ok := llmMgr.ActiveID(); !ok {
		instance := envInstance(cfg)
		if err := llmMgr.UpsertInstance(instance); err == nil {
			if err := llmMgr.SetActive(instance.ID); err != nil {
				slog.Warn("activating env backend failed", "error", err)
			}
		} else {
			slog.Warn("registering env backend failed", "error", err)
		}
	}

	sessions := agent.NewSessionManager(messageStore)
	registry := agent.NewToolRegistry()
	tools.RegisterDeviceTools(registry, deviceSvc)
	tools.RegisterRuleTools(registry, engine)
	tools.RegisterMemoryTools(registry, memory.New(memoryStore))

	executor := agent.NewExecutor(agent.NewAgentConfig(cfg), sessions, llmMgr, registry)

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.ConcurrentLimit,
		TickInterval:  time.Second,
	}, scheduler.AgentRunnerFunc(func(ctx context.Context, agentID string) error {
		for range executor.ProcessMessageEvents(ctx, "scheduled:"+agentID, "Run your scheduled check.") {
		}
		return nil
	}))
	sched.Start(ctx)
	defer sched.Stop()

	// Rule evaluation follows the telemetry stream.
	sub := eventBus.Subscribe()
	defer sub.Close()
	go func() {
		for ev := range sub.C() {
			if ev.Type == bus.EventDeviceMetric {
				engine.ExecuteTriggered(ctx)
			}
		}
	}()

	if err := deviceSvc.Start(ctx); err != nil {
		return err
	}
	defer deviceSvc.Stop(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		user, err := userSvc.Authenticate(creds.Username, creds.Password)
		if err != nil {
			code, _ := auth.CodeOf(err)
			http.Error(w, string(code), http.StatusUnauthorized)
			return
		}
		token, err := jwtSvc.GenerateToken(user)
		if err != nil {
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func promptCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <TEXT>",
		Short: "Single-shot completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg)
			runtime, err := llm.DefaultRuntimeBuilder(envInstance(cfg))
			if err != nil {
				return err
			}

			start := time.Now()
			out, err := runtime.Generate(cmd.Context(), &llm.Input{
				Messages: []models.Message{{Role: models.RoleUser, Content: strings.Join(args, " ")}},
			})
			if err != nil {
				return err
			}
			fmt.Println(out.Text)
			fmt.Printf("\n(%d ms)\n", time.Since(start).Milliseconds())
			return nil
		},
	}
}

func chatCommand(cfg *config.Config) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat REPL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cfg)
			runtime, err := llm.DefaultRuntimeBuilder(envInstance(cfg))
			if err != nil {
				return err
			}

			var history []models.Message
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("edge-ai chat (quit/exit to leave, clear to reset)")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "quit", "exit":
					return nil
				case "clear":
					history = nil
					fmt.Println("(history cleared)")
					continue
				}

				history = append(history, models.Message{Role: models.RoleUser, Content: line})
				stream, err := runtime.GenerateStream(cmd.Context(), &llm.Input{Messages: history})
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}
				var reply string
				for chunk := range stream {
					if chunk.Err != nil {
						fmt.Fprintln(os.Stderr, "error:", chunk.Err)
						break
					}
					if chunk.Delta != "" {
						reply += chunk.Delta
						fmt.Print(chunk.Delta)
					}
				}
				fmt.Println()
				history = append(history, models.Message{Role: models.RoleAssistant, Content: reply})
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	return cmd
}

func listModelsCommand(cfg *config.Config) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "list-models",
		Short: "List models available on an Ollama endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cfg)
			target := endpoint
			if target == "" {
				target = cfg.OllamaEndpoint
			}
			found, err := llm.ListOllamaModels(cmd.Context(), target)
			if err != nil {
				return err
			}
			for _, model := range found {
				fmt.Printf("%-40s %6.2f GB\n", model.Name, float64(model.Size)/(1<<30))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Ollama endpoint URL")
	return cmd
}

func pluginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Manage plugins",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <PATH>",
		Short: "Validate a plugin manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			manifest, err := plugins.Load(args[0])
			if err != nil {
				return err
			}
			issues := manifest.Validate()
			if len(issues) == 0 {
				fmt.Printf("%s %s: ok\n", manifest.Name, manifest.Version)
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintln(os.Stderr, " -", issue)
			}
			return &exitError{
				code: exitPluginValidation,
				err:  fmt.Errorf("%d validation issue(s)", len(issues)),
			}
		},
	})

	var pluginType string
	create := &cobra.Command{
		Use:   "create <NAME>",
		Short: "Scaffold a new plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := plugins.Create(".", args[0], pluginType); err != nil {
				return err
			}
			fmt.Println("created", args[0])
			return nil
		},
	}
	create.Flags().StringVar(&pluginType, "type", "tool", "plugin type")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list [DIR]",
		Short: "List plugins in a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			found, err := plugins.List(dir)
			if err != nil {
				return err
			}
			for _, manifest := range found {
				fmt.Printf("%-24s %-10s %s\n", manifest.Name, manifest.Version, manifest.Type)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info <PATH>",
		Short: "Show plugin manifest details",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			manifest, err := plugins.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:         %s\n", manifest.Name)
			fmt.Printf("version:      %s\n", manifest.Version)
			fmt.Printf("type:         %s\n", manifest.Type)
			if manifest.Description != "" {
				fmt.Printf("description:  %s\n", manifest.Description)
			}
			if manifest.Author != "" {
				fmt.Printf("author:       %s\n", manifest.Author)
			}
			if len(manifest.Capabilities) > 0 {
				fmt.Printf("capabilities: %s\n", strings.Join(manifest.Capabilities, ", "))
			}
			return nil
		},
	})
	return cmd
}
