package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/altwn/consilium/internal/config"
	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/executor"
	"github.com/altwn/consilium/internal/export"
	"github.com/altwn/consilium/internal/llm"
	"github.com/altwn/consilium/internal/orchestrator"
	"github.com/altwn/consilium/internal/persona"
	"github.com/altwn/consilium/internal/prompt"
	"github.com/altwn/consilium/internal/storage"
	"github.com/altwn/consilium/web/handlers"
)

var (
	dbPath    string
	cfgPath   string
	appConfig *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "consilium",
	Short: "Multi-agent debate engine for forecasting questions",
	Long: `consilium orchestrates structured debates between AI agents over
forecasting questions and factual claims.

Agents argue in rounds, each producing a position with a full reasoning
cycle, until the roster reaches consensus, stalls out, or hits a limit.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			appConfig, err = config.LoadFrom(cfgPath)
		} else {
			appConfig, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.consilium/consilium.db)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.consilium/config.yaml)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(personasCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

func getStorage() (storage.Storage, error) {
	path := dbPath
	if path == "" {
		path = appConfig.Storage.Path
	}
	if path == "" {
		path = storage.DefaultDBPath()
	}

	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(); err != nil {
		return nil, err
	}
	return store, nil
}

func getOrchestrator(store storage.Storage) *orchestrator.Orchestrator {
	deps := executor.Deps{
		LLM: llm.NewHTTPClient(llm.Config{
			BaseURL: appConfig.LLM.BaseURL,
			APIKey:  appConfig.LLM.APIKey,
			Timeout: appConfig.LLM.Timeout,
		}),
		Prompts: prompt.New(),
	}
	return orchestrator.New(store, deps, appConfig.DebatePolicy(), slog.Default())
}

// ============================================================================
// ASK COMMAND
// ============================================================================

var askCmd = &cobra.Command{
	Use:   "ask [title]",
	Short: "Create a new question",
	Long: `Create a question for agents to debate.

Examples:
  consilium ask "Will the Fed cut rates in December?"
  consilium ask "Largest EV maker by 2027" --type multiple_choice --options Tesla,BYD,VW
  consilium ask "The bridge opened in 1932" --type factual_claim --category history`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var (
	askTypeFlag     string
	askCategoryFlag string
	askDescFlag     string
	askOptionsFlag  string
	askDeadlineFlag string
)

func init() {
	askCmd.Flags().StringVarP(&askTypeFlag, "type", "t", "binary", "Question type (binary, multiple_choice, numeric_series, factual_claim)")
	askCmd.Flags().StringVarP(&askCategoryFlag, "category", "c", "", "Question category")
	askCmd.Flags().StringVarP(&askDescFlag, "description", "d", "", "Longer description")
	askCmd.Flags().StringVar(&askOptionsFlag, "options", "", "Comma-separated options (multiple_choice only)")
	askCmd.Flags().StringVar(&askDeadlineFlag, "deadline", "", "Resolution deadline (RFC 3339 or YYYY-MM-DD)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	store, err := getStorage()
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	question := &core.Question{
		ID:          core.GenerateID(),
		Title:       strings.Join(args, " "),
		Description: askDescFlag,
		Category:    askCategoryFlag,
		Type:        core.QuestionType(askTypeFlag),
		CreatedAt:   time.Now(),
	}
	if askOptionsFlag != "" {
		question.Options = strings.Split(askOptionsFlag, ",")
	}
	if askDeadlineFlag != "" {
		deadline, err := parseDeadline(askDeadlineFlag)
		if err != nil {
			return err
		}
		question.Deadline = &deadline
	}

	switch question.Type {
	case core.QuestionBinary, core.QuestionMultipleChoice, core.QuestionNumericSeries, core.QuestionFactualClaim:
	default:
		return fmt.Errorf("invalid question type: %s", question.Type)
	}
	if question.Type == core.QuestionMultipleChoice && len(question.Options) < 2 {
		return fmt.Errorf("multiple-choice questions need at least 2 options")
	}

	if err := store.CreateQuestion(question); err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}

	fmt.Printf("Created question %s\n", question.ID)
	fmt.Printf("  %s (%s)\n", question.Title, question.Type)
	return nil
}

func parseDeadline(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid deadline: %s (expected RFC 3339 or YYYY-MM-DD)", value)
}

// ============================================================================
// QUESTIONS COMMAND
// ============================================================================

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		questions, err := store.ListQuestions(50, 0)
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			fmt.Println("No questions yet. Create one with: consilium ask \"...\"")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tCATEGORY\tTITLE")
		for _, q := range questions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(q.ID), q.Type, q.Category, truncate(q.Title, 60))
		}
		return w.Flush()
	},
}

// ============================================================================
// AGENTS COMMAND
// ============================================================================

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage debate agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		agents, err := store.ListAgents(storage.AgentFilter{})
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("No agents registered. Add one with: consilium agents add")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODE\tPERSONALITY\tMODEL\tACTIVE")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
				shortID(a.ID), a.Name, a.Mode, a.Personality, a.Model, a.Active)
		}
		return w.Flush()
	},
}

var (
	agentModeFlag        string
	agentPersonalityFlag string
	agentModelFlag       string
	agentTempFlag        float64
	agentMinConfFlag     float64
	agentKeyFlag         string
	agentURLFlag         string
	agentTokenFlag       string
	agentAutoFlag        bool
	agentCategoriesFlag  string
)

var agentsAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a new agent",
	Long: `Register a debate agent.

Examples:
  consilium agents add "Cautious Carl" --personality skeptic --model gpt-4o --api-key $KEY
  consilium agents add "External Bot" --mode webhook --url https://bot.example.com/hook --token $TOKEN`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsAdd,
}

func init() {
	agentsAddCmd.Flags().StringVar(&agentModeFlag, "mode", "managed", "Execution mode (managed, webhook)")
	agentsAddCmd.Flags().StringVarP(&agentPersonalityFlag, "personality", "p", "", "Personality (skeptic, optimist, data_analyst, domain_expert, contrarian, mediator)")
	agentsAddCmd.Flags().StringVarP(&agentModelFlag, "model", "m", "", "Model identifier (managed mode)")
	agentsAddCmd.Flags().Float64Var(&agentTempFlag, "temperature", 0.7, "Sampling temperature [0,1]")
	agentsAddCmd.Flags().Float64Var(&agentMinConfFlag, "min-confidence", 0, "Skip contributions below this confidence")
	agentsAddCmd.Flags().StringVar(&agentKeyFlag, "api-key", "", "API key (managed mode; falls back to config)")
	agentsAddCmd.Flags().StringVar(&agentURLFlag, "url", "", "Webhook URL (webhook mode)")
	agentsAddCmd.Flags().StringVar(&agentTokenFlag, "token", "", "Webhook bearer token (webhook mode)")
	agentsAddCmd.Flags().BoolVar(&agentAutoFlag, "auto", false, "Participate automatically in discussions")
	agentsAddCmd.Flags().StringVar(&agentCategoriesFlag, "categories", "", "Comma-separated categories (empty = all)")

	agentsCmd.AddCommand(agentsAddCmd)
	agentsCmd.AddCommand(agentsListCmd)
}

func runAgentsAdd(cmd *cobra.Command, args []string) error {
	store, err := getStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	agent := &core.AgentContext{
		ID:              core.GenerateID(),
		Name:            args[0],
		Mode:            core.ExecutionMode(agentModeFlag),
		Personality:     agentPersonalityFlag,
		Temperature:     agentTempFlag,
		Model:           agentModelFlag,
		MinConfidence:   agentMinConfFlag,
		APIKey:          agentKeyFlag,
		WebhookURL:      agentURLFlag,
		WebhookToken:    agentTokenFlag,
		Active:          true,
		AutoParticipate: agentAutoFlag,
		CreatedAt:       time.Now(),
	}
	if agentCategoriesFlag != "" {
		agent.Categories = strings.Split(agentCategoriesFlag, ",")
	}

	switch agent.Mode {
	case core.ModeManaged:
		if agent.Model == "" {
			agent.Model = appConfig.LLM.DefaultModel
		}
		if agent.APIKey == "" {
			agent.APIKey = appConfig.LLM.APIKey
		}
		if agent.APIKey == "" {
			return fmt.Errorf("managed agents need an API key (--api-key or LLM_API_KEY)")
		}
	case core.ModeWebhook:
		if agent.WebhookURL == "" || agent.WebhookToken == "" {
			return fmt.Errorf("webhook agents need --url and --token")
		}
	default:
		return fmt.Errorf("invalid mode: %s", agent.Mode)
	}

	if agent.Personality != "" && !persona.Personality(agent.Personality).Valid() {
		return fmt.Errorf("unknown personality: %s", agent.Personality)
	}

	if err := store.CreateAgent(agent); err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	fmt.Printf("Registered agent %s (%s, %s)\n", agent.Name, shortID(agent.ID), agent.Mode)
	return nil
}

// ============================================================================
// START / RUN / STATUS COMMANDS
// ============================================================================

var (
	startAgentsFlag    string
	startMaxRounds     int
	startThresholdFlag float64
)

var startCmd = &cobra.Command{
	Use:   "start [question-id]",
	Short: "Open round 1 of a debate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		var agentIDs []string
		if startAgentsFlag != "" {
			agentIDs = strings.Split(startAgentsFlag, ",")
		}
		cfg := core.DebateConfig{
			MaxRounds:          startMaxRounds,
			ConsensusThreshold: startThresholdFlag,
		}

		result, err := getOrchestrator(store).StartDebate(cmd.Context(), args[0], agentIDs, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("Debate started: round %d with %d agents (round id %s)\n",
			result.RoundNumber, result.AgentCount, shortID(result.RoundID))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [question-id]",
	Short: "Execute rounds until the debate terminates",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebate,
}

func init() {
	startCmd.Flags().StringVar(&startAgentsFlag, "agents", "", "Comma-separated agent ids (empty = all eligible)")
	startCmd.Flags().IntVar(&startMaxRounds, "max-rounds", 0, "Override max rounds")
	startCmd.Flags().Float64Var(&startThresholdFlag, "threshold", 0, "Override consensus threshold")
}

func runDebate(cmd *cobra.Command, args []string) error {
	store, err := getStorage()
	if err != nil {
		return err
	}
	defer store.Close()
	orch := getOrchestrator(store)
	questionID := args[0]

	round, err := store.GetOpenRound(questionID)
	if err != nil {
		return fmt.Errorf("no open round (start the debate first): %w", err)
	}

	for number := round.Number; ; number++ {
		fmt.Printf("Executing round %d...\n", number)
		result, err := orch.ExecuteRound(cmd.Context(), questionID, number)
		if err != nil {
			return err
		}

		fmt.Printf("  arguments: %d  failures: %d  skipped: %d  consensus: %.2f  avg confidence: %.2f\n",
			result.Stats.ArgumentCount, result.Stats.FailureCount, result.Stats.SkippedCount,
			result.Stats.ConsensusScore, result.Stats.AvgConfidence)

		if result.ShouldTerminate {
			fmt.Printf("Debate concluded after round %d: %s\n", result.RoundNumber, result.TerminationReason)
			return nil
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status [question-id]",
	Short: "Show a question's debate status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := getOrchestrator(store).GetStatus(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Status:    %s\n", status.Status)
		fmt.Printf("Round:     %d\n", status.CurrentRound)
		fmt.Printf("Consensus: %.2f\n", status.Consensus)
		if status.IsComplete {
			fmt.Printf("Reason:    %s\n", status.Reason)
		}
		return nil
	},
}

var resolveByFlag string

var resolveCmd = &cobra.Command{
	Use:   "resolve [question-id]",
	Short: "Administratively resolve a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		question, err := store.GetQuestion(args[0])
		if err != nil {
			return err
		}
		if question.AdminResolved() {
			return fmt.Errorf("question already resolved by %s", question.ResolvedBy)
		}
		question.ResolvedBy = resolveByFlag
		if err := store.UpdateQuestion(question); err != nil {
			return err
		}
		fmt.Printf("Resolved %s; the next executed round terminates with ADMIN_RESOLVED\n", shortID(question.ID))
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveByFlag, "by", "admin", "Resolver identity")
}

// ============================================================================
// SHOW / EXPORT COMMANDS
// ============================================================================

var showJSONFlag bool

var showCmd = &cobra.Command{
	Use:   "show [question-id]",
	Short: "Show a question's arguments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := export.BuildReport(store, args[0])
		if err != nil {
			return err
		}

		if showJSONFlag {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		return (&export.MarkdownExporter{}).Export(report, os.Stdout)
	},
}

var exportOutputFlag string

var exportCmd = &cobra.Command{
	Use:   "export [question-id] [format]",
	Short: "Export a debate (markdown, json, pdf)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		exporter, err := export.GetExporter(export.Format(args[1]))
		if err != nil {
			return err
		}
		report, err := export.BuildReport(store, args[0])
		if err != nil {
			return err
		}

		filename := exportOutputFlag
		if filename == "" {
			filename = export.GenerateFilename(report.Question, exporter.FileExtension())
		}

		f, err := os.Create(filename)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer f.Close()

		if err := exporter.Export(report, f); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported to %s\n", filename)
		return nil
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSONFlag, "json", false, "Output JSON instead of Markdown")
	exportCmd.Flags().StringVarP(&exportOutputFlag, "output", "o", "", "Output filename")
}

// ============================================================================
// PERSONAS / CONFIG COMMANDS
// ============================================================================

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List built-in personalities",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
		for _, p := range persona.All() {
			def, err := persona.Get(p)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", def.ID, def.Name, def.Description)
		}
		return w.Flush()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.DefaultConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.Default().SaveTo(path); err != nil {
			return err
		}
		fmt.Printf("Wrote config to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

// ============================================================================
// SERVE COMMAND
// ============================================================================

var servePortFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		port := servePortFlag
		if port == 0 {
			port = appConfig.Server.Port
		}

		h := handlers.New(getOrchestrator(store), store)
		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: h.Router(),
		}

		go func() {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			fmt.Println("Shutting down...")
			server.Close()
		}()

		fmt.Printf("consilium API listening on http://localhost:%d\n", port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePortFlag, "port", "p", 0, "Server port (default from config)")
}

// Helpers

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
