package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neurolite-ai/neurolite/internal/config"
	"github.com/neurolite-ai/neurolite/internal/curation"
	"github.com/neurolite-ai/neurolite/internal/emotion"
	"github.com/neurolite-ai/neurolite/internal/engine"
	"github.com/neurolite-ai/neurolite/internal/gateway"
	"github.com/neurolite-ai/neurolite/internal/knowledge"
	"github.com/neurolite-ai/neurolite/internal/pipeline"
)

// GeneratorFactory creates the model generator (allows mocking in tests).
type GeneratorFactory func(cfg *config.Config) (engine.Generator, error)

// DefaultGeneratorFactory creates the configured model provider generator.
func DefaultGeneratorFactory(cfg *config.Config) (engine.Generator, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'neurolite onboard' or set NEUROLITE_API_KEY / ANTHROPIC_API_KEY")
	}
	return engine.NewModelGenerator(engine.ModelOptions{
		Provider:  cfg.Provider.Type,
		APIKey:    cfg.Provider.APIKey,
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Agent.Model,
		MaxTokens: cfg.Agent.MaxTokens,
	}), nil
}

// ChatOptions for running chat with custom dependencies.
type ChatOptions struct {
	GeneratorFactory GeneratorFactory
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "neurolite",
	Short: "neurolite - streaming technical support assistant",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and knowledge base",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show neurolite status",
	RunE:  runStatus,
}

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the knowledge base",
}

var knowledgeAddCmd = &cobra.Command{
	Use:   "add <question> <answer>",
	Short: "Add one validated entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runKnowledgeAdd,
}

var knowledgeImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Bulk import question/answer pairs from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeImport,
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKnowledgeSearch,
}

var knowledgeDistillCmd = &cobra.Command{
	Use:   "distill <topic>...",
	Short: "Generate knowledge entries for topics via the model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKnowledgeDistill,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	knowledgeCmd.AddCommand(knowledgeAddCmd, knowledgeImportCmd, knowledgeSearchCmd, knowledgeDistillCmd)
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd, knowledgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newPipeline assembles the turn pipeline from config. store may be nil.
func newPipeline(cfg *config.Config, store *knowledge.Store, gen engine.Generator) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		SystemPrompt:   cfg.Agent.SystemPrompt,
		HistoryBudget:  cfg.Agent.HistoryBudget,
		KeepRecent:     cfg.Agent.KeepRecent,
		RetrievalLimit: cfg.Knowledge.RetrievalLimit,
		MaxTokens:      cfg.Agent.MaxTokens,
		Temperature:    cfg.Agent.Temperature,
	}, emotion.NewClassifier(), store, gen)
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs chat with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.GeneratorFactory
	if factory == nil {
		factory = DefaultGeneratorFactory
	}
	gen, err := factory(cfg)
	if err != nil {
		return err
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	store, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: knowledge base unavailable: %v\n", err)
		store = nil
	} else {
		defer store.Close()
	}

	pipe := newPipeline(cfg, store, gen)
	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		streamTurn(ctx, pipe, "cli", messageFlag, stdout, stderr)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "neurolite chat (type 'exit' to quit, '/clear' to reset history)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if input == "/clear" {
			pipe.ResetSession("cli-repl")
			fmt.Fprintln(stdout, "History cleared.")
			continue
		}

		streamTurn(ctx, pipe, "cli-repl", input, stdout, stderr)
	}
	return nil
}

// streamTurn prints deltas as they arrive. When post-processing changed the
// reply, the final form is printed afterwards so the screen matches history.
func streamTurn(ctx context.Context, pipe *pipeline.Pipeline, sessionID, input string, stdout, stderr io.Writer) {
	var raw strings.Builder
	for ev := range pipe.Turn(ctx, sessionID, input) {
		switch ev.Kind {
		case pipeline.EventDelta:
			fmt.Fprint(stdout, ev.Text)
			raw.WriteString(ev.Text)
		case pipeline.EventDone:
			if ev.Text != strings.TrimSpace(raw.String()) {
				fmt.Fprintf(stdout, "\n\n%s\n", ev.Text)
			} else {
				fmt.Fprintln(stdout)
			}
		case pipeline.EventError:
			fmt.Fprintf(stderr, "Error: %s\n", ev.Text)
		}
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'neurolite onboard' or set NEUROLITE_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		return fmt.Errorf("initialize knowledge base: %w", err)
	}
	store.Close()
	fmt.Printf("Knowledge base ready: %s\n", cfg.Knowledge.DBPath)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set NEUROLITE_API_KEY environment variable")
	fmt.Println("  3. Run 'neurolite chat -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)

	store, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		fmt.Printf("Knowledge: error (%v)\n", err)
		return nil
	}
	defer store.Close()
	if n, err := store.Count(); err == nil {
		fmt.Printf("Knowledge: %d entries (%s)\n", n, cfg.Knowledge.DBPath)
	} else {
		fmt.Printf("Knowledge: error (%v)\n", err)
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func openStore() (*config.Config, *knowledge.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := knowledge.Open(cfg.Knowledge.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge base: %w", err)
	}
	return cfg, store, nil
}

func runKnowledgeAdd(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := curation.SeedValidator(store)
	if err != nil {
		return err
	}
	if issues := v.Check(args[0], args[1]); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Printf("  %s in %s: %s\n", issue.Kind, issue.Field, issue.Detail)
		}
		return fmt.Errorf("entry rejected by validation")
	}

	id, err := store.Insert(args[0], args[1], "manual")
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	fmt.Printf("Added entry %d\n", id)
	return nil
}

func runKnowledgeImport(cmd *cobra.Command, args []string) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	v, err := curation.SeedValidator(store)
	if err != nil {
		return err
	}
	res, err := curation.ImportFile(args[0], store, v, "import")
	if err != nil {
		return err
	}
	fmt.Printf("Imported: %d inserted, %d skipped\n", res.Inserted, res.Skipped)
	return nil
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results := store.Search(query, cfg.Knowledge.RetrievalLimit)
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, e := range results {
		fmt.Printf("[%d] Q: %s\n    A: %s\n", e.ID, e.Question, e.Answer)
	}
	return nil
}

func runKnowledgeDistill(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	gen, err := DefaultGeneratorFactory(cfg)
	if err != nil {
		return err
	}
	v, err := curation.SeedValidator(store)
	if err != nil {
		return err
	}

	d := curation.NewDistiller(gen, store, v)
	results := d.Run(context.Background(), args)
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("%s: failed (%v)\n", res.Topic, res.Err)
			continue
		}
		fmt.Printf("%s: %d inserted, %d skipped\n", res.Topic, res.Inserted, res.Skipped)
	}
	return nil
}
