package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spigell/job-crawler/internal/ai/gemini"
	"github.com/spigell/job-crawler/internal/budget"
	"github.com/spigell/job-crawler/internal/crawler/brave"
	"github.com/spigell/job-crawler/internal/jobs"
	"github.com/spigell/job-crawler/internal/logger"
	"github.com/spigell/job-crawler/internal/orchestrator"
	"github.com/spigell/job-crawler/internal/secrets"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptReportByScore = "Report by score"
	PromptResultsToFile = "Dump results to tmp file"
	PromptExit          = "Exit"

	defaultCacheFile  = "data/cache.json"
	defaultResults    = "data/results.json"
	defaultResultsCSV = "data/results.csv"

	defaultMaxLLMCalls         = 25
	defaultMaxSearchIterations = 5
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptReportByScore, PromptResultsToFile, PromptExit},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one job discovery cycle",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not show the interactive menu after the run")
	runCmd.Flags().String("cv", "", "path to the CV text file. Overrides cv-file from the config")
	runCmd.Flags().String("preferences", "", "path to the preferences JSON file. Overrides preferences-file from the config")

	viper.BindPFlag("cv-file", runCmd.Flags().Lookup("cv"))
	viper.BindPFlag("preferences-file", runCmd.Flags().Lookup("preferences"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the job-crawler", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	if config == nil {
		logger.Fatal("config is required")
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.Search == nil {
		config.Search = &SearchConfig{}
	}
	if config.Budget == nil {
		config.Budget = &BudgetConfig{}
	}
	if config.Output == nil {
		config.Output = &OutputConfig{}
	}

	aiProvider := strings.TrimSpace(strings.ToLower(config.AI.Provider))
	if aiProvider != "" && aiProvider != "gemini" {
		logger.Fatal("unsupported ai provider", zap.String("provider", config.AI.Provider))
	}
	searchProvider := strings.TrimSpace(strings.ToLower(config.Search.Provider))
	if searchProvider != "" && searchProvider != "brave" {
		logger.Fatal("unsupported search provider", zap.String("provider", config.Search.Provider))
	}

	geminiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: config.AI.Gemini.APIKey,
		File:  config.AI.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		logger.Fatal(
			"loading gemini api key",
			zap.Error(err),
			zap.String("hint", "set GEMINI_API_KEY, GEMINI_API_KEY_FILE or the 'ai.gemini.api-key-file' key in the configuration file"),
		)
	}

	// The search key is optional: without it requests run against the free,
	// heavily throttled tier.
	braveKey, err := secrets.LoadOptional(secrets.Source{
		Name:  "brave api key",
		Value: config.Search.APIKey,
		File:  config.Search.APIKeyFile,
		Env:   "BRAVE_API_KEY",
	})
	if err != nil {
		logger.Fatal("loading brave api key", zap.Error(err))
	}
	if braveKey == "" {
		logger.Warn("no brave api key configured, search requests go unauthenticated")
	}

	if config.CVFile == "" {
		logger.Fatal("cv file is required", zap.String("hint", "set cv-file in the configuration file or pass --cv"))
	}

	cvData, err := os.ReadFile(config.CVFile)
	if err != nil {
		logger.Fatal("reading the cv file", zap.Error(err))
	}
	cvText := string(cvData)

	preferences, err := loadPreferences(config.PreferencesFile)
	if err != nil {
		logger.Fatal("reading the preferences file", zap.Error(err))
	}

	if config.Budget.MaxLLMCalls <= 0 {
		config.Budget.MaxLLMCalls = defaultMaxLLMCalls
	}
	if config.Budget.MaxSearchIterations <= 0 {
		config.Budget.MaxSearchIterations = defaultMaxSearchIterations
	}

	b := budget.New(config.Budget.MaxLLMCalls, config.Budget.MaxSearchIterations)

	generator, err := gemini.NewGenerator(ctx, gemini.GeneratorConfig{
		APIKey:      geminiKey,
		Model:       config.AI.Gemini.Model,
		Temperature: config.AI.Gemini.Temperature,
		MaxRetries:  config.AI.Gemini.MaxRetries,
		RetryDelay:  config.AI.Gemini.RetryDelay,
	}, logger)
	if err != nil {
		logger.Fatal("creating the gemini generator", zap.Error(err))
	}

	assistant := gemini.NewService(generator, b, config.AI.Gemini.MaxLogLength, logger)

	provider := brave.New(&brave.Config{
		APIKey:          braveKey,
		Endpoint:        config.Search.Endpoint,
		ResultsPerQuery: config.Search.ResultsPerQuery,
		Timeout:         config.Search.Timeout,
		RequestDelay:    config.Search.Delay,
	}, b, logger)

	o := orchestrator.New(&orchestrator.Config{
		MaxResults:             config.MaxResults,
		MinScore:               config.MinScore,
		MaxQueriesPerIteration: config.MaxQueriesPerIteration,
	}, b, assistant, provider, logger)

	results, err := o.Run(ctx, cvText, preferences, resolvePaths(config.Output))
	if err != nil {
		logger.Fatal("run failed", zap.Error(err))
	}

	if results.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no qualifying listings found"))
		return
	}

	if cmd.Flag("auto-approve").Value.String() == "true" {
		return
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}

		if err := handleAction(action, logger, results); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(action string, logger *zap.Logger, results *jobs.Results) error {
	switch action {
	case PromptReportByScore:
		pretty, _ := json.MarshalIndent(results.ReportByScore(), "", "  ")
		logger.Info(string(pretty), zap.Int("results count", results.Len()))
		return nil
	case PromptResultsToFile:
		filename, err := results.DumpToTmpFile()
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping results to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func loadPreferences(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var preferences map[string]any
	if err := json.Unmarshal(data, &preferences); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}

	return preferences, nil
}

// resolvePaths fills in the default output locations for unset fields.
func resolvePaths(out *OutputConfig) orchestrator.Paths {
	if out == nil {
		out = &OutputConfig{}
	}
	return orchestrator.Paths{
		Cache:       withDefault(out.Cache, defaultCacheFile),
		ResultsJSON: withDefault(out.ResultsJSON, defaultResults),
		ResultsCSV:  withDefault(out.ResultsCSV, defaultResultsCSV),
	}
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
