package cmd

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "job-crawler"
)

type Config struct {
	CVFile          string `mapstructure:"cv-file"`
	PreferencesFile string `mapstructure:"preferences-file"`

	MaxResults             int `mapstructure:"max-results"`
	MinScore               int `mapstructure:"min-score"`
	MaxQueriesPerIteration int `mapstructure:"max-queries-per-iteration"`

	Output *OutputConfig `mapstructure:"output"`
	Budget *BudgetConfig `mapstructure:"budget"`
	AI     *AIConfig     `mapstructure:"ai"`
	Search *SearchConfig `mapstructure:"search"`
}

type OutputConfig struct {
	Cache       string `mapstructure:"cache"`
	ResultsJSON string `mapstructure:"results-json"`
	ResultsCSV  string `mapstructure:"results-csv"`
}

type BudgetConfig struct {
	MaxLLMCalls         int `mapstructure:"max-llm-calls"`
	MaxSearchIterations int `mapstructure:"max-search-iterations"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string        `mapstructure:"api-key"`
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxRetries   int           `mapstructure:"max-retries"`
	RetryDelay   time.Duration `mapstructure:"retry-delay"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type SearchConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api-key"`
	APIKeyFile      string        `mapstructure:"api-key-file"`
	Endpoint        string        `mapstructure:"endpoint"`
	ResultsPerQuery int           `mapstructure:"results-per-query"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Delay           time.Duration `mapstructure:"delay"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "job-crawler is a cli for discovering and scoring job listings against your CV",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("search.api-key-file", "BRAVE_API_KEY_FILE"); err != nil {
		log.Fatalf("binding BRAVE_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is job-crawler.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Config needed only for run command now. If there is no config, we can skip initialization
	if runCmd.CalledAs() == "" {
		return
	}

	// A local .env file may carry the API keys. Missing is fine.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
