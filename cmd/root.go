package cmd

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/recruit-chat/internal/store"
)

const (
	app = "recruit-chat"

	backendHTTP   = "http"
	backendGemini = "gemini"
)

type Config struct {
	Server    string        `mapstructure:"server"`
	UserAgent string        `mapstructure:"user-agent"`
	TokenFile string        `mapstructure:"token-file"`
	Backend   string        `mapstructure:"backend"`
	Store     *store.Config `mapstructure:"store"`
	Chat      *ChatConfig   `mapstructure:"chat"`
	Gemini    *GeminiConfig `mapstructure:"gemini"`
}

type ChatConfig struct {
	SendTimeout  time.Duration `mapstructure:"send-timeout"`
	RenderWidth  int           `mapstructure:"render-width"`
	MaxLogLength int           `mapstructure:"max-log-length"`
}

type GeminiConfig struct {
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max-retries"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "recruit-chat is a terminal client for the recruiting assistant chat",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("token-file", "RECRUIT_CHAT_TOKEN_FILE"); err != nil {
		log.Fatalf("binding RECRUIT_CHAT_TOKEN_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is recruit-chat.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("server", "", "recruiting assistant API address")
	rootCmd.PersistentFlags().String("backend", "", "chat backend: http or gemini")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		// The config file is optional unless it was given explicitly.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return
		}
		log.Fatal(err)
	}
}

func setDefaults() {
	viper.SetDefault("backend", backendHTTP)
	viper.SetDefault("store.driver", store.DriverFile)
	viper.SetDefault("store.path", defaultStorePath())
	viper.SetDefault("chat.send-timeout", "60s")
	viper.SetDefault("chat.render-width", 100)
	viper.SetDefault("chat.max-log-length", 200)
	viper.SetDefault("gemini.max-retries", 3)
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, app, "session.json")
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.Store == nil {
		config.Store = &store.Config{Driver: store.DriverMemory}
	}
	if config.Chat == nil {
		config.Chat = &ChatConfig{}
	}
	if config.Gemini == nil {
		config.Gemini = &GeminiConfig{}
	}

	return config, nil
}
