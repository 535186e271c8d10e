package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/ai/gemini"
	"github.com/spigell/recruit-chat/internal/auth"
	"github.com/spigell/recruit-chat/internal/chat"
	"github.com/spigell/recruit-chat/internal/logger"
	"github.com/spigell/recruit-chat/internal/recruiter"
	"github.com/spigell/recruit-chat/internal/store"
)

// session holds everything a command needs to talk to the assistant.
type session struct {
	config  *Config
	logger  *zap.Logger
	kv      store.KV
	expirer *auth.Expirer
	client  *recruiter.Client
	chat    chat.Config
	backend string
	cancel  context.CancelFunc
}

// newSession builds the shared command state. The returned context is
// cancelled when the token expires.
func newSession(ctx context.Context) (*session, context.Context, error) {
	l, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	config, err := getConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("getting a config: %w", err)
	}

	l.Debug("starting with config",
		zap.String("server", config.Server),
		zap.String("backend", config.Backend),
		zap.String("store_driver", config.Store.Driver),
		zap.String("store_path", config.Store.Path),
	)

	kv, err := store.Open(config.Store, l)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	expirer := auth.NewExpirer(kv, func() {
		fmt.Fprintln(os.Stderr, styles.err.Render("Your session has expired."),
			styles.muted.Render(fmt.Sprintf("Run `%s login` to sign in again.", app)))
		cancel()
	}, l)

	token, err := auth.LoadToken(auth.Source{
		Name:  "api token",
		File:  config.TokenFile,
		Store: kv,
	})
	if err != nil {
		l.Warn("continuing without authentication",
			zap.Error(err),
			zap.String("hint", "set RECRUIT_CHAT_TOKEN_FILE environment variable, the 'token-file' key or run login"),
		)
	}

	client := recruiter.New(l, token, expirer)
	client.SetServer(config.Server)
	if config.UserAgent != "" {
		client.UserAgent = config.UserAgent
	}

	s := &session{
		config:  config,
		logger:  l,
		kv:      kv,
		expirer: expirer,
		client:  client,
		cancel:  cancel,
		chat: chat.Config{
			Backend:      client,
			Profiles:     client,
			Store:        kv,
			Expirer:      expirer,
			Logger:       l,
			SendTimeout:  config.Chat.SendTimeout,
			MaxLogLength: config.Chat.MaxLogLength,
		},
	}

	if err := s.selectBackend(ctx); err != nil {
		kv.Close()
		cancel()
		return nil, nil, err
	}

	return s, ctx, nil
}

func (s *session) selectBackend(ctx context.Context) error {
	switch strings.ToLower(strings.TrimSpace(s.config.Backend)) {
	case "", backendHTTP:
		s.backend = backendHTTP
	case backendGemini:
		apiKey, err := auth.LoadToken(auth.Source{
			Name:  "gemini api key",
			File:  s.config.Gemini.APIKeyFile,
			Value: os.Getenv("GEMINI_API_KEY"),
		})
		if err != nil {
			return fmt.Errorf("%w (set gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
		}

		s.backend = backendGemini

		local, err := gemini.New(ctx, gemini.Options{
			APIKey:     apiKey,
			Model:      s.config.Gemini.Model,
			MaxRetries: s.config.Gemini.MaxRetries,
			Logger:     s.logger,
		})
		if err != nil {
			return err
		}

		s.logger.Info("using local gemini backend", zap.String("model", local.Model()))

		s.chat.Backend = local
		s.chat.Profiles = local
	default:
		return fmt.Errorf("unsupported chat backend: %s", s.config.Backend)
	}

	return nil
}

// newLogger logs to stderr, stdout belongs to the conversation.
func newLogger() (*zap.Logger, error) {
	l, err := logger.New(logger.Options{
		JSON:   viper.GetBool("json"),
		Debug:  viper.GetBool("debug"),
		Output: "stderr",
	})
	if err != nil {
		return nil, fmt.Errorf("creating a logger: %w", err)
	}
	return l, nil
}

func (s *session) Close() {
	s.cancel()
	if err := s.kv.Close(); err != nil {
		s.logger.Warn("closing session store", zap.Error(err))
	}
	s.logger.Sync()
}
