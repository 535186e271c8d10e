package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Chat is the contract the rendering layer consumes. Both conversation kinds
// implement it.
type Chat interface {
	Submit(ctx context.Context, text string) error
	Append(ctx context.Context, msg Message) error
	Messages() []Message
	IsLoading() bool
	State() State
	Err() error
	Subscribe(o Observer) func()
	Load(msgs []Message)
	Reset(hook func())
	Close()
}

// Backend serves regular conversations.
type Backend interface {
	History(ctx context.Context, id string) ([]Message, error)
	Stream(ctx context.Context, req StreamRequest) (Reply, error)
}

// ProfileBackend serves conversations scoped to a candidate profile.
type ProfileBackend interface {
	ProfileHistory(ctx context.Context, profileID string) ([]Message, error)
	ProfileStream(ctx context.Context, profileID string, req StreamRequest) (Reply, error)
}

type Config struct {
	Backend      Backend
	Profiles     ProfileBackend
	Store        Store
	Expirer      Expirer
	Logger       *zap.Logger
	SendTimeout  time.Duration
	MaxLogLength int
}

// RegularChat is a conversation against the general chat endpoints.
type RegularChat struct {
	*Engine
}

// ProfileChat is a conversation scoped to one candidate profile.
type ProfileChat struct {
	*Engine
	profileID string
}

func (c *ProfileChat) ProfileID() string {
	return c.profileID
}

// New builds the chat variant for profileID: a ProfileChat when it is set,
// a RegularChat otherwise.
func New(cfg Config, identity *Identity, profileID string) (Chat, error) {
	engineCfg := EngineConfig{
		Identity:     identity,
		Expirer:      cfg.Expirer,
		Logger:       cfg.Logger,
		SendTimeout:  cfg.SendTimeout,
		MaxLogLength: cfg.MaxLogLength,
	}

	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		if cfg.Backend == nil {
			return nil, errors.New("chat backend is required")
		}
		engineCfg.Streamer = cfg.Backend
		return &RegularChat{Engine: NewEngine(engineCfg)}, nil
	}

	if cfg.Profiles == nil {
		return nil, errors.New("profile chat backend is required")
	}
	engineCfg.Streamer = &profileStreamer{backend: cfg.Profiles, profileID: profileID}
	return &ProfileChat{Engine: NewEngine(engineCfg), profileID: profileID}, nil
}

// historySource returns where the variant loads its history from.
func historySource(cfg Config, profileID string) HistorySource {
	if profileID == "" {
		if cfg.Backend == nil {
			return nil
		}
		return HistorySourceFunc(cfg.Backend.History)
	}
	return HistorySourceFunc(func(ctx context.Context, _ string) ([]Message, error) {
		return cfg.Profiles.ProfileHistory(ctx, profileID)
	})
}

type profileStreamer struct {
	backend   ProfileBackend
	profileID string
}

func (s *profileStreamer) Stream(ctx context.Context, req StreamRequest) (Reply, error) {
	return s.backend.ProfileStream(ctx, s.profileID, req)
}
