package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type OpenOptions struct {
	// ExplicitID resumes a known conversation.
	ExplicitID string
	// ProfileID scopes the conversation to a candidate profile.
	ProfileID       string
	CandidateName   string
	AutoSendContext bool
	// Observer is subscribed before history is loaded.
	Observer Observer
}

// Conversation ties identity, history, the chat variant and the context
// injector together for one mounted view.
type Conversation struct {
	cfg       Config
	opts      OpenOptions
	logger    *zap.Logger
	identity  *Identity
	loader    *Loader
	chat      Chat
	injector  *Injector
	unobserve func()
}

// Open mounts a conversation: it resolves the id, loads history unless the
// conversation is fresh, and sends the scoping turn for empty profile
// conversations.
func Open(ctx context.Context, cfg Config, opts OpenOptions) (*Conversation, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger

	opts.ProfileID = strings.TrimSpace(opts.ProfileID)

	key := ChatIDKey
	if opts.ProfileID != "" {
		key = ProfileChatIDKey(opts.ProfileID)
		logger = logger.With(zap.String("profile_id", opts.ProfileID))
	}

	identity := NewIdentity(cfg.Store, key, logger)
	chat, err := New(cfg, identity, opts.ProfileID)
	if err != nil {
		return nil, err
	}

	c := &Conversation{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		identity: identity,
		loader:   NewLoader(historySource(cfg, opts.ProfileID), logger),
		chat:     chat,
	}
	if opts.Observer != nil {
		c.unobserve = chat.Subscribe(opts.Observer)
	}

	res := identity.Resolve(opts.ExplicitID)
	logger.Debug("conversation resolved", zap.String("chat_id", res.ID), zap.Bool("fresh", res.Fresh))

	if err := c.mount(ctx, res); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Conversation) mount(ctx context.Context, res Resolution) error {
	historyID, skip := res.ID, res.Fresh
	if c.opts.ProfileID != "" {
		historyID, skip = c.opts.ProfileID, false
	}

	if msgs, current := c.loader.Load(ctx, historyID, skip); current {
		c.chat.Load(msgs)
	}

	if c.opts.ProfileID == "" {
		return nil
	}

	c.injector = NewInjector(c.cfg.Store, c.opts.ProfileID, c.logger)
	_, err := c.injector.Mount(ctx, c.chat, MountOptions{
		CandidateName:   c.opts.CandidateName,
		AutoSendContext: c.opts.AutoSendContext,
	})
	return err
}

func (c *Conversation) Chat() Chat {
	return c.chat
}

// ID returns the resolved conversation id, "" while the server has not
// assigned one yet.
func (c *Conversation) ID() string {
	return c.identity.ID()
}

func (c *Conversation) Fresh() bool {
	return c.identity.Fresh()
}

func (c *Conversation) ProfileID() string {
	return c.opts.ProfileID
}

func (c *Conversation) Submit(ctx context.Context, text string) error {
	return c.chat.Submit(ctx, text)
}

// LatestPrompt returns the newest job description extracted by the assistant.
func (c *Conversation) LatestPrompt() (string, bool) {
	return LatestPrompt(c.chat.Messages())
}

// Navigate reports the flags of the view the user moves to.
func (c *Conversation) Navigate(ctx context.Context, next Flags) error {
	if c.injector == nil {
		return nil
	}
	_, err := c.injector.Navigate(ctx, c.chat, next)
	return err
}

// NewConversation drops the current conversation and starts a fresh one. The
// persisted id and the message list are cleared in one step.
func (c *Conversation) NewConversation(ctx context.Context) error {
	c.chat.Reset(func() {
		c.identity.Reset()
		if c.opts.ProfileID != "" && c.cfg.Store != nil {
			if err := c.cfg.Store.Delete(ContextKey(c.opts.ProfileID)); err != nil {
				c.logger.Warn("failed to delete context mode", zap.Error(err))
			}
		}
	})

	c.logger.Info("started new conversation")

	if c.opts.ProfileID == "" {
		return nil
	}

	c.injector = NewInjector(c.cfg.Store, c.opts.ProfileID, c.logger)
	_, err := c.injector.Mount(ctx, c.chat, MountOptions{
		CandidateName:   c.opts.CandidateName,
		AutoSendContext: c.opts.AutoSendContext,
	})
	return err
}

// Close unmounts the conversation. No observer is called afterwards.
func (c *Conversation) Close() {
	if c.unobserve != nil {
		c.unobserve()
	}
	c.chat.Close()
}
