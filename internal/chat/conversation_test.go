package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// fakeBackend serves both conversation kinds from memory.
type fakeBackend struct {
	mu             sync.Mutex
	history        map[string][]Message
	historyCalls   []string
	profileCalls   []string
	streams        []StreamRequest
	profileStreams []string
	assignedChatID string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: make(map[string][]Message)}
}

func (b *fakeBackend) History(_ context.Context, id string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyCalls = append(b.historyCalls, id)
	return b.history[id], nil
}

func (b *fakeBackend) ProfileHistory(_ context.Context, profileID string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profileCalls = append(b.profileCalls, profileID)
	return b.history["profile:"+profileID], nil
}

func (b *fakeBackend) Stream(ctx context.Context, req StreamRequest) (Reply, error) {
	b.mu.Lock()
	b.streams = append(b.streams, req)
	chatID := b.assignedChatID
	b.mu.Unlock()

	r := newFakeReply(ctx, chatID, "answer")
	close(r.chunks)
	return r, nil
}

func (b *fakeBackend) ProfileStream(ctx context.Context, profileID string, req StreamRequest) (Reply, error) {
	b.mu.Lock()
	b.profileStreams = append(b.profileStreams, profileID)
	b.mu.Unlock()
	return b.Stream(ctx, req)
}

func (b *fakeBackend) HistoryCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.historyCalls...)
}

func openTest(t *testing.T, backend *fakeBackend, kv Store, opts OpenOptions) *Conversation {
	t.Helper()

	conv, err := Open(context.Background(), Config{
		Backend:  backend,
		Profiles: backend,
		Store:    kv,
		Logger:   zap.NewNop(),
	}, opts)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	t.Cleanup(conv.Close)
	return conv
}

func TestOpenExplicitIDLoadsHistoryOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.history["42"] = []Message{
		{ID: "1", Role: "user", Content: "hi"},
		{ID: "2", Role: "assistant", Content: "hello"},
	}

	conv := openTest(t, backend, newMapStore(), OpenOptions{ExplicitID: "42"})

	if conv.Fresh() || conv.ID() != "42" {
		t.Fatalf("expected resumed conversation 42, got %q fresh=%v", conv.ID(), conv.Fresh())
	}
	if diff := cmp.Diff([]string{"42"}, backend.HistoryCalls()); diff != "" {
		t.Fatalf("unexpected history fetches (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(backend.history["42"], conv.Chat().Messages()); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%s", diff)
	}
}

func TestOpenFreshConversationSkipsHistory(t *testing.T) {
	backend := newFakeBackend()
	conv := openTest(t, backend, newMapStore(), OpenOptions{})

	if !conv.Fresh() || conv.ID() != "" {
		t.Fatalf("expected fresh conversation, got %q fresh=%v", conv.ID(), conv.Fresh())
	}
	if len(backend.HistoryCalls()) != 0 {
		t.Fatalf("expected no history fetch, got %v", backend.HistoryCalls())
	}
	if len(conv.Chat().Messages()) != 0 {
		t.Fatal("expected empty message list")
	}
	if _, ok := conv.Chat().(*RegularChat); !ok {
		t.Fatalf("expected regular chat, got %T", conv.Chat())
	}
}

func TestOpenResumesPersistedID(t *testing.T) {
	backend := newFakeBackend()
	conv := openTest(t, backend, newMapStore(ChatIDKey, "7"), OpenOptions{})

	if conv.Fresh() || conv.ID() != "7" {
		t.Fatalf("expected resumed conversation 7, got %q fresh=%v", conv.ID(), conv.Fresh())
	}
	if diff := cmp.Diff([]string{"7"}, backend.HistoryCalls()); diff != "" {
		t.Fatalf("unexpected history fetches (-want +got):\n%s", diff)
	}
}

func TestConversationPersistsServerID(t *testing.T) {
	backend := newFakeBackend()
	backend.assignedChatID = "99"
	kv := newMapStore()

	conv := openTest(t, backend, kv, OpenOptions{})
	if err := conv.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if conv.ID() != "99" {
		t.Fatalf("expected server id, got %q", conv.ID())
	}
	if v, _ := kv.Get(ChatIDKey); v != "99" {
		t.Fatalf("expected persisted server id, got %q", v)
	}
}

func TestOpenProfileConversationInjectsScoping(t *testing.T) {
	backend := newFakeBackend()
	kv := newMapStore()

	conv := openTest(t, backend, kv, OpenOptions{
		ProfileID:       "p1",
		CandidateName:   "Jane Doe",
		AutoSendContext: true,
	})

	pc, ok := conv.Chat().(*ProfileChat)
	if !ok || pc.ProfileID() != "p1" {
		t.Fatalf("expected profile chat for p1, got %T", conv.Chat())
	}

	msgs := conv.Chat().Messages()
	if len(msgs) != 2 || !IsScopingMessage(msgs[0].Content) || msgs[1].Content != "answer" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if len(backend.profileStreams) != 1 || backend.profileStreams[0] != "p1" {
		t.Fatalf("expected the scoping turn on the profile endpoint, got %v", backend.profileStreams)
	}

	if err := conv.Navigate(context.Background(), Flags{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	msgs = conv.Chat().Messages()
	if len(msgs) != 4 || msgs[2].Content != ClearingMessage {
		t.Fatalf("expected a clearing turn, got %+v", msgs)
	}
}

func TestOpenProfileConversationNormalizesHistory(t *testing.T) {
	backend := newFakeBackend()
	backend.history["profile:p1"] = []Message{
		{ID: "1", Role: "user", Content: "who is she?"},
		{ID: "2", Role: "ai", Content: "a Go engineer"},
	}

	conv := openTest(t, backend, newMapStore(), OpenOptions{
		ProfileID:       "p1",
		CandidateName:   "Jane Doe",
		AutoSendContext: true,
	})

	msgs := conv.Chat().Messages()
	if len(msgs) != 2 || msgs[1].Role != RoleAssistant {
		t.Fatalf("expected normalized history without scoping turn, got %+v", msgs)
	}
	if len(backend.profileCalls) != 1 {
		t.Fatalf("expected one profile history fetch, got %d", len(backend.profileCalls))
	}
}

func TestNewConversationIsAtomic(t *testing.T) {
	backend := newFakeBackend()
	backend.history["42"] = []Message{{ID: "1", Role: RoleUser, Content: "old"}}
	kv := newMapStore(ChatIDKey, "42")

	var (
		mu         sync.Mutex
		violations int
		resets     int
	)
	observer := func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		_, persisted := kv.Get(ChatIDKey)
		if len(u.Messages) == 0 && persisted {
			violations++
		}
		if len(u.Messages) == 0 {
			resets++
		}
	}

	conv := openTest(t, backend, kv, OpenOptions{Observer: observer})
	if err := conv.NewConversation(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if resets == 0 {
		t.Fatal("expected an update with an empty message list")
	}
	if violations != 0 {
		t.Fatalf("observer saw an empty list next to a stale id %d times", violations)
	}
	if !conv.Fresh() || conv.ID() != "" {
		t.Fatalf("expected fresh conversation, got %q fresh=%v", conv.ID(), conv.Fresh())
	}
}

func TestNewProfileConversationRearmsScoping(t *testing.T) {
	backend := newFakeBackend()
	kv := newMapStore()

	conv := openTest(t, backend, kv, OpenOptions{
		ProfileID:       "p1",
		CandidateName:   "Jane Doe",
		AutoSendContext: true,
	})
	conv.Navigate(context.Background(), Flags{})

	if err := conv.NewConversation(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := conv.Chat().Messages()
	if len(msgs) != 2 || !IsScopingMessage(msgs[0].Content) {
		t.Fatalf("expected a fresh scoping turn, got %+v", msgs)
	}
	if v, _ := kv.Get(ContextKey("p1")); v != string(ScopeProfileActive) {
		t.Fatalf("expected profile-active mode, got %q", v)
	}
}

func TestConversationLatestPrompt(t *testing.T) {
	backend := newFakeBackend()
	backend.history["5"] = []Message{
		{ID: "1", Role: RoleAssistant, Content: `{"response":"ok","prompt":"Senior Go engineer"}`},
	}

	conv := openTest(t, backend, newMapStore(), OpenOptions{ExplicitID: "5"})

	prompt, ok := conv.LatestPrompt()
	if !ok || prompt != "Senior Go engineer" {
		t.Fatalf("unexpected prompt %q (%v)", prompt, ok)
	}
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(Config{}, nil, ""); err == nil {
		t.Fatal("expected error without backend")
	}
	if _, err := New(Config{Backend: newFakeBackend()}, nil, "p1"); err == nil {
		t.Fatal("expected error without profile backend")
	}
}
