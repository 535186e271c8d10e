package recruiter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

type countingExpirer struct {
	calls atomic.Int32
}

func (e *countingExpirer) Expire() {
	e.calls.Add(1)
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *countingExpirer) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	expirer := &countingExpirer{}
	c := New(zap.NewNop(), "secret", expirer)
	c.SetServer(srv.URL)

	return c, expirer
}

func readAll(t *testing.T, r chat.Reply) []string {
	t.Helper()

	var chunks []string
	for {
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestHistoryNormalizesRoles(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profiles/p1/chat/history" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		fmt.Fprint(w, `{"items":[{"id":1,"role":"user","content":"hi"},{"id":"2","role":"ai","content":"hello"}],"page":0,"pages":1}`)
	}))

	msgs, err := c.ProfileHistory(context.Background(), "p1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := []chat.Message{
		{ID: "1", Role: chat.RoleUser, Content: "hi"},
		{ID: "2", Role: chat.RoleAssistant, Content: "hello"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestHistoryFollowsPages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{"items":[{"id":"1","role":"user","content":"a"}],"page":0,"pages":2}`)
		case "1":
			fmt.Fprint(w, `{"items":[{"id":"2","role":"assistant","content":"b"}],"page":1,"pages":2}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))

	msgs, err := c.History(context.Background(), "42")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "b" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestHistoryAcceptsBareArrayAndGzip(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("expected gzip to be accepted")
		}
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		fmt.Fprint(gz, `[{"id":"7","role":"ai","content":"zipped"}]`)
		gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))

	msgs, err := c.History(context.Background(), "7")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != chat.RoleAssistant || msgs[0].Content != "zipped" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestHistoryStatusError(t *testing.T) {
	c, expirer := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.History(context.Background(), "1")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusInternalServerError || statusErr.Body != "boom" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if expirer.calls.Load() != 0 {
		t.Fatalf("expirer must not run on non-401 errors")
	}
}

func TestUnauthorizedInvokesExpirer(t *testing.T) {
	c, expirer := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Stream(context.Background(), chat.StreamRequest{Message: "hi"})
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if expirer.calls.Load() != 1 {
		t.Fatalf("expected expirer to run once, got %d", expirer.calls.Load())
	}
}

func TestStreamSendsWireID(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		wantID string
	}{
		{name: "numeric id is forwarded", id: "42", wantID: "42"},
		{name: "non numeric id is blanked", id: "abc-1", wantID: ""},
		{name: "empty id", id: "", wantID: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got streamBody
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/chat/stream" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
					t.Errorf("decode body: %v", err)
				}
				fmt.Fprint(w, "data: [DONE]\n\n")
			}))

			reply, err := c.Stream(context.Background(), chat.StreamRequest{Message: "hello", ID: tt.id})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer reply.Close()
			readAll(t, reply)

			if got.Message != "hello" || got.ID != tt.wantID {
				t.Fatalf("unexpected body: %+v", got)
			}
		})
	}
}

func TestStreamDecodesChunks(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/profiles/p%201/chat/stream" {
			t.Errorf("unexpected path %q", r.URL.EscapedPath())
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"content\":\"Hel\",\"chat_id\":77}\n\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, "data: lo\n\n")
		fmt.Fprint(w, "data: {\"content\":\"!\",\"chat_id\":\"99\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: after done\n\n")
	}))

	reply, err := c.ProfileStream(context.Background(), "p 1", chat.StreamRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer reply.Close()

	if diff := cmp.Diff([]string{"Hel", "lo", "!"}, readAll(t, reply)); diff != "" {
		t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
	}
	if got := reply.ChatID(); got != "77" {
		t.Fatalf("expected first chat id to win, got %q", got)
	}
}

func TestStreamJoinsMultiLineEvents(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "raw text lines keep their breaks",
			body: "data: - first\ndata: - second\n\ndata: [DONE]\n\n",
			want: []string{"- first\n- second"},
		},
		{
			name: "blank data line is an empty line",
			body: "data: para one\ndata:\ndata: para two\n\n",
			want: []string{"para one\n\npara two"},
		},
		{
			name: "json split over lines",
			body: "data: {\"content\":\"Hi\",\ndata: \"chat_id\":5}\n\n",
			want: []string{"Hi"},
		},
		{
			name: "event without trailing separator",
			body: "data: a\ndata: b",
			want: []string{"a\nb"},
		},
		{
			name: "done flushes the pending event",
			body: "data: tail\ndata: [DONE]\n",
			want: []string{"tail"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))

			reply, err := c.Stream(context.Background(), chat.StreamRequest{Message: "hi"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer reply.Close()

			if diff := cmp.Diff(tt.want, readAll(t, reply)); diff != "" {
				t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStreamReadsChatIDHeader(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(chatIDHeader, "15")
		fmt.Fprint(w, "data: plain\n\n")
	}))

	reply, err := c.Stream(context.Background(), chat.StreamRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer reply.Close()

	if got := reply.ChatID(); got != "15" {
		t.Fatalf("expected header chat id, got %q", got)
	}
	if diff := cmp.Diff([]string{"plain"}, readAll(t, reply)); diff != "" {
		t.Fatalf("unexpected chunks (-want +got):\n%s", diff)
	}
}

func TestStreamAcceptsLongLines(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "data: %s\n\n", long)
	}))

	reply, err := c.Stream(context.Background(), chat.StreamRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer reply.Close()

	chunks := readAll(t, reply)
	if len(chunks) != 1 || len(chunks[0]) != len(long) {
		t.Fatalf("expected a single long chunk, got %d chunks", len(chunks))
	}
}

func TestProfile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":12,"full_name":"Jane Doe","headline":"Go engineer"}`)
	}))

	p, err := c.Profile(context.Background(), "12")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.ID != "12" || p.CandidateName() != "Jane Doe" || p.Title != "Go engineer" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestSearchMatchesOrdersByScore(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "senior go" {
			t.Errorf("unexpected query %q", got)
		}
		fmt.Fprint(w, `{"items":[{"id":"a","name":"A","score":0.2},{"id":"b","name":"B","score":"0.9"}],"page":0,"pages":1}`)
	}))

	matches, err := c.SearchMatches(context.Background(), " senior go ")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, matches.IDs()); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestSearchMatchesRequiresQuery(t *testing.T) {
	c := New(nil, "", nil)
	if _, err := c.SearchMatches(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty query")
	}
}
