package recruiter

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

const (
	apiURL    = "http://localhost:8000"
	userAgent = "spigell/recruit-chat"
	// Max value for search per page.
	perPage = "100"

	requestTimeout = 30 * time.Second
)

// Client talks to the recruiting assistant API. It implements chat.Backend and
// chat.ProfileBackend.
type Client struct {
	token   string
	logger  *zap.Logger
	expirer chat.Expirer

	// HTTPClient has no overall timeout: streamed replies may last longer than
	// any sane request bound. Plain requests are bounded by requestTimeout.
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

// New creates a client. expirer is invoked when an authenticated call is
// answered with 401.
func New(logger *zap.Logger, token string, expirer chat.Expirer) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:      strings.TrimSpace(token),
		logger:     logger,
		expirer:    expirer,
		APIURL:     apiURL,
		HTTPClient: &http.Client{},
		UserAgent:  userAgent,
	}
}

// SetServer points the client at server, ignoring blank values.
func (c *Client) SetServer(server string) {
	server = strings.TrimSpace(server)
	if server == "" {
		return
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	c.APIURL = strings.TrimSuffix(server, "/")
}

func (c *Client) authenticated() bool {
	return c.token != ""
}
