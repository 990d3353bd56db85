// Package xapi is a typed client for the X v2 API surface the agent uses.
package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quietloop/xagent/internal/metrics"
	"github.com/quietloop/xagent/internal/ratelimit"
	"github.com/quietloop/xagent/internal/transport"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.twitter.com"

// Credentials injects authentication into outgoing requests. UserID reports
// the authenticated account id when it is known up front, which lets the
// client skip the /users/me lookup.
type Credentials interface {
	Apply(req *transport.Request)
	UserID() (string, bool)
}

// BearerCredentials authenticates with an OAuth2 bearer token. The account
// id is resolved lazily via Me.
type BearerCredentials struct {
	Token string
}

func (b BearerCredentials) Apply(req *transport.Request) {
	setBearer(&req.Header, b.Token)
}

func (BearerCredentials) UserID() (string, bool) { return "", false }

// StaticCredentials carries a pre-issued user token together with the
// account id it belongs to, so no lookup call is needed.
type StaticCredentials struct {
	Token string
	User  string
}

func (s StaticCredentials) Apply(req *transport.Request) {
	setBearer(&req.Header, s.Token)
}

func (s StaticCredentials) UserID() (string, bool) { return s.User, s.User != "" }

func setBearer(h *http.Header, token string) {
	if *h == nil {
		*h = http.Header{}
	}
	h.Set("Authorization", "Bearer "+token)
}

// PublicMetrics are the engagement counters attached to a post.
type PublicMetrics struct {
	LikeCount       int `json:"like_count"`
	ReplyCount      int `json:"reply_count"`
	RetweetCount    int `json:"retweet_count"`
	QuoteCount      int `json:"quote_count"`
	ImpressionCount int `json:"impression_count"`
}

// Post is a single tweet as returned by the v2 endpoints.
type Post struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	AuthorID  string         `json:"author_id"`
	CreatedAt time.Time      `json:"created_at"`
	Metrics   *PublicMetrics `json:"public_metrics,omitempty"`
}

// User identifies the authenticated account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Doer is the subset of the transport client the API client needs.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Client wraps the transport with endpoint knowledge. After every call it
// feeds the rate-limit response headers back into the limiter so admission
// decisions stay current.
type Client struct {
	baseURL string
	doer    Doer
	creds   Credentials
	limiter *ratelimit.Limiter
	stats   *metrics.Collector

	// Cached from Me; the write endpoints need the numeric user id.
	selfID string
}

// SetCollector makes the client record per-endpoint call counts and
// latencies, typically on a collector shared with the status server.
func (c *Client) SetCollector(stats *metrics.Collector) {
	c.stats = stats
}

// New constructs a client. The limiter may be nil when header tracking is
// not wanted (tests mostly).
func New(baseURL string, doer Doer, creds Credentials, limiter *ratelimit.Limiter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: baseURL, doer: doer, creds: creds, limiter: limiter}
	if creds != nil {
		if id, ok := creds.UserID(); ok {
			c.selfID = id
		}
	}
	return c
}

// Endpoint keys used for rate-limit tracking. These are the method plus the
// path template, matching how X scopes its windows.
const (
	EndpointMe         = "GET /2/users/me"
	EndpointSearch     = "GET /2/tweets/search/recent"
	EndpointGetPost    = "GET /2/tweets/:id"
	EndpointUserPosts  = "GET /2/users/:id/tweets"
	EndpointCreatePost = "POST /2/tweets"
	EndpointLike       = "POST /2/users/:id/likes"
	EndpointFollow     = "POST /2/users/:id/following"
	EndpointRepost     = "POST /2/users/:id/retweets"
)

func (c *Client) call(ctx context.Context, endpoint string, req transport.Request) (*transport.Response, error) {
	if c.limiter != nil {
		c.limiter.WaitIfNeeded(endpoint, 1)
	}
	if c.creds != nil {
		c.creds.Apply(&req)
	}
	start := time.Now()
	resp, err := c.doer.Do(ctx, req)
	if c.stats != nil {
		c.stats.RecordAPICall(endpoint, time.Since(start), err)
	}
	if resp != nil && c.limiter != nil {
		c.limiter.UpdateFromHeaders(endpoint, resp.Header)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Me returns the authenticated user, caching the id for write endpoints.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.call(ctx, EndpointMe, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/2/users/me",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch authenticated user: %w", err)
	}
	var out struct {
		Data User `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	c.selfID = out.Data.ID
	return &out.Data, nil
}

// SelfID returns the cached authenticated user id, fetching it on first use.
func (c *Client) SelfID(ctx context.Context) (string, error) {
	if c.selfID != "" {
		return c.selfID, nil
	}
	u, err := c.Me(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// SearchRecent runs a recent-search query and returns up to maxResults posts
// with author and engagement fields populated.
func (c *Client) SearchRecent(ctx context.Context, query string, maxResults int) ([]Post, error) {
	if maxResults < 10 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}
	resp, err := c.call(ctx, EndpointSearch, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/2/tweets/search/recent",
		Query: url.Values{
			"query":        {query},
			"max_results":  {strconv.Itoa(maxResults)},
			"tweet.fields": {"author_id,created_at,public_metrics"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	var out struct {
		Data []Post `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return out.Data, nil
}

// GetPost fetches one post with its public metrics.
func (c *Client) GetPost(ctx context.Context, id string) (*Post, error) {
	resp, err := c.call(ctx, EndpointGetPost, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/2/tweets/" + id,
		Query: url.Values{
			"tweet.fields": {"author_id,created_at,public_metrics"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch post %s: %w", id, err)
	}
	var out struct {
		Data Post `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	return &out.Data, nil
}

// UserPosts returns the most recent posts authored by the given user.
func (c *Client) UserPosts(ctx context.Context, userID string, maxResults int) ([]Post, error) {
	if maxResults < 5 {
		maxResults = 5
	}
	if maxResults > 100 {
		maxResults = 100
	}
	resp, err := c.call(ctx, EndpointUserPosts, transport.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/2/users/" + userID + "/tweets",
		Query: url.Values{
			"max_results":  {strconv.Itoa(maxResults)},
			"tweet.fields": {"author_id,created_at,public_metrics"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch posts for user %s: %w", userID, err)
	}
	var out struct {
		Data []Post `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode user posts: %w", err)
	}
	return out.Data, nil
}

type createPostBody struct {
	Text         string     `json:"text"`
	Reply        *replyBody `json:"reply,omitempty"`
	QuoteTweetID string     `json:"quote_tweet_id,omitempty"`
}

type replyBody struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

func (c *Client) createPost(ctx context.Context, body createPostBody) (string, error) {
	resp, err := c.call(ctx, EndpointCreatePost, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/2/tweets",
		Body:   body,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decode created post: %w", err)
	}
	return out.Data.ID, nil
}

// CreatePost publishes a standalone post and returns its id.
func (c *Client) CreatePost(ctx context.Context, text string) (string, error) {
	id, err := c.createPost(ctx, createPostBody{Text: text})
	if err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

// Reply publishes a reply to an existing post.
func (c *Client) Reply(ctx context.Context, inReplyTo, text string) (string, error) {
	id, err := c.createPost(ctx, createPostBody{
		Text:  text,
		Reply: &replyBody{InReplyToTweetID: inReplyTo},
	})
	if err != nil {
		return "", fmt.Errorf("reply to %s: %w", inReplyTo, err)
	}
	return id, nil
}

// Quote publishes a quote of an existing post.
func (c *Client) Quote(ctx context.Context, quotedID, text string) (string, error) {
	id, err := c.createPost(ctx, createPostBody{Text: text, QuoteTweetID: quotedID})
	if err != nil {
		return "", fmt.Errorf("quote %s: %w", quotedID, err)
	}
	return id, nil
}

// LikePost likes a post on behalf of the authenticated user.
func (c *Client) LikePost(ctx context.Context, postID string) error {
	selfID, err := c.SelfID(ctx)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, EndpointLike, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/2/users/" + selfID + "/likes",
		Body:   map[string]string{"tweet_id": postID},
	})
	if err != nil {
		return fmt.Errorf("like %s: %w", postID, err)
	}
	return nil
}

// FollowUser follows the given user on behalf of the authenticated user.
func (c *Client) FollowUser(ctx context.Context, targetUserID string) error {
	selfID, err := c.SelfID(ctx)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, EndpointFollow, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/2/users/" + selfID + "/following",
		Body:   map[string]string{"target_user_id": targetUserID},
	})
	if err != nil {
		return fmt.Errorf("follow %s: %w", targetUserID, err)
	}
	return nil
}

// Repost reposts (retweets) a post on behalf of the authenticated user.
func (c *Client) Repost(ctx context.Context, postID string) error {
	selfID, err := c.SelfID(ctx)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, EndpointRepost, transport.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/2/users/" + selfID + "/retweets",
		Body:   map[string]string{"tweet_id": postID},
	})
	if err != nil {
		return fmt.Errorf("repost %s: %w", postID, err)
	}
	return nil
}
