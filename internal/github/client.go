package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// researchDirectories are created in a fresh research repository so each
// stage has a home for its artifacts.
var researchDirectories = []string{"hypotheses", "experiments", "models", "discussions", "papers"}

// PullRequestContent is the reviewable content of a pull request: its
// metadata and the full decoded contents of every changed file at the
// head ref.
type PullRequestContent struct {
	Number int
	Title  string
	Body   string
	Head   string
	Base   string
	Files  map[string]string
}

// Client talks to the GitHub REST API on behalf of one identity.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	owner      string
	repo       string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the API base URL, primarily for tests.
func WithBaseURL(u string) ClientOption {
	return func(cl *Client) {
		cl.baseURL = strings.TrimRight(u, "/")
	}
}

// NewClient returns a client scoped to owner/repo authenticating through
// the given token source.
func NewClient(owner, repo string, tokens TokenSource, opts ...ClientOption) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, errors.New("owner and repo are required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.github.com",
		tokens:     tokens,
		owner:      owner,
		repo:       repo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Owner returns the repository owner this client is scoped to.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name this client is scoped to.
func (c *Client) Repo() string { return c.repo }

// do sends one API request and decodes the JSON response into out when
// out is non-nil. The raw status code is always returned so callers can
// branch on 422 idempotency cases.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("obtaining access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, apiError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CreateRepository creates the research repository under the
// authenticated user. An already existing repository is not an error.
func (c *Client) CreateRepository(ctx context.Context, description string, private bool) error {
	payload := map[string]any{
		"name":        c.repo,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}
	status, err := c.do(ctx, http.MethodPost, "/user/repos", payload, nil)
	if status == http.StatusUnprocessableEntity {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating repository %s/%s: %w", c.owner, c.repo, err)
	}
	return nil
}

// InitDirectoryStructure commits a .gitkeep into each research directory
// on the default branch. Directories that already exist are left alone.
func (c *Client) InitDirectoryStructure(ctx context.Context) error {
	for _, dir := range researchDirectories {
		path := dir + "/.gitkeep"
		payload := map[string]any{
			"message": fmt.Sprintf("Initialize %s directory", dir),
			"content": base64.StdEncoding.EncodeToString(nil),
		}
		status, err := c.do(ctx, http.MethodPut, c.repoPath("/contents/"+path), payload, nil)
		if status == http.StatusUnprocessableEntity {
			continue
		}
		if err != nil {
			return fmt.Errorf("initializing %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultBranchSHA returns the commit SHA at the tip of the given branch.
func (c *Client) DefaultBranchSHA(ctx context.Context, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.repoPath("/git/ref/heads/"+branch), nil, &ref); err != nil {
		return "", fmt.Errorf("resolving branch %s: %w", branch, err)
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates name pointing at the tip of from. A branch that
// already exists is not an error.
func (c *Client) CreateBranch(ctx context.Context, name, from string) error {
	sha, err := c.DefaultBranchSHA(ctx, from)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"ref": "refs/heads/" + name,
		"sha": sha,
	}
	status, err := c.do(ctx, http.MethodPost, c.repoPath("/git/refs"), payload, nil)
	if status == http.StatusUnprocessableEntity {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating branch %s: %w", name, err)
	}
	return nil
}

// CommitFile creates or updates path with content on branch. When the
// file already exists the commit is retried as an update with the
// current blob SHA.
func (c *Client) CommitFile(ctx context.Context, path, content, message, branch string) error {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	status, err := c.do(ctx, http.MethodPut, c.repoPath("/contents/"+path), payload, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusUnprocessableEntity {
		return fmt.Errorf("committing %s: %w", path, err)
	}

	sha, shaErr := c.fileSHA(ctx, path, branch)
	if shaErr != nil {
		return fmt.Errorf("committing %s: %w", path, shaErr)
	}
	payload["sha"] = sha
	if _, err := c.do(ctx, http.MethodPut, c.repoPath("/contents/"+path), payload, nil); err != nil {
		return fmt.Errorf("updating %s: %w", path, err)
	}
	return nil
}

func (c *Client) fileSHA(ctx context.Context, path, branch string) (string, error) {
	var file struct {
		SHA string `json:"sha"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.repoPath("/contents/"+path+"?ref="+branch), nil, &file); err != nil {
		return "", err
	}
	return file.SHA, nil
}

// CreatePullRequest opens a pull request from head into base and returns
// its number.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (int, error) {
	payload := map[string]any{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	var pr struct {
		Number int `json:"number"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.repoPath("/pulls"), payload, &pr); err != nil {
		return 0, fmt.Errorf("creating pull request: %w", err)
	}
	return pr.Number, nil
}

// CreateReview posts a review on the pull request. The event must be
// APPROVE, REQUEST_CHANGES or COMMENT.
func (c *Client) CreateReview(ctx context.Context, number int, event, body string) error {
	payload := map[string]any{
		"event": event,
		"body":  body,
	}
	path := c.repoPath(fmt.Sprintf("/pulls/%d/reviews", number))
	if _, err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("reviewing pull request #%d: %w", number, err)
	}
	return nil
}

// AddIssueComment posts a plain comment on the pull request.
func (c *Client) AddIssueComment(ctx context.Context, number int, body string) error {
	payload := map[string]any{"body": body}
	path := c.repoPath(fmt.Sprintf("/issues/%d/comments", number))
	if _, err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("commenting on pull request #%d: %w", number, err)
	}
	return nil
}

// MergePullRequest merges the pull request with the default strategy.
func (c *Client) MergePullRequest(ctx context.Context, number int) error {
	path := c.repoPath(fmt.Sprintf("/pulls/%d/merge", number))
	if _, err := c.do(ctx, http.MethodPut, path, map[string]any{}, nil); err != nil {
		return fmt.Errorf("merging pull request #%d: %w", number, err)
	}
	return nil
}

// GetPullRequestContent fetches the pull request metadata and the decoded
// contents of every file it changes, read at the head ref.
func (c *Client) GetPullRequestContent(ctx context.Context, number int) (*PullRequestContent, error) {
	var pr struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Head  struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.repoPath(fmt.Sprintf("/pulls/%d", number)), nil, &pr); err != nil {
		return nil, fmt.Errorf("fetching pull request #%d: %w", number, err)
	}

	var changed []struct {
		Filename string `json:"filename"`
		Status   string `json:"status"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.repoPath(fmt.Sprintf("/pulls/%d/files", number)), nil, &changed); err != nil {
		return nil, fmt.Errorf("listing files of pull request #%d: %w", number, err)
	}

	content := &PullRequestContent{
		Number: number,
		Title:  pr.Title,
		Body:   pr.Body,
		Head:   pr.Head.Ref,
		Base:   pr.Base.Ref,
		Files:  make(map[string]string, len(changed)),
	}
	for _, f := range changed {
		if f.Status == "removed" {
			continue
		}
		text, err := c.fileContent(ctx, f.Filename, pr.Head.Ref)
		if err != nil {
			return nil, fmt.Errorf("reading %s from pull request #%d: %w", f.Filename, number, err)
		}
		content.Files[f.Filename] = text
	}
	return content, nil
}

func (c *Client) fileContent(ctx context.Context, path, ref string) (string, error) {
	var file struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.repoPath("/contents/"+path+"?ref="+ref), nil, &file); err != nil {
		return "", err
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return string(decoded), nil
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}
