package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient("scientist-a", "ai-research", StaticTokenSource("test-token"),
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client, server
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		repo   string
		tokens TokenSource
	}{
		{name: "missing owner", owner: "", repo: "r", tokens: StaticTokenSource("t")},
		{name: "missing repo", owner: "o", repo: "", tokens: StaticTokenSource("t")},
		{name: "missing tokens", owner: "o", repo: "r", tokens: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.owner, tt.repo, tt.tokens); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCreateRepositoryAlreadyExists(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/repos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "name already exists on this account"})
	}))

	if err := client.CreateRepository(context.Background(), "research workspace", true); err != nil {
		t.Errorf("expected existing repository to be tolerated, got %v", err)
	}
}

func TestCreateRepositorySendsAuth(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))

	if err := client.CreateRepository(context.Background(), "research workspace", true); err != nil {
		t.Fatalf("CreateRepository returned error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
}

func TestCreateBranchAlreadyExists(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/git/ref/heads/main"):
			json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": "abc123"}})
		case strings.HasSuffix(r.URL.Path, "/git/refs"):
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["sha"] != "abc123" {
				t.Errorf("expected branch from sha abc123, got %q", payload["sha"])
			}
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": "Reference already exists"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	if err := client.CreateBranch(context.Background(), "hypothesis-scientist_a", "main"); err != nil {
		t.Errorf("expected existing branch to be tolerated, got %v", err)
	}
}

func TestCommitFileUpdateFallback(t *testing.T) {
	var puts int
	var lastPayload map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]string{"sha": "existing-sha"})
			return
		}
		puts++
		json.NewDecoder(r.Body).Decode(&lastPayload)
		if puts == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"message": `"sha" wasn't supplied`})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := client.CommitFile(context.Background(), "hypotheses/hypothesis_scientist_a.md", "# Hypothesis", "Add hypothesis", "hypothesis-scientist_a")
	if err != nil {
		t.Fatalf("CommitFile returned error: %v", err)
	}
	if puts != 2 {
		t.Fatalf("expected create then update, got %d PUTs", puts)
	}
	if lastPayload["sha"] != "existing-sha" {
		t.Errorf("expected update to carry blob sha, got %v", lastPayload["sha"])
	}
	content, _ := base64.StdEncoding.DecodeString(lastPayload["content"].(string))
	if string(content) != "# Hypothesis" {
		t.Errorf("expected content preserved on update, got %q", content)
	}
}

func TestInitDirectoryStructure(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.Contains(r.URL.Path, "hypotheses") {
			// Simulate a directory surviving from an earlier run.
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	if err := client.InitDirectoryStructure(context.Background()); err != nil {
		t.Fatalf("InitDirectoryStructure returned error: %v", err)
	}
	wantDirs := []string{"hypotheses", "experiments", "models", "discussions", "papers"}
	if len(paths) != len(wantDirs) {
		t.Fatalf("expected %d commits, got %d", len(wantDirs), len(paths))
	}
	for i, dir := range wantDirs {
		want := "/repos/scientist-a/ai-research/contents/" + dir + "/.gitkeep"
		if paths[i] != want {
			t.Errorf("commit %d: expected %s, got %s", i, want, paths[i])
		}
	}
}

func TestCreatePullRequest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["head"] != "hypothesis-scientist_a" || payload["base"] != "main" {
			t.Errorf("unexpected refs: head=%q base=%q", payload["head"], payload["base"])
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]int{"number": 7})
	}))

	number, err := client.CreatePullRequest(context.Background(), "Hypothesis: memory formation", "Proposed hypothesis", "hypothesis-scientist_a", "main")
	if err != nil {
		t.Fatalf("CreatePullRequest returned error: %v", err)
	}
	if number != 7 {
		t.Errorf("expected PR number 7, got %d", number)
	}
}

func TestCreateReviewEvents(t *testing.T) {
	events := []string{"APPROVE", "REQUEST_CHANGES", "COMMENT"}
	for _, event := range events {
		t.Run(event, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/scientist-a/ai-research/pulls/3/reviews" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				var payload map[string]string
				json.NewDecoder(r.Body).Decode(&payload)
				if payload["event"] != event {
					t.Errorf("expected event %s, got %s", event, payload["event"])
				}
				w.WriteHeader(http.StatusOK)
			}))
			if err := client.CreateReview(context.Background(), 3, event, "review body"); err != nil {
				t.Errorf("CreateReview returned error: %v", err)
			}
		})
	}
}

func TestMergePullRequestError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(map[string]string{"message": "Pull Request is not mergeable"})
	}))

	err := client.MergePullRequest(context.Background(), 4)
	if err == nil {
		t.Fatal("expected merge error, got nil")
	}
	if !strings.Contains(err.Error(), "not mergeable") {
		t.Errorf("expected API message in error, got %v", err)
	}
}

func TestGetPullRequestContent(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("# Experiment Plan\n\nSteps."))
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/repos/scientist-a/ai-research/pulls/9":
			json.NewEncoder(w).Encode(map[string]any{
				"title": "Experiment plan",
				"body":  "Plan for review",
				"head":  map[string]string{"ref": "experiment_plan-scientist_b"},
				"base":  map[string]string{"ref": "main"},
			})
		case r.URL.Path == "/repos/scientist-a/ai-research/pulls/9/files":
			json.NewEncoder(w).Encode([]map[string]string{
				{"filename": "experiments/plan_scientist_b.md", "status": "added"},
				{"filename": "old/notes.md", "status": "removed"},
			})
		case strings.HasPrefix(r.URL.Path, "/repos/scientist-a/ai-research/contents/"):
			if got := r.URL.Query().Get("ref"); got != "experiment_plan-scientist_b" {
				t.Errorf("expected head ref, got %q", got)
			}
			json.NewEncoder(w).Encode(map[string]string{"content": encoded, "encoding": "base64"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	content, err := client.GetPullRequestContent(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetPullRequestContent returned error: %v", err)
	}
	if content.Title != "Experiment plan" || content.Head != "experiment_plan-scientist_b" {
		t.Errorf("unexpected metadata: %+v", content)
	}
	if len(content.Files) != 1 {
		t.Fatalf("expected removed file skipped, got %d files", len(content.Files))
	}
	if got := content.Files["experiments/plan_scientist_b.md"]; got != "# Experiment Plan\n\nSteps." {
		t.Errorf("unexpected file content %q", got)
	}
}
