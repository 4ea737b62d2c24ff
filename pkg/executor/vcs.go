package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adjutant-ops/adjutant/pkg/errors"
)

// VCSExecutor serves the vcs-queries skill against a Forgejo/Gitea
// compatible REST API. Read-only by design: repository, issue and commit
// listings only.
type VCSExecutor struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewVCSExecutor creates a VCSExecutor. baseURL is the server root, e.g.
// "https://git.example.com".
func NewVCSExecutor(baseURL, token string) *VCSExecutor {
	return &VCSExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Bindings returns this executor's registry entries.
func (e *VCSExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"vcs-queries__list_repos":   Func(e.ListRepos),
		"vcs-queries__list_issues":  Func(e.ListIssues),
		"vcs-queries__list_commits": Func(e.ListCommits),
	}
}

// ListRepos searches repositories, optionally filtered by a query string.
func (e *VCSExecutor) ListRepos(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		params := url.Values{"limit": {fmt.Sprintf("%d", intArg(args, "limit", 30))}}
		if q := stringArg(args, "query", ""); q != "" {
			params.Set("q", q)
		}
		var payload struct {
			Data []struct {
				FullName    string `json:"full_name"`
				Description string `json:"description"`
				Private     bool   `json:"private"`
				OpenIssues  int    `json:"open_issues_count"`
			} `json:"data"`
		}
		if err := e.get(ctx, "/api/v1/repos/search?"+params.Encode(), &payload); err != nil {
			return "", err
		}
		if len(payload.Data) == 0 {
			return "No repositories found.", nil
		}
		var b strings.Builder
		for _, r := range payload.Data {
			visibility := "public"
			if r.Private {
				visibility = "private"
			}
			fmt.Fprintf(&b, "- %s (%s, %d open issues) %s\n",
				r.FullName, visibility, r.OpenIssues, r.Description)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

// ListIssues lists open issues for owner/repo.
func (e *VCSExecutor) ListIssues(ctx context.Context, args map[string]any) (Result, error) {
	repo, err := requireString(args, "repo")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		state := stringArg(args, "state", "open")
		var issues []struct {
			Number int    `json:"number"`
			Title  string `json:"title"`
			State  string `json:"state"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
		}
		path := fmt.Sprintf("/api/v1/repos/%s/issues?state=%s&limit=%d",
			repo, url.QueryEscape(state), intArg(args, "limit", 30))
		if err := e.get(ctx, path, &issues); err != nil {
			return "", err
		}
		if len(issues) == 0 {
			return fmt.Sprintf("No %s issues in %s.", state, repo), nil
		}
		var b strings.Builder
		for _, i := range issues {
			fmt.Fprintf(&b, "#%d [%s] %s (%s)\n", i.Number, i.State, i.Title, i.User.Login)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

// ListCommits lists recent commits for owner/repo.
func (e *VCSExecutor) ListCommits(ctx context.Context, args map[string]any) (Result, error) {
	repo, err := requireString(args, "repo")
	if err != nil {
		return Result{}, err
	}
	return timed(ctx, func() (string, error) {
		var commits []struct {
			SHA    string `json:"sha"`
			Commit struct {
				Message string `json:"message"`
				Author  struct {
					Name string `json:"name"`
					Date string `json:"date"`
				} `json:"author"`
			} `json:"commit"`
		}
		path := fmt.Sprintf("/api/v1/repos/%s/commits?limit=%d", repo, intArg(args, "limit", 20))
		if err := e.get(ctx, path, &commits); err != nil {
			return "", err
		}
		if len(commits) == 0 {
			return fmt.Sprintf("No commits found in %s.", repo), nil
		}
		var b strings.Builder
		for _, c := range commits {
			subject := c.Commit.Message
			if idx := strings.IndexByte(subject, '\n'); idx > 0 {
				subject = subject[:idx]
			}
			fmt.Fprintf(&b, "%s %s (%s, %s)\n", shortID(c.SHA), subject,
				c.Commit.Author.Name, c.Commit.Author.Date)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	})
}

func (e *VCSExecutor) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", e.baseURL+path, nil)
	if err != nil {
		return errors.New(errors.CodeExecutorError, "build vcs request", err)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "token "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeUpstreamUnavailable, "vcs server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf(errors.CodeExecutorError, "vcs server returned status %d for %s",
			resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.New(errors.CodeExecutorError, "decode vcs response", err)
	}
	return nil
}
