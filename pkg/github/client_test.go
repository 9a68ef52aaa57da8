package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiRoot = "https://api.github.com"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()

	mt := httpmock.NewMockTransport()
	client, err := NewClientWithOptions("test-token", ClientOptions{
		BaseTransport: mt,
		Sleep:         func(context.Context, time.Duration) error { return nil },
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return client, mt
}

func TestNewClient(t *testing.T) {
	client := NewClient("test-token")

	assert.NotNil(t, client)
	assert.NotNil(t, client.api())
	assert.Equal(t, DefaultBaseURL, client.api().BaseURL.String())
	assert.Equal(t, userAgent, client.api().UserAgent)
}

func TestNewClientWithOptions_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
		wantErr  bool
	}{
		{
			name:     "enterprise root without slash",
			baseURL:  "https://ghe.example.com/api/v3",
			expected: "https://ghe.example.com/api/v3/",
		},
		{
			name:     "root with slash",
			baseURL:  "http://localhost:8080/",
			expected: "http://localhost:8080/",
		},
		{
			name:    "unsupported scheme",
			baseURL: "ftp://example.com",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientWithOptions("token", ClientOptions{BaseURL: tt.baseURL})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, client.api().BaseURL.String())
		})
	}
}

func TestClient_WithContext(t *testing.T) {
	client := NewClient("token")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bound := client.WithContext(ctx)

	assert.Same(t, client.conn, bound.conn)
	assert.Equal(t, ctx, bound.ctx)
}

func TestClient_SendsBearerToken(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"name":       "widgets",
				"has_issues": true,
			})
		})

	repo, err := client.GetRepository("acme", "widgets")

	require.NoError(t, err)
	assert.Equal(t, "widgets", repo.GetName())
	assert.True(t, repo.GetHasIssues())
}

func TestClient_ListLabels_Paginates(t *testing.T) {
	client, mt := newMockedClient(t)

	const total = 237
	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets/labels",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "100", req.URL.Query().Get("per_page"))

			page, _ := strconv.Atoi(req.URL.Query().Get("page"))
			start := (page - 1) * PageSize
			end := start + PageSize
			if end > total {
				end = total
			}

			labels := make([]map[string]string, 0, PageSize)
			for i := start; i < end; i++ {
				labels = append(labels, map[string]string{
					"name":  fmt.Sprintf("label-%03d", i),
					"color": "ededed",
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, labels)
		})

	labels, err := client.ListLabels("acme", "widgets")

	require.NoError(t, err)
	assert.Len(t, labels, total)
	assert.Equal(t, "label-000", labels[0].Name)
	assert.Equal(t, "label-236", labels[total-1].Name)
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestClient_ListMilestones_RequestsAllStates(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets/milestones",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "all", req.URL.Query().Get("state"))
			return httpmock.NewJsonResponse(http.StatusOK, []map[string]any{
				{"number": 1, "title": "v1.0", "state": "closed"},
				{"number": 2, "title": "v2.0", "state": "open", "description": "Next"},
			})
		})

	milestones, err := client.ListMilestones("acme", "widgets")

	require.NoError(t, err)
	assert.Equal(t, []Milestone{
		{Number: 1, Title: "v1.0", State: "closed"},
		{Number: 2, Title: "v2.0", State: "open", Description: "Next"},
	}, milestones)
}

func TestClient_CreateMilestone(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPost, apiRoot+"/repos/acme/widgets/milestones",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "v1.0", body["title"])
			assert.Equal(t, "open", body["state"])
			return httpmock.NewJsonResponse(http.StatusCreated, map[string]any{
				"number": 5, "title": "v1.0", "state": "open",
			})
		})

	created, err := client.CreateMilestone("acme", "widgets", Milestone{Title: "v1.0", State: "open"})

	require.NoError(t, err)
	assert.Equal(t, 5, created.Number)
}

func TestClient_UpdateMilestone_SendsOnlyChangedFields(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPatch, apiRoot+"/repos/acme/widgets/milestones/5",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, map[string]any{"state": "closed"}, body)
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"number": 5})
		})

	state := "closed"
	err := client.UpdateMilestone("acme", "widgets", 5, MilestoneUpdate{State: &state})

	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestClient_UpdateLabel_EscapesNameAndSendsNewName(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPatch, `=~^https://api\.github\.com/repos/acme/widgets/labels/`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "/repos/acme/widgets/labels/area%2Fauth", req.URL.EscapedPath())

			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "area/auth", body["new_name"])
			assert.Equal(t, "ffffff", body["color"])
			assert.Equal(t, "", body["description"])
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"name": "area/auth"})
		})

	err := client.UpdateLabel("acme", "widgets", "area/auth", Label{Name: "area/auth", Color: "ffffff"})

	require.NoError(t, err)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestClient_SearchIssuesByBacklogID(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodGet, apiRoot+"/search/issues",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, `repo:acme/widgets "backlog-id: AUTH-1" in:body type:issue`, req.URL.Query().Get("q"))
			assert.Equal(t, "100", req.URL.Query().Get("per_page"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"total_count": 4,
				"items": []map[string]any{
					{
						"number":    10,
						"title":     "Login page",
						"body":      "<!-- backlog-id: AUTH-1 -->\n\nBuild it",
						"labels":    []map[string]any{{"name": "bug"}},
						"milestone": map[string]any{"number": 3},
					},
					{
						"number": 11,
						"title":  "Mentions backlog-id: AUTH-1 loosely",
						"body":   "see backlog-id: AUTH-1",
					},
					{
						"number": 12,
						"title":  "Prefix collision",
						"body":   "<!-- backlog-id: AUTH-10 -->",
					},
					{
						"number":       13,
						"title":        "Pull request",
						"body":         "<!-- backlog-id: AUTH-1 -->",
						"pull_request": map[string]any{"url": "https://api.github.com/repos/acme/widgets/pulls/13"},
					},
				},
			})
		})

	issues, err := client.SearchIssuesByBacklogID("acme", "widgets", "AUTH-1")

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, Issue{
		Number:          10,
		Title:           "Login page",
		Body:            "<!-- backlog-id: AUTH-1 -->\n\nBuild it",
		Labels:          []string{"bug"},
		MilestoneNumber: 3,
	}, issues[0])
}

func TestClient_SearchIssuesByBacklogID_ReadsEveryPage(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodGet, apiRoot+"/search/issues",
		func(req *http.Request) (*http.Response, error) {
			page, _ := strconv.Atoi(req.URL.Query().Get("page"))
			items := []map[string]any{}
			if page == 1 {
				for i := 0; i < PageSize; i++ {
					items = append(items, map[string]any{
						"number": 100 + i,
						"title":  "Near miss",
						"body":   fmt.Sprintf("<!-- backlog-id: AUTH-1-%d -->", i),
					})
				}
			} else {
				items = append(items, map[string]any{
					"number": 7,
					"title":  "Login page",
					"body":   "<!-- backlog-id: AUTH-1 -->",
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"total_count": PageSize + 1,
				"items":       items,
			})
		})

	issues, err := client.SearchIssuesByBacklogID("acme", "widgets", "AUTH-1")

	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, 7, issues[0].Number)
	assert.Equal(t, 2, mt.GetTotalCallCount())
}

func TestClient_SearchIssuesByBacklogID_StopsAtResultLimit(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodGet, apiRoot+"/search/issues",
		func(req *http.Request) (*http.Response, error) {
			page, _ := strconv.Atoi(req.URL.Query().Get("page"))
			items := make([]map[string]any, 0, PageSize)
			for i := 0; i < PageSize; i++ {
				items = append(items, map[string]any{
					"number": page*PageSize + i,
					"body":   "<!-- backlog-id: AUTH-10 -->",
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"total_count": 5000,
				"items":       items,
			})
		})

	issues, err := client.SearchIssuesByBacklogID("acme", "widgets", "AUTH-1")

	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, searchResultLimit/PageSize, mt.GetTotalCallCount())
}

func TestClient_CreateIssue_AlwaysSendsLabels(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPost, apiRoot+"/repos/acme/widgets/issues",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, []any{}, body["labels"])
			assert.NotContains(t, body, "milestone")
			return httpmock.NewJsonResponse(http.StatusCreated, map[string]any{"number": 99, "title": "A"})
		})

	created, err := client.CreateIssue("acme", "widgets", IssueRequest{Title: "A", Body: "body"})

	require.NoError(t, err)
	assert.Equal(t, 99, created.Number)
}

func TestClient_UpdateIssue_SendsMilestone(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPatch, apiRoot+"/repos/acme/widgets/issues/7",
		func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, float64(3), body["milestone"])
			assert.Equal(t, []any{"bug"}, body["labels"])
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"number": 7})
		})

	milestone := 3
	err := client.UpdateIssue("acme", "widgets", 7, IssueRequest{
		Title:     "A",
		Body:      "body",
		Labels:    []string{"bug"},
		Milestone: &milestone,
	})

	require.NoError(t, err)
}

func TestClient_ErrorIncludesStatusAndBody(t *testing.T) {
	client, mt := newMockedClient(t)

	mt.RegisterResponder(http.MethodPost, apiRoot+"/repos/acme/widgets/labels",
		httpmock.NewStringResponder(http.StatusUnprocessableEntity,
			`{"message":"Validation Failed","errors":[{"resource":"Label","code":"already_exists","field":"name"}]}`))

	err := client.CreateLabel("acme", "widgets", Label{Name: "bug", Color: "d73a4a"})

	require.Error(t, err)
	ghErr, ok := err.(*GitHubError)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeValidation, ghErr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, ghErr.StatusCode)
	assert.Equal(t, "name", ghErr.Field)
	assert.Contains(t, err.Error(), "422 for POST /repos/acme/widgets/labels")
	assert.Contains(t, err.Error(), "already_exists")
}

func TestClient_RetriesOnceAfterRateLimit(t *testing.T) {
	mt := httpmock.NewMockTransport()
	var slept []time.Duration
	client, err := NewClientWithOptions("token", ClientOptions{
		BaseTransport:     mt,
		RateLimitCooldown: 2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	mt.RegisterResponder(http.MethodPost, apiRoot+"/repos/acme/widgets/labels",
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusForbidden, `{"message":"API rate limit exceeded for user"}`),
			httpmock.NewStringResponse(http.StatusCreated, `{"name":"bug"}`),
		}))

	err = client.CreateLabel("acme", "widgets", Label{Name: "bug", Color: "d73a4a"})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
	assert.Equal(t, 2, mt.GetTotalCallCount())
}

func TestClient_WaitsOutExhaustedRateLimit(t *testing.T) {
	mt := httpmock.NewMockTransport()
	var slept []time.Duration
	client, err := NewClientWithOptions("token", ClientOptions{
		BaseTransport:     mt,
		RateLimitCooldown: 2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	reset := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets/labels",
		func(req *http.Request) (*http.Response, error) {
			resp, err := httpmock.NewJsonResponse(http.StatusOK, []map[string]string{{"name": "bug"}})
			if err != nil {
				return nil, err
			}
			resp.Header.Set("X-RateLimit-Limit", "5000")
			resp.Header.Set("X-RateLimit-Remaining", "0")
			resp.Header.Set("X-RateLimit-Reset", reset)
			return resp, nil
		})
	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets/milestones",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, []map[string]any{
			{"number": 1, "title": "v1.0", "state": "open"},
		}))

	labels, err := client.ListLabels("acme", "widgets")
	require.NoError(t, err)
	require.Len(t, labels, 1)

	milestones, err := client.ListMilestones("acme", "widgets")

	require.NoError(t, err)
	require.Len(t, milestones, 1)
	assert.Equal(t, "v1.0", milestones[0].Title)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
	assert.Equal(t, 2, mt.GetTotalCallCount())
}

func TestClient_ExhaustedRateLimitCooldownInterrupted(t *testing.T) {
	mt := httpmock.NewMockTransport()
	client, err := NewClientWithOptions("token", ClientOptions{
		BaseTransport: mt,
		Sleep:         func(context.Context, time.Duration) error { return context.Canceled },
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	reset := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	mt.RegisterResponder(http.MethodGet, apiRoot+"/repos/acme/widgets",
		func(req *http.Request) (*http.Response, error) {
			resp, err := httpmock.NewJsonResponse(http.StatusOK, map[string]any{"name": "widgets"})
			if err != nil {
				return nil, err
			}
			resp.Header.Set("X-RateLimit-Remaining", "0")
			resp.Header.Set("X-RateLimit-Reset", reset)
			return resp, nil
		})

	_, err = client.GetRepository("acme", "widgets")
	require.NoError(t, err)

	_, err = client.GetRepository("acme", "widgets")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}
