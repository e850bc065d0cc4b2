// Package remote is the transport to a content server holding recipes,
// plugins and project libraries.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/openmined/artifactsync/internal/artifact"
	"github.com/openmined/artifactsync/internal/version"
)

const (
	pluginsPath   = "/public/api/plugins/"
	projectsPath  = "/public/api/projects/"
	contentsPath  = "contents/"
	librariesPath = "libraries/contents/"
	recipesPath   = "recipes/"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultRetries      = 3
	DefaultRetryWait    = 500 * time.Millisecond
	DefaultRetryMaxWait = 5 * time.Second
)

// Config describes one content server instance.
type Config struct {
	BaseURL      string
	APIKey       string
	Insecure     bool
	Timeout      time.Duration
	Retries      int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = DefaultRetryWait
	}
	if c.RetryMaxWait < c.RetryWait {
		c.RetryMaxWait = c.RetryWait
	}
}

// Client talks to one content server. Transient failures (network errors,
// 5xx and 429) are retried with exponential backoff; other 4xx are not.
type Client struct {
	client *req.Client
	config Config
}

func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	config.setDefaults()

	client := req.C().
		SetBaseURL(strings.TrimSuffix(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonRetryCount(config.Retries).
		SetCommonRetryBackoffInterval(config.RetryWait, config.RetryMaxWait).
		SetCommonRetryCondition(shouldRetry).
		SetCommonRetryHook(func(resp *req.Response, err error) {
			if err != nil {
				slog.Debug("remote retry", "error", err)
				return
			}
			slog.Debug("remote retry", "status", resp.StatusCode)
		}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if config.APIKey != "" {
		client.SetCommonBasicAuth(config.APIKey, "")
	}
	if config.Insecure {
		client.EnableInsecureSkipVerify()
	}

	return &Client{client: client, config: config}, nil
}

// BaseURL of the content server.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

func shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && resp.Response != nil && isRetryableStatus(resp.StatusCode)
}

// ListPlugins returns the ids of every plugin on the server.
func (c *Client) ListPlugins(ctx context.Context) ([]string, error) {
	var plugins []pluginInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&plugins).
		Get(pluginsPath)
	if err := handleAPIError(resp, err, "list plugins"); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// ListArtifactFiles lists the file tree of a plugin or a library.
func (c *Client) ListArtifactFiles(ctx context.Context, key artifact.Key) ([]FileInfo, error) {
	base, err := treeURL(key)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&files).
		Get(base)
	if err := handleAPIError(resp, err, "list "+key.String()); err != nil {
		return nil, err
	}
	if files == nil {
		files = []FileInfo{}
	}
	return files, nil
}

func (c *Client) ReadFile(ctx context.Context, key artifact.Key, remotePath string) ([]byte, error) {
	u, err := fileURL(key, remotePath)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		Get(u)
	if err := handleAPIError(resp, err, "read "+artifact.FileID(key, remotePath)); err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

func (c *Client) WriteFile(ctx context.Context, key artifact.Key, remotePath string, data []byte) error {
	u, err := fileURL(key, remotePath)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetContentType("application/octet-stream").
		SetBodyBytes(data).
		Put(u)
	if err := handleAPIError(resp, err, "write "+artifact.FileID(key, remotePath)); err != nil {
		return err
	}
	slog.Debug("remote write", "path", artifact.FileID(key, remotePath), "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (c *Client) DeleteFile(ctx context.Context, key artifact.Key, remotePath string) error {
	u, err := fileURL(key, remotePath)
	if err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		Delete(u)
	return handleAPIError(resp, err, "delete "+artifact.FileID(key, remotePath))
}

// ListRecipes lists the recipes of a project.
func (c *Client) ListRecipes(ctx context.Context, project string) ([]RecipeInfo, error) {
	var recipes []RecipeInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&recipes).
		Get(projectsPath + url.PathEscape(project) + "/" + recipesPath)
	if err := handleAPIError(resp, err, "list recipes "+project); err != nil {
		return nil, err
	}
	return recipes, nil
}

// ReadRecipe returns the payload of a recipe with its current version.
func (c *Client) ReadRecipe(ctx context.Context, project, name string) (*Recipe, error) {
	var body recipeResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&body).
		Get(recipeURL(project, name))
	if err := handleAPIError(resp, err, "read "+artifact.Recipe(project, name).String()); err != nil {
		return nil, err
	}

	return &Recipe{
		Name:    body.Recipe.Name,
		Type:    body.Recipe.Type,
		Payload: []byte(body.Payload),
		Version: body.Recipe.VersionTag.VersionNumber,
	}, nil
}

// WriteRecipe replaces the payload of a recipe and returns the version the
// server assigned to it.
func (c *Client) WriteRecipe(ctx context.Context, project, name, recipeType string, payload []byte) (int64, error) {
	if !utf8.Valid(payload) {
		return 0, fmt.Errorf("write %s: %w", artifact.Recipe(project, name), ErrInvalidEncoding)
	}

	var body recipeWriteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&recipeWriteRequest{Payload: string(payload), Type: recipeType}).
		SetSuccessResult(&body).
		Put(recipeURL(project, name))
	if err := handleAPIError(resp, err, "write "+artifact.Recipe(project, name).String()); err != nil {
		return 0, err
	}
	slog.Debug("remote write", "path", artifact.Recipe(project, name).String(), "size", humanize.Bytes(uint64(len(payload))), "version", body.VersionTag.VersionNumber)
	return body.VersionTag.VersionNumber, nil
}

func (c *Client) DeleteRecipe(ctx context.Context, project, name string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Delete(recipeURL(project, name))
	return handleAPIError(resp, err, "delete "+artifact.Recipe(project, name).String())
}

func treeURL(key artifact.Key) (string, error) {
	switch key.Kind {
	case artifact.KindPlugin:
		return pluginsPath + url.PathEscape(key.Name) + "/" + contentsPath, nil
	case artifact.KindLibrary:
		return projectsPath + url.PathEscape(key.Project) + "/" + librariesPath, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotTree, key)
}

func fileURL(key artifact.Key, remotePath string) (string, error) {
	base, err := treeURL(key)
	if err != nil {
		return "", err
	}
	cleaned, err := artifact.CleanRemotePath(remotePath)
	if err != nil {
		return "", err
	}
	return base + escapePath(cleaned), nil
}

func recipeURL(project, name string) string {
	return projectsPath + url.PathEscape(project) + "/" + recipesPath + url.PathEscape(name)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
