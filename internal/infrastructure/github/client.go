package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"repo-source-web/pkg/config"
	"repo-source-web/pkg/logger"
)

var (
	ErrInvalidRepoURL = errors.New("无效的 GitHub 仓库 URL")
	ErrRepoNotFound   = errors.New("仓库或分支不存在")
)

var repoURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`),
	regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`),
}

// Client 从 GitHub 下载仓库 ZIP 快照
type Client struct {
	config     *config.Config
	httpClient *http.Client
}

// NewClient 创建 GitHub 客户端实例
func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// FetchArchive 下载仓库快照并返回 base64 编码的 ZIP 数据。
// 未指定分支时依次尝试 main 与 master。
func (c *Client) FetchArchive(ctx context.Context, owner, repo, ref, token string) (string, error) {
	if token == "" {
		token = c.config.GetGithubAPIKey()
	}

	refs := []string{ref}
	if ref == "" {
		refs = []string{"main", "master"}
	}

	var lastErr error
	for _, r := range refs {
		logger.Debug("尝试下载仓库快照",
			zap.String("owner", owner),
			zap.String("repo", repo),
			zap.String("ref", r))

		data, err := c.download(ctx, owner, repo, r, token)
		if err == nil {
			logger.Info("仓库快照下载成功",
				zap.String("owner", owner),
				zap.String("repo", repo),
				zap.String("ref", r),
				zap.Int("size", len(data)))
			return base64.StdEncoding.EncodeToString(data), nil
		}
		lastErr = err
		if !errors.Is(err, ErrRepoNotFound) {
			break
		}
	}
	return "", fmt.Errorf("获取 %s/%s 失败: %w", owner, repo, lastErr)
}

func (c *Client) download(ctx context.Context, owner, repo, ref, token string) ([]byte, error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/zipball/%s",
		strings.TrimRight(c.config.GetGithubAPIBaseURL(), "/"), owner, repo, ref)

	resp, err := c.makeRequest(ctx, apiURL, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, ref)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GitHub API 返回错误状态码: %d", resp.StatusCode)
	}

	limit := c.config.GetMaxUploadSize()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("仓库快照超过上传限制 %d 字节", limit)
	}
	return data, nil
}

// makeRequest 发送带认证信息的 GET 请求
func (c *Client) makeRequest(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Repo-Source-Web/1.0")

	return c.httpClient.Do(req)
}

// ParseRepoURL 从 URL 中解析仓库所有者和名称
func ParseRepoURL(url string) (owner, repo string, err error) {
	for _, re := range repoURLPatterns {
		matches := re.FindStringSubmatch(url)
		if len(matches) == 3 {
			return matches[1], matches[2], nil
		}
	}
	return "", "", ErrInvalidRepoURL
}
