package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stock_review/internal/config"
)

// ErrPublishFailed 发布失败（凭证、封面或草稿任一步）
var ErrPublishFailed = errors.New("发布失败")

// WeChatClient 公众号接口客户端
type WeChatClient struct {
	baseURL   string
	appID     string
	appSecret string
	client    *http.Client
}

// NewWeChatClient 创建公众号客户端
func NewWeChatClient(cfg *config.WeChatConfig) *WeChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &WeChatClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		client:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// apiResult 公众号接口通用返回
type apiResult struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	MediaID     string `json:"media_id"`
}

// Article 草稿文章
type Article struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	Digest          string `json:"digest"`
	Content         string `json:"content"`
	ThumbMediaID    string `json:"thumb_media_id"`
	ShowCoverPic    int    `json:"show_cover_pic"`
	NeedOpenComment int    `json:"need_open_comment"`
}

// AccessToken 用 appid/secret 换取 access_token
func (c *WeChatClient) AccessToken(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("grant_type", "client_credential")
	params.Set("appid", c.appID)
	params.Set("secret", c.appSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cgi-bin/token?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	res, err := c.do(req)
	if err != nil {
		return "", err
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("获取 Token 失败: errcode=%d errmsg=%s", res.ErrCode, res.ErrMsg)
	}
	return res.AccessToken, nil
}

// UploadThumb 上传封面图为永久素材，返回 media_id
func (c *WeChatClient) UploadThumb(ctx context.Context, token, imagePath string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("找不到封面图片: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("media", filepath.Base(imagePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("读取封面图片失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("access_token", token)
	params.Set("type", "image")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/cgi-bin/material/add_material?"+params.Encode(), &body)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := c.do(req)
	if err != nil {
		return "", err
	}
	if res.MediaID == "" {
		return "", fmt.Errorf("封面图上传失败: errcode=%d errmsg=%s", res.ErrCode, res.ErrMsg)
	}
	return res.MediaID, nil
}

// AddDraft 新建草稿，返回草稿 media_id
func (c *WeChatClient) AddDraft(ctx context.Context, token string, article Article) (string, error) {
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string][]Article{"articles": {article}}); err != nil {
		return "", fmt.Errorf("序列化草稿失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/cgi-bin/draft/add?access_token="+url.QueryEscape(token), &payload)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	res, err := c.do(req)
	if err != nil {
		return "", err
	}
	if res.MediaID == "" {
		return "", fmt.Errorf("草稿上传失败: errcode=%d errmsg=%s", res.ErrCode, res.ErrMsg)
	}
	return res.MediaID, nil
}

func (c *WeChatClient) do(req *http.Request) (*apiResult, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态异常: %d", resp.StatusCode)
	}
	var res apiResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &res, nil
}
