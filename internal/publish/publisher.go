package publish

import (
	"context"
	"fmt"
	"os"

	"stock_review/internal/config"

	"go.uber.org/zap"
)

// Publisher 报告发布：转换、取凭证、传封面、建草稿
type Publisher struct {
	client *WeChatClient
	config *config.WeChatConfig
	logger *zap.Logger
}

// NewPublisher 创建发布器
func NewPublisher(cfg *config.WeChatConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: NewWeChatClient(cfg),
		config: cfg,
		logger: logger,
	}
}

// PublishFile 发布本地 Markdown 报告；title 为空时取 front matter 标题，cover 为空时用配置的封面
func (p *Publisher) PublishFile(ctx context.Context, mdPath, cover, title string) (string, error) {
	md, err := os.ReadFile(mdPath)
	if err != nil {
		return "", fmt.Errorf("%w: 读取报告失败: %w", ErrPublishFailed, err)
	}
	if title == "" {
		title = FrontMatterTitle(md)
	}
	return p.Publish(ctx, title, md, cover)
}

// Publish 发布 Markdown 内容为草稿，返回草稿 media_id
func (p *Publisher) Publish(ctx context.Context, title string, md []byte, cover string) (string, error) {
	if err := p.config.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if cover == "" {
		cover = p.config.Cover
	}

	content, err := ConvertMarkdown(md)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	token, err := p.client.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	thumbID, err := p.client.UploadThumb(ctx, token, cover)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.logger.Info("封面图上传成功", zap.String("media_id", thumbID))

	draftID, err := p.client.AddDraft(ctx, token, Article{
		Title:           title,
		Author:          p.config.Author,
		Digest:          p.config.Digest,
		Content:         content,
		ThumbMediaID:    thumbID,
		ShowCoverPic:    1,
		NeedOpenComment: 1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.logger.Info("草稿上传成功", zap.String("title", title), zap.String("media_id", draftID))
	return draftID, nil
}
