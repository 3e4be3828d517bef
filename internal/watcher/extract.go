package watcher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
)

// ErrMissingHeader 必需头字段缺失
var ErrMissingHeader = errors.New("缺少必需的头字段")

// ForwardableMessage 从原始邮件提取出的待转发内容
// 每个周期重新构建，不做持久化
type ForwardableMessage struct {
	From     string
	To       string
	Subject  string
	Date     string
	BodyText string
}

// Extract 解析原始 RFC822 邮件并提取可转发的内容
// From/To/Subject/Date 任一缺失都视为格式错误，不做默认值替代；
// 字段存在但值为空不算缺失，照常转发
func Extract(raw []byte) (*ForwardableMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("解析邮件失败: %w", err)
	}

	for _, name := range []string{"From", "To", "Subject", "Date"} {
		if !entity.Header.Has(name) {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, name)
		}
	}

	msg := &ForwardableMessage{
		From:    entity.Header.Get("From"),
		To:      entity.Header.Get("To"),
		Subject: entity.Header.Get("Subject"),
		Date:    entity.Header.Get("Date"),
	}

	body, err := extractBody(entity)
	if err != nil {
		return nil, err
	}
	msg.BodyText = body

	return msg, nil
}

// extractBody 选取可转发的正文
// 没有子部分时整个正文就是可转发文本；
// 有子部分时按顺序拼接所有 text/plain 子部分，其他类型忽略
func extractBody(entity *message.Entity) (string, error) {
	mediaType, _, _ := entity.Header.ContentType()

	if !strings.HasPrefix(mediaType, "multipart/") {
		body, err := io.ReadAll(entity.Body)
		if err != nil {
			return "", fmt.Errorf("读取正文失败: %w", err)
		}
		return string(body), nil
	}

	mr := entity.MultipartReader()
	if mr == nil {
		return "", fmt.Errorf("multipart 邮件无法读取子部分")
	}

	var parts []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("读取子部分失败: %w", err)
		}

		partType, _, _ := part.Header.ContentType()
		if partType != "text/plain" {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("读取子部分正文失败: %w", err)
		}
		parts = append(parts, string(body))
	}

	return strings.Join(parts, "\n"), nil
}
