package watcher

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gomaillist/gml/internal/smtpclient"
)

// Sender 把一封提取好的邮件转发给单个订阅者
// 测试里用假实现替换
type Sender interface {
	Send(ctx context.Context, msg *ForwardableMessage, fromAddress, secret, toAddress string) error
}

// SMTPForwarder 通过 SMTP 提交端口转发邮件
type SMTPForwarder struct {
	client *smtpclient.Client
	server string
	port   int
}

// NewSMTPForwarder 创建 SMTP 转发器
func NewSMTPForwarder(client *smtpclient.Client, server string, port int) *SMTPForwarder {
	return &SMTPForwarder{
		client: client,
		server: server,
		port:   port,
	}
}

// Send 组装转发邮件并发送给一个订阅者
// 信封发件人是列表邮箱地址，主题原样保留
func (f *SMTPForwarder) Send(ctx context.Context, msg *ForwardableMessage, fromAddress, secret, toAddress string) error {
	data := buildOutbound(fromAddress, toAddress, msg.Subject, composeForwardedBody(msg))

	if err := f.client.Submit(ctx, f.server, f.port, fromAddress, secret, fromAddress, toAddress, data); err != nil {
		return fmt.Errorf("转发给 %s 失败: %w", toAddress, err)
	}
	return nil
}

// composeForwardedBody 组装转发正文
func composeForwardedBody(msg *ForwardableMessage) string {
	return fmt.Sprintf(
		"---------- Forwarded message ---------\nFrom: %s\nTo: %s\nSent: %s\n\n%s",
		msg.From, msg.To, msg.Date, msg.BodyText,
	)
}

// buildOutbound 构建外发邮件
func buildOutbound(from, to, subject, body string) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", generateMessageID(from)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")

	// 空行分隔头和正文；正文统一成 CRLF 换行
	buf.WriteString("\r\n")
	buf.WriteString(normalizeCRLF(body))

	return buf.Bytes()
}

// normalizeCRLF 把正文的换行统一成 CRLF
func normalizeCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

// generateMessageID 生成 Message-ID
func generateMessageID(from string) string {
	// 格式: <timestamp.random@domain>
	domain := "localhost"
	if parts := strings.Split(from, "@"); len(parts) == 2 {
		domain = parts[1]
	}
	timestamp := time.Now().UnixNano()
	random := fmt.Sprintf("%x", timestamp%1000000)
	return fmt.Sprintf("<%d.%s@%s>", timestamp, random, domain)
}
