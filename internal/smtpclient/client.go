package smtpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/gomaillist/gml/internal/logger"
)

// Client SMTP 提交客户端
// 每次 Submit 建立独立连接，不做连接池
type Client struct {
	hostname string // EHLO 客户端标识
	timeout  time.Duration
}

// NewClient 创建 SMTP 提交客户端
// hostname 是 EHLO 命令使用的客户端标识，为空时使用 localhost
func NewClient(hostname string, timeout time.Duration) *Client {
	if hostname == "" {
		hostname = "localhost"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		hostname: hostname,
		timeout:  timeout,
	}
}

// Submit 通过提交端口发送一封邮件（STARTTLS + AUTH PLAIN）
// username/password 是收件邮箱的凭据，from 是信封发件人，to 是单个收件人
func (c *Client) Submit(ctx context.Context, server string, port int, username, password, from, to string, data []byte) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))

	logger.DebugCtx(ctx).
		Str("server", addr).
		Str("from", from).
		Str("to", to).
		Msg("连接 SMTP 提交端口")

	// 创建带超时的连接
	dialer := &net.Dialer{
		Timeout: c.timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接 SMTP 服务器失败: %w", err)
	}

	// 整个提交过程共用一个截止时间
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		conn.Close()
		return fmt.Errorf("设置超时失败: %w", err)
	}

	// 升级 TLS
	client, err := smtp.NewClientStartTLS(conn, &tls.Config{ServerName: server})
	if err != nil {
		return fmt.Errorf("STARTTLS 失败: %w", err)
	}
	defer client.Close()
	client.CommandTimeout = c.timeout
	client.SubmissionTimeout = c.timeout

	// EHLO（固定客户端标识；startTLS 会重置 didHello，此处在 TLS 上重新 EHLO）
	if err := client.Hello(c.hostname); err != nil {
		return fmt.Errorf("EHLO 失败: %w", err)
	}

	// AUTH PLAIN
	if err := client.Auth(sasl.NewPlainClient("", username, password)); err != nil {
		return fmt.Errorf("SMTP 认证失败: %w", err)
	}

	// MAIL FROM / RCPT TO / DATA
	if err := client.SendMail(from, []string{to}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}

	// QUIT
	if err := client.Quit(); err != nil {
		logger.WarnCtx(ctx).Err(err).Msg("QUIT 失败")
		// QUIT 失败不影响邮件发送
	}

	return nil
}
