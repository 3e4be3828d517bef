package watcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Mailbox 看守进程对收件邮箱的最小视图
// *Session 是真正的 IMAP 实现，测试里用假实现替换
type Mailbox interface {
	// Wait 阻塞在 IDLE 中，直到邮箱变化、保活间隔到期或 ctx 取消
	Wait(ctx context.Context, keepAlive time.Duration) error
	// SearchAll 返回收件箱中全部邮件的序号
	SearchAll() ([]uint32, error)
	// FetchRaw 取回指定序号邮件的完整 RFC822 内容
	FetchRaw(id uint32) ([]byte, error)
	Close() error
}

// Session 持有一条已认证、已选中收件箱的 IMAP 连接
// 一个看守进程独占一个 Session，不跨列表共享
type Session struct {
	client *client.Client
	// updates 在连接建立时设置一次，之后不再改写：
	// 客户端的读取协程会阻塞写入这个通道，必须持续排空
	updates chan client.Update
	address string
}

// Open 建立 TLS 连接并登录收件邮箱，选中 INBOX
// 认证被拒或主机不可达直接失败，不做重试
func Open(server string, port int, address, secret string) (*Session, error) {
	addr := net.JoinHostPort(server, strconv.Itoa(port))

	c, err := client.DialTLS(addr, &tls.Config{ServerName: server})
	if err != nil {
		return nil, fmt.Errorf("连接 IMAP 服务器失败: %w", err)
	}

	if err := c.Login(address, secret); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("IMAP 登录失败: %w", err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("选中 INBOX 失败: %w", err)
	}

	updates := make(chan client.Update, 64)
	c.Updates = updates

	return &Session{client: c, updates: updates, address: address}, nil
}

// Wait 发出 IDLE 命令并挂起，直到服务器推送邮箱变化通知、
// 保活间隔到期或 ctx 取消（此时返回 ctx 的错误）
func (s *Session) Wait(ctx context.Context, keepAlive time.Duration) error {
	// 上个周期（SEARCH/FETCH 期间）积压的通知先丢掉，
	// 它们描述的变化会被接下来的周期看到
	drainUpdates(s.updates)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- s.client.Idle(stop, nil) }()

	select {
	case <-ctx.Done():
		close(stop)
		_ = awaitIdleEnd(done, s.updates)
		return ctx.Err()

	case <-s.updates:
		close(stop)
		return awaitIdleEnd(done, s.updates)

	case <-time.After(keepAlive):
		close(stop)
		return awaitIdleEnd(done, s.updates)

	case err := <-done:
		// IDLE 自行结束，说明连接或协议出了问题
		if err != nil {
			return fmt.Errorf("IDLE 失败: %w", err)
		}
		return nil
	}
}

// drainUpdates 非阻塞地清空通知通道
func drainUpdates(updates <-chan client.Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

// awaitIdleEnd 等待 IDLE 命令结束
// 期间必须继续接收通知：读取协程阻塞写入通知通道时，
// IDLE 的完成响应永远不会被处理，这里会死锁
func awaitIdleEnd(done <-chan error, updates <-chan client.Update) error {
	for {
		select {
		case err := <-done:
			return err
		case <-updates:
		}
	}
}

// SearchAll 查询收件箱中全部邮件的序号
func (s *Session) SearchAll() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.SeqNum = new(imap.SeqSet)
	criteria.SeqNum.AddRange(1, 0) // 1:* 等价于 ALL

	ids, err := s.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("查询邮件序号失败: %w", err)
	}
	return ids, nil
}

// FetchRaw 取回指定序号邮件的完整内容（头 + 体），不做缓存
func (s *Session) FetchRaw(id uint32) ([]byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(id)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	if err := s.client.Fetch(seqset, items, messages); err != nil {
		return nil, fmt.Errorf("取回邮件失败: %w", err)
	}

	msg := <-messages
	if msg == nil {
		return nil, fmt.Errorf("邮件不存在: %d", id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("邮件 %d 没有内容", id)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("读取邮件内容失败: %w", err)
	}
	return raw, nil
}

// Close 登出并关闭连接
func (s *Session) Close() error {
	return s.client.Logout()
}
