package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomaillist/gml/internal/logger"
	"github.com/gomaillist/gml/internal/metrics"
	"github.com/gomaillist/gml/internal/smtpclient"
	"github.com/gomaillist/gml/internal/storage"
)

// SupervisorConfig 看守进程管理器配置
type SupervisorConfig struct {
	Storage storage.Driver
	Metrics *metrics.Exporter

	IMAPServer string
	IMAPPort   int
	KeepAlive  time.Duration

	SMTPServer  string
	SMTPPort    int
	HelloName   string
	SendTimeout time.Duration
}

// Supervisor 管理每个邮件列表对应的看守进程
// 每个列表最多一个看守进程，注册表按列表 ID 索引
type Supervisor struct {
	cfg SupervisorConfig

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

// NewSupervisor 创建看守进程管理器
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		watchers: make(map[string]context.CancelFunc),
	}
}

// StartWatcher 为新建的邮件列表启动看守进程
// 配置不全（没有邮箱凭据、所有者没有邮箱）时拒绝启动并报告；
// 连接和登录在后台进行，失败只记录日志，不影响调用方
func (s *Supervisor) StartWatcher(ctx context.Context, list *storage.MailingList) error {
	if list.SMTPKey == "" {
		return fmt.Errorf("列表 %s: %w", list.ID, ErrNoCredentials)
	}

	owner, err := s.cfg.Storage.GetUserByID(ctx, list.OwnerID)
	if err != nil {
		return fmt.Errorf("查询列表所有者失败: %w", err)
	}
	if owner.Email == "" {
		return fmt.Errorf("列表所有者 %s 没有邮箱: %w", owner.ID, ErrNoCredentials)
	}

	s.mu.Lock()
	if _, ok := s.watchers[list.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("列表 %s 的看守进程已在运行", list.ID)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchers[list.ID] = cancel
	s.mu.Unlock()

	go s.run(watchCtx, list.ID, owner.Email, list.SMTPKey)
	return nil
}

// run 打开邮箱会话并执行看守循环，结束后从注册表移除
func (s *Supervisor) run(ctx context.Context, listID, address, secret string) {
	defer func() {
		s.mu.Lock()
		delete(s.watchers, listID)
		s.mu.Unlock()
	}()

	session, err := Open(s.cfg.IMAPServer, s.cfg.IMAPPort, address, secret)
	if err != nil {
		// 连接或认证失败对该看守进程是致命的，不做重试
		logger.Error().Err(err).Str("list_id", listID).Msg("打开邮箱会话失败，看守进程未启动")
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.IncWatcherFailures()
		}
		return
	}

	forwarder := NewSMTPForwarder(
		smtpclient.NewClient(s.cfg.HelloName, s.cfg.SendTimeout),
		s.cfg.SMTPServer,
		s.cfg.SMTPPort,
	)

	w := New(Config{
		ListID:    listID,
		Mailbox:   session,
		Sender:    forwarder,
		Store:     s.cfg.Storage,
		Address:   address,
		Secret:    secret,
		KeepAlive: s.cfg.KeepAlive,
		Metrics:   s.cfg.Metrics,
	})

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncWatchersActive()
		defer s.cfg.Metrics.DecWatchersActive()
	}

	w.Run(ctx)
}

// Stop 取消指定列表的看守进程，返回是否存在
// 目前没有调用方在删除列表时使用它，保留作为停止/重启的入口
func (s *Supervisor) Stop(listID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancel, ok := s.watchers[listID]
	if !ok {
		return false
	}
	cancel()
	return true
}

// StopAll 取消全部看守进程（进程退出时调用）
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cancel := range s.watchers {
		cancel()
		delete(s.watchers, id)
	}
}

// Running 返回当前运行中的看守进程数
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}
