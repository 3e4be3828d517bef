package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gomaillist/gml/internal/logger"
	"github.com/gomaillist/gml/internal/metrics"
	"github.com/gomaillist/gml/internal/storage"
)

// ErrNoCredentials 列表缺少邮箱凭据，看守进程无法启动
var ErrNoCredentials = errors.New("邮箱凭据缺失")

// Config 单个看守进程的配置
type Config struct {
	ListID  string
	Mailbox Mailbox
	Sender  Sender
	Store   storage.Driver

	// 列表邮箱的地址和密码，也用作外发认证
	Address string
	Secret  string

	KeepAlive time.Duration
	Metrics   *metrics.Exporter
}

// Watcher 单个邮件列表的邮箱看守进程
// 游标和会话只被所属看守进程的当前周期访问，周期之间严格串行
type Watcher struct {
	cfg Config
	log zerolog.Logger

	// 游标：最后处理过的邮件序号，仅存在于内存中
	lastSeen uint32
	hasSeen  bool
}

// New 创建看守进程
func New(cfg Config) *Watcher {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Minute
	}
	return &Watcher{
		cfg: cfg,
		log: logger.WithList(cfg.ListID),
	}
}

// Run 运行看守循环：IDLE 等待 → 对比 → 取回 → 转发
// 每个周期完整结束后才开始下一次 IDLE；ctx 取消时退出
// 连接或 IDLE 失败会终止看守循环，不做重连
func (w *Watcher) Run(ctx context.Context) {
	defer w.cfg.Mailbox.Close()

	w.log.Info().Msg("看守进程启动")

	for {
		if err := w.cfg.Mailbox.Wait(ctx, w.cfg.KeepAlive); err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("看守进程收到取消信号")
				return
			}
			w.log.Error().Err(err).Msg("IDLE 等待失败，看守进程退出")
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.IncWatcherFailures()
			}
			return
		}
		if ctx.Err() != nil {
			w.log.Info().Msg("看守进程收到取消信号")
			return
		}

		// 每个转发周期一个 trace_id
		cctx := logger.WithTraceIDContext(ctx, uuid.NewString())
		if err := w.cycle(cctx); err != nil {
			logger.ErrorCtx(cctx).Err(err).Str("list_id", w.cfg.ListID).Msg("转发周期失败")
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.IncCycleErrors()
			}
			// 游标未推进，继续下一次 IDLE
		}
	}
}

// cycle 执行一个完整的转发周期
// 游标只在周期无致命错误结束时推进；单个订阅者的发送失败不算致命
func (w *Watcher) cycle(ctx context.Context) error {
	ids, err := w.cfg.Mailbox.SearchAll()
	if err != nil {
		return fmt.Errorf("查询邮件序号失败: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	newest := ids[0]
	for _, id := range ids[1:] {
		if id > newest {
			newest = id
		}
	}

	// 常见情形：没有新邮件，无副作用地回到 IDLE
	if w.hasSeen && w.lastSeen == newest {
		return nil
	}

	raw, err := w.cfg.Mailbox.FetchRaw(newest)
	if err != nil {
		return fmt.Errorf("取回邮件 %d 失败: %w", newest, err)
	}

	msg, err := Extract(raw)
	if err != nil {
		// 格式错误的邮件跳过，不转发也不重试，游标越过它
		logger.WarnCtx(ctx).Err(err).Uint32("id", newest).Str("list_id", w.cfg.ListID).Msg("邮件格式错误，跳过")
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.IncSkippedMessages()
		}
		w.advance(newest)
		return nil
	}

	// 每个周期重新读取列表记录，订阅者变更即时生效
	list, err := w.cfg.Store.GetMailingListByID(ctx, w.cfg.ListID)
	if err != nil {
		return fmt.Errorf("读取邮件列表失败: %w", err)
	}

	for _, subscriberID := range list.SubscriberIDs {
		user, err := w.cfg.Store.GetUserByID(ctx, subscriberID)
		if err != nil {
			// 订阅者解析失败只跳过该订阅者
			logger.WarnCtx(ctx).Err(err).Str("subscriber", subscriberID).Msg("订阅者不存在，跳过")
			continue
		}
		if user.Email == "" {
			logger.WarnCtx(ctx).Str("subscriber", subscriberID).Msg("订阅者没有邮箱，跳过")
			continue
		}

		if err := w.cfg.Sender.Send(ctx, msg, w.cfg.Address, w.cfg.Secret, user.Email); err != nil {
			// 单个订阅者失败不影响其余订阅者
			logger.ErrorCtx(ctx).Err(err).Str("to", user.Email).Msg("发送失败")
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.IncForwardErrors()
			}
			continue
		}

		logger.InfoCtx(ctx).Str("to", user.Email).Uint32("id", newest).Msg("邮件已转发")
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.IncForwarded()
		}
	}

	w.advance(newest)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.IncCycles()
	}
	return nil
}

// advance 推进游标
func (w *Watcher) advance(id uint32) {
	w.lastSeen = id
	w.hasSeen = true
}
