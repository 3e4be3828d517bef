package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gomaillist/gml/internal/storage"
)

// fakeMailbox 测试用邮箱
type fakeMailbox struct {
	ids       []uint32
	raw       map[uint32][]byte
	searchErr error
	fetchErr  error
	closed    bool
}

func (m *fakeMailbox) Wait(ctx context.Context, keepAlive time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeMailbox) SearchAll() ([]uint32, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.ids, nil
}

func (m *fakeMailbox) FetchRaw(id uint32) ([]byte, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	raw, ok := m.raw[id]
	if !ok {
		return nil, fmt.Errorf("邮件不存在: %d", id)
	}
	return raw, nil
}

func (m *fakeMailbox) Close() error {
	m.closed = true
	return nil
}

// fakeSender 记录发送尝试的假转发器
type fakeSender struct {
	sent    []string
	failFor map[string]bool
}

func (s *fakeSender) Send(ctx context.Context, msg *ForwardableMessage, fromAddress, secret, toAddress string) error {
	s.sent = append(s.sent, toAddress)
	if s.failFor[toAddress] {
		return fmt.Errorf("发送给 %s 失败", toAddress)
	}
	return nil
}

// fakeStore 测试用存储
type fakeStore struct {
	users   map[string]*storage.User
	lists   map[string]*storage.MailingList
	listErr error
}

func (s *fakeStore) CreateUser(ctx context.Context, user *storage.User) error { return nil }

func (s *fakeStore) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) CreateMailingList(ctx context.Context, list *storage.MailingList) error {
	return nil
}

func (s *fakeStore) GetMailingListByID(ctx context.Context, id string) (*storage.MailingList, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	list, ok := s.lists[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return list, nil
}

func (s *fakeStore) DeleteMailingList(ctx context.Context, id string) error { return nil }

func (s *fakeStore) ListMailingLists(ctx context.Context) ([]*storage.MailingList, error) {
	return nil, nil
}

func (s *fakeStore) ListMailingListsByOwner(ctx context.Context, ownerID string) ([]*storage.MailingList, error) {
	return nil, nil
}

func (s *fakeStore) Close() error { return nil }

func newTestWatcher(mailbox *fakeMailbox, sender *fakeSender, store *fakeStore) *Watcher {
	return New(Config{
		ListID:  "list-1",
		Mailbox: mailbox,
		Sender:  sender,
		Store:   store,
		Address: "list@x.com",
		Secret:  "app-password",
	})
}

func newTestStore(subscriberIDs []string, users map[string]*storage.User) *fakeStore {
	return &fakeStore{
		users: users,
		lists: map[string]*storage.MailingList{
			"list-1": {
				ID:            "list-1",
				Name:          "announce",
				OwnerID:       "owner",
				SubscriberIDs: subscriberIDs,
				SMTPKey:       "app-password",
			},
		},
	}
}

func TestCycleForwardsToAllSubscribers(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{1, 3, 2},
		raw: map[uint32][]byte{3: []byte(multipartMessage)},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1", "u2", "u3"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
		"u2": {ID: "u2", Email: "two@y.com"},
		"u3": {ID: "u3", Email: "three@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("周期失败: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Errorf("发送次数 = %d, want 3", len(sender.sent))
	}
	// 取最大序号作为最新邮件
	if !w.hasSeen || w.lastSeen != 3 {
		t.Errorf("游标 = (%v, %d), want (true, 3)", w.hasSeen, w.lastSeen)
	}
}

func TestCycleNoDuplicateForwarding(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{1, 2},
		raw: map[uint32][]byte{2: []byte(multipartMessage)},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("周期失败: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("发送次数 = %d, want 1", len(sender.sent))
	}

	// 邮箱没有变化时再跑一个周期，不应该重复转发
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("第二个周期失败: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("无新邮件时重复发送: %v", sender.sent)
	}
}

func TestCyclePartialFailureIsolation(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{7},
		raw: map[uint32][]byte{7: []byte(multipartMessage)},
	}
	// 第二个订阅者发送失败
	sender := &fakeSender{failFor: map[string]bool{"two@y.com": true}}
	store := newTestStore([]string{"u1", "u2", "u3"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
		"u2": {ID: "u2", Email: "two@y.com"},
		"u3": {ID: "u3", Email: "three@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("单个订阅者失败不应该中止周期: %v", err)
	}

	// 失败的订阅者之后的订阅者仍然要尝试发送
	if len(sender.sent) != 3 {
		t.Errorf("发送尝试 = %v, want 3 次", sender.sent)
	}
	// 发送失败不阻止游标推进
	if !w.hasSeen || w.lastSeen != 7 {
		t.Errorf("游标 = (%v, %d), want (true, 7)", w.hasSeen, w.lastSeen)
	}
}

func TestCycleSkipsUnresolvedSubscribers(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{1},
		raw: map[uint32][]byte{1: []byte(multipartMessage)},
	}
	sender := &fakeSender{}
	// u1 不存在，u2 没有邮箱，u3 正常
	store := newTestStore([]string{"u1", "u2", "u3"}, map[string]*storage.User{
		"u2": {ID: "u2"},
		"u3": {ID: "u3", Email: "three@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("周期失败: %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0] != "three@y.com" {
		t.Errorf("发送尝试 = %v, want [three@y.com]", sender.sent)
	}
}

func TestCycleEmptyMailbox(t *testing.T) {
	mailbox := &fakeMailbox{}
	sender := &fakeSender{}
	store := newTestStore(nil, nil)

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("空邮箱的周期不应该失败: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("空邮箱不应该有发送: %v", sender.sent)
	}
	if w.hasSeen {
		t.Error("空邮箱不应该推进游标")
	}
}

func TestCycleSearchErrorKeepsCursor(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{5},
		raw: map[uint32][]byte{5: []byte(multipartMessage)},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("周期失败: %v", err)
	}

	mailbox.searchErr = fmt.Errorf("连接断开")
	if err := w.cycle(context.Background()); err == nil {
		t.Error("SEARCH 失败应该返回错误")
	}
	if w.lastSeen != 5 {
		t.Errorf("失败的周期不应该改变游标: %d", w.lastSeen)
	}
}

func TestCycleFetchErrorKeepsCursor(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{5},
		raw: map[uint32][]byte{
			5: []byte(multipartMessage),
			6: []byte(multipartMessage),
		},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("周期失败: %v", err)
	}

	// 新邮件到达但取回失败：周期中止，游标不动
	mailbox.ids = []uint32{5, 6}
	mailbox.fetchErr = fmt.Errorf("连接断开")
	if err := w.cycle(context.Background()); err == nil {
		t.Error("FETCH 失败应该返回错误")
	}
	if w.lastSeen != 5 {
		t.Errorf("失败的周期不应该改变游标: %d", w.lastSeen)
	}

	// 故障恢复后，下一个周期转发同一封邮件
	mailbox.fetchErr = nil
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("恢复后的周期失败: %v", err)
	}
	if w.lastSeen != 6 {
		t.Errorf("游标 = %d, want 6", w.lastSeen)
	}
	if len(sender.sent) != 2 {
		t.Errorf("发送次数 = %d, want 2", len(sender.sent))
	}
}

func TestCycleMalformedMessageSkipped(t *testing.T) {
	// 缺少 Subject 的邮件
	malformed := "From: a@x.com\r\nTo: b@x.com\r\nDate: Mon, 1 Jan\r\n\r\nbody"
	mailbox := &fakeMailbox{
		ids: []uint32{9},
		raw: map[uint32][]byte{9: []byte(malformed)},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1"}, map[string]*storage.User{
		"u1": {ID: "u1", Email: "one@y.com"},
	})

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err != nil {
		t.Fatalf("格式错误的邮件应该被跳过而不是报错: %v", err)
	}

	// 不转发，也不重试：游标越过它
	if len(sender.sent) != 0 {
		t.Errorf("格式错误的邮件不应该被转发: %v", sender.sent)
	}
	if !w.hasSeen || w.lastSeen != 9 {
		t.Errorf("游标 = (%v, %d), want (true, 9)", w.hasSeen, w.lastSeen)
	}
}

func TestCycleListLookupErrorKeepsCursor(t *testing.T) {
	mailbox := &fakeMailbox{
		ids: []uint32{4},
		raw: map[uint32][]byte{4: []byte(multipartMessage)},
	}
	sender := &fakeSender{}
	store := newTestStore([]string{"u1"}, nil)
	store.listErr = fmt.Errorf("数据库错误")

	w := newTestWatcher(mailbox, sender, store)
	if err := w.cycle(context.Background()); err == nil {
		t.Error("列表读取失败应该返回错误")
	}
	if w.hasSeen {
		t.Error("失败的周期不应该推进游标")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	mailbox := &fakeMailbox{}
	sender := &fakeSender{}
	store := newTestStore(nil, nil)

	w := newTestWatcher(mailbox, sender, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("取消后看守循环应该退出")
	}

	if !mailbox.closed {
		t.Error("退出时应该关闭邮箱会话")
	}
}
