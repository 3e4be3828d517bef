package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 未找到错误
var ErrNotFound = errors.New("not found")

// Driver 存储驱动接口
type Driver interface {
	// 用户管理
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// 邮件列表管理
	CreateMailingList(ctx context.Context, list *MailingList) error
	GetMailingListByID(ctx context.Context, id string) (*MailingList, error)
	DeleteMailingList(ctx context.Context, id string) error
	ListMailingLists(ctx context.Context) ([]*MailingList, error)
	ListMailingListsByOwner(ctx context.Context, ownerID string) ([]*MailingList, error)

	// 关闭连接
	Close() error
}

// User 用户
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"` // 可选，空字符串表示未设置
	PasswordHash string    `json:"-"`               // 不序列化
	CreatedAt    time.Time `json:"created_at"`
}

// MailingList 邮件列表
type MailingList struct {
	ID            string    `json:"id"`
	Name          string    `json:"list_name"`
	OwnerID       string    `json:"owner"`
	SubscriberIDs []string  `json:"subscribers,omitempty"`
	SMTPKey       string    `json:"smtp_key,omitempty"` // 收件邮箱的应用密码，空表示未配置
	CreatedAt     time.Time `json:"created_at"`
}
