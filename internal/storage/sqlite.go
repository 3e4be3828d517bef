package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDriver SQLite 存储驱动
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver 创建 SQLite 驱动
func NewSQLiteDriver(dsn string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置连接参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	driver := &SQLiteDriver{db: db}

	// 初始化表结构
	if err := driver.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	return driver, nil
}

// initSchema 初始化数据库表结构
func (d *SQLiteDriver) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS mailing_lists (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		smtp_key TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS list_subscribers (
		list_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (list_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_mailing_lists_owner ON mailing_lists(owner_id);
	CREATE INDEX IF NOT EXISTS idx_list_subscribers_list ON list_subscribers(list_id);
	`

	_, err := d.db.Exec(schema)
	return err
}

// CreateUser 创建用户
func (d *SQLiteDriver) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	// 空邮箱存为 NULL，避免撞上唯一约束
	var email interface{}
	if user.Email != "" {
		email = user.Email
	}
	now := time.Now()
	_, err := d.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		email,
		user.PasswordHash,
		now,
	)
	if err != nil {
		return fmt.Errorf("创建用户失败: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// getUser 按任意条件查询单个用户
func (d *SQLiteDriver) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE ` + where
	row := d.db.QueryRowContext(ctx, query, arg)

	var user User
	var email sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Username,
		&email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("用户不存在: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	user.Email = email.String
	return &user, nil
}

// GetUserByID 按 ID 获取用户
func (d *SQLiteDriver) GetUserByID(ctx context.Context, id string) (*User, error) {
	return d.getUser(ctx, "id = ?", id)
}

// GetUserByUsername 按用户名获取用户
func (d *SQLiteDriver) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return d.getUser(ctx, "username = ?", username)
}

// GetUserByEmail 按邮箱获取用户
func (d *SQLiteDriver) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUser(ctx, "email = ?", email)
}

// CreateMailingList 创建邮件列表（列表和订阅者在同一事务内写入）
func (d *SQLiteDriver) CreateMailingList(ctx context.Context, list *MailingList) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	var smtpKey interface{}
	if list.SMTPKey != "" {
		smtpKey = list.SMTPKey
	}
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO mailing_lists (id, name, owner_id, smtp_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, list.ID, list.Name, list.OwnerID, smtpKey, now)
	if err != nil {
		return fmt.Errorf("创建邮件列表失败: %w", err)
	}

	for i, userID := range list.SubscriberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO list_subscribers (list_id, user_id, position)
			VALUES (?, ?, ?)
		`, list.ID, userID, i)
		if err != nil {
			return fmt.Errorf("写入订阅者失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	list.CreatedAt = now
	return nil
}

// GetMailingListByID 按 ID 获取邮件列表
func (d *SQLiteDriver) GetMailingListByID(ctx context.Context, id string) (*MailingList, error) {
	query := `
		SELECT id, name, owner_id, smtp_key, created_at
		FROM mailing_lists
		WHERE id = ?
	`
	row := d.db.QueryRowContext(ctx, query, id)

	var list MailingList
	var smtpKey sql.NullString
	err := row.Scan(
		&list.ID,
		&list.Name,
		&list.OwnerID,
		&smtpKey,
		&list.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("邮件列表不存在: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询邮件列表失败: %w", err)
	}

	list.SMTPKey = smtpKey.String
	if list.SubscriberIDs, err = d.listSubscribers(ctx, list.ID); err != nil {
		return nil, err
	}
	return &list, nil
}

// listSubscribers 按写入顺序读取订阅者
func (d *SQLiteDriver) listSubscribers(ctx context.Context, listID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id FROM list_subscribers
		WHERE list_id = ?
		ORDER BY position
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("查询订阅者失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("扫描订阅者失败: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMailingList 删除邮件列表（列表和订阅者在同一事务内删除）
func (d *SQLiteDriver) DeleteMailingList(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM mailing_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除邮件列表失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("删除邮件列表失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("邮件列表不存在: %w", ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM list_subscribers WHERE list_id = ?`, id); err != nil {
		return fmt.Errorf("删除订阅者失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// listMailingLists 按条件查询邮件列表
func (d *SQLiteDriver) listMailingLists(ctx context.Context, query string, args ...interface{}) ([]*MailingList, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询邮件列表失败: %w", err)
	}
	defer rows.Close()

	var lists []*MailingList
	for rows.Next() {
		var list MailingList
		var smtpKey sql.NullString
		if err := rows.Scan(
			&list.ID,
			&list.Name,
			&list.OwnerID,
			&smtpKey,
			&list.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描邮件列表失败: %w", err)
		}
		list.SMTPKey = smtpKey.String
		lists = append(lists, &list)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, list := range lists {
		if list.SubscriberIDs, err = d.listSubscribers(ctx, list.ID); err != nil {
			return nil, err
		}
	}
	return lists, nil
}

// ListMailingLists 列出全部邮件列表
func (d *SQLiteDriver) ListMailingLists(ctx context.Context) ([]*MailingList, error) {
	return d.listMailingLists(ctx, `
		SELECT id, name, owner_id, smtp_key, created_at
		FROM mailing_lists
		ORDER BY created_at DESC
	`)
}

// ListMailingListsByOwner 列出某用户拥有的邮件列表
func (d *SQLiteDriver) ListMailingListsByOwner(ctx context.Context, ownerID string) ([]*MailingList, error) {
	return d.listMailingLists(ctx, `
		SELECT id, name, owner_id, smtp_key, created_at
		FROM mailing_lists
		WHERE owner_id = ?
		ORDER BY created_at DESC
	`, ownerID)
}

// Close 关闭数据库连接
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
