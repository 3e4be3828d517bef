package watcher

import (
	"errors"
	"strings"
	"testing"
)

const multipartMessage = "From: a@x.com\r\n" +
	"To: b@x.com\r\n" +
	"Subject: greetings\r\n" +
	"Date: Mon, 1 Jan\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=frontier\r\n" +
	"\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Hello\r\n" +
	"--frontier\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<b>Hello</b>\r\n" +
	"--frontier--\r\n"

func TestExtractMultipart(t *testing.T) {
	msg, err := Extract([]byte(multipartMessage))
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}

	if msg.BodyText != "Hello" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "Hello")
	}
	if msg.From != "a@x.com" {
		t.Errorf("From = %q, want a@x.com", msg.From)
	}
	if msg.Subject != "greetings" {
		t.Errorf("Subject = %q, want greetings", msg.Subject)
	}
}

func TestExtractSinglePart(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject: hi\r\n" +
		"Date: Mon, 1 Jan\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"plain body"

	msg, err := Extract([]byte(raw))
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}
	if msg.BodyText != "plain body" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "plain body")
	}
}

func TestExtractJoinsPlainParts(t *testing.T) {
	raw := "From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject: hi\r\n" +
		"Date: Mon, 1 Jan\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"first\r\n" +
		"--frontier\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"\r\n" +
		"ignored\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"second\r\n" +
		"--frontier--\r\n"

	msg, err := Extract([]byte(raw))
	if err != nil {
		t.Fatalf("提取失败: %v", err)
	}

	// text/plain 子部分按顺序以换行拼接，其他类型忽略
	if msg.BodyText != "first\nsecond" {
		t.Errorf("BodyText = %q, want %q", msg.BodyText, "first\nsecond")
	}
}

func TestExtractMissingHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing subject", "From: a@x.com\r\nTo: b@x.com\r\nDate: Mon, 1 Jan\r\n"},
		{"missing from", "To: b@x.com\r\nSubject: hi\r\nDate: Mon, 1 Jan\r\n"},
		{"missing to", "From: a@x.com\r\nSubject: hi\r\nDate: Mon, 1 Jan\r\n"},
		{"missing date", "From: a@x.com\r\nTo: b@x.com\r\nSubject: hi\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.header + "\r\nbody"

			_, err := Extract([]byte(raw))
			if !errors.Is(err, ErrMissingHeader) {
				t.Errorf("应该返回 ErrMissingHeader: %v", err)
			}
		})
	}
}

func TestExtractEmptyHeaderValue(t *testing.T) {
	// 字段存在但值为空不算缺失，照常转发
	raw := "From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject:\r\n" +
		"Date: Mon, 1 Jan\r\n" +
		"\r\n" +
		"body"

	msg, err := Extract([]byte(raw))
	if err != nil {
		t.Fatalf("空值头字段不应该报错: %v", err)
	}
	if msg.Subject != "" {
		t.Errorf("Subject = %q, want 空字符串", msg.Subject)
	}
	if msg.BodyText != "body" {
		t.Errorf("BodyText = %q, want body", msg.BodyText)
	}
}

func TestExtractGarbage(t *testing.T) {
	// 头字段都缺失的垃圾输入应该报错，而不是 panic
	_, err := Extract([]byte(strings.Repeat("\x00", 64)))
	if err == nil {
		t.Error("垃圾输入应该返回错误")
	}
}
