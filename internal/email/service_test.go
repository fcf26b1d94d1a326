package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderNotificationTemplate(t *testing.T) {
	html, err := renderTemplate(notificationEmailTemplate, NotificationData{
		AppName:       "Filegate",
		RecipientName: "Test User",
		Title:         "File approved",
		Message:       "budget.xlsx was approved by <b>Ada</b>",
		FileURL:       "https://filegate.example/files/f1",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "Test User") || !strings.Contains(html, "File approved") {
		t.Error("template should contain recipient and title")
	}
	if !strings.Contains(html, "https://filegate.example/files/f1") {
		t.Error("template should contain file link")
	}
	if strings.Contains(html, "<b>Ada</b>") {
		t.Error("message must be escaped")
	}
}

func TestSendNotification(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Filegate", BaseURL: "https://filegate.example/"})
	var (
		gotTo  []string
		gotMsg string
	)
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" || from != "noreply@example.com" {
			t.Errorf("unexpected addr/from %s %s", addr, from)
		}
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := svc.SendNotification("ada@example.com", "Ada", "File rejected\r\nBcc: x", "see comments", "f9"); err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: [Filegate] File rejected  Bcc: x\r\n") {
		t.Fatalf("subject header not sanitized: %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "https://filegate.example/files/f9") {
		t.Fatal("message should link the file")
	}
}

func TestSendWithoutConfig(t *testing.T) {
	if err := NewService(Config{}).SendNotification("a@example.com", "A", "t", "m", ""); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}
