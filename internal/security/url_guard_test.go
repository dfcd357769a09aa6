package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient(t *testing.T) {
	guard := NewURLGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)

	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("safeurlのTransportが設定されていない")
	}
}

// TestNewSafeClientBlocksLoopback はhttptestサーバー（127.0.0.1）への接続が拒否されることを検証する。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewURLGuard().NewSafeClient(5 * time.Second)
	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("ループバックへのリクエストはエラーになるべき")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewURLGuard()

	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{name: "letterboxdのRSS", url: "https://letterboxd.com/someone/watchlist/rss/"},
		{name: "Discord Webhook", url: "https://discord.com/api/webhooks/1/abc"},
		{name: "http", url: "http://example.org/feed"},
		{name: "空", url: "", blocked: true},
		{name: "スキームなし", url: "not-a-url", blocked: true},
		{name: "ftp", url: "ftp://example.com/feed", blocked: true},
		{name: "file", url: "file:///etc/passwd", blocked: true},
		{name: "プライベート10", url: "http://10.0.0.1/feed", blocked: true},
		{name: "プライベート172", url: "http://172.31.255.255/feed", blocked: true},
		{name: "プライベート192", url: "http://192.168.1.100/feed", blocked: true},
		{name: "ループバック", url: "http://127.0.0.2/feed", blocked: true},
		{name: "localhost", url: "http://LOCALHOST/feed", blocked: true},
		{name: "メタデータIP", url: "http://169.254.169.254/latest/meta-data/", blocked: true},
		{name: "GCPメタデータ", url: "http://metadata.google.internal/computeMetadata/v1/", blocked: true},
		{name: "IPv6ループバック", url: "http://[::1]/feed", blocked: true},
		{name: "IPv4射影IPv6", url: "http://[::ffff:127.0.0.1]/feed", blocked: true},
		{name: "ゼロアドレス", url: "http://0.0.0.0/feed", blocked: true},
		{name: "CGNAT", url: "http://100.64.0.1/feed", blocked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if tt.blocked {
				if !errors.Is(err, ErrBlockedURL) {
					t.Errorf("ValidateURL(%q) = %v, want ErrBlockedURL", tt.url, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", tt.url, err)
			}
		})
	}
}
