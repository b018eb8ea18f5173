package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidateSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https公開ホスト", url: "https://reviews.example.com/feed.xml"},
		{name: "http公開ホスト", url: "http://blog.example.org/rss"},
		{name: "公開IP", url: "https://93.184.216.34/feed"},
		{name: "空文字", url: "", wantErr: true},
		{name: "ftpスキーム", url: "ftp://example.com/feed", wantErr: true},
		{name: "fileスキーム", url: "file:///etc/passwd", wantErr: true},
		{name: "ホストなし", url: "https:///feed", wantErr: true},
		{name: "localhost", url: "http://localhost:8080/feed", wantErr: true},
		{name: "localhostサブドメイン", url: "http://api.localhost/feed", wantErr: true},
		{name: "ループバック", url: "http://127.0.0.1/feed", wantErr: true},
		{name: "プライベート10系", url: "http://10.1.2.3/feed", wantErr: true},
		{name: "プライベート192系", url: "http://192.168.0.10/feed", wantErr: true},
		{name: "メタデータ", url: "http://169.254.169.254/latest/meta-data", wantErr: true},
		{name: "IPv6ループバック", url: "http://[::1]/feed", wantErr: true},
		{name: "IPv6ユニークローカル", url: "http://[fd00::1]/feed", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSourceURL(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrBlockedURL) {
					t.Errorf("ValidateSourceURL(%q) = %v, want ErrBlockedURL", tt.url, err)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateSourceURL(%q) = %v, want nil", tt.url, err)
			}
		})
	}
}

func TestNewFetchClient(t *testing.T) {
	client := NewFetchClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("専用のTransportが設定されていません")
	}
}

// httptestサーバーは127.0.0.1で待ち受けるため接続時に拒否される。
func TestNewFetchClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewFetchClient(5 * time.Second)
	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("ループバックへの接続が拒否されませんでした")
	}
}
