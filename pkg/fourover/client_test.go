package fourover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// testConfig はテスト用の接続設定を生成する。
func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		APIKey:     Secret("test-apikey"),
		PrivateKey: Secret("test-private-key"),
		Timeout:    5 * time.Second,
	}
}

// expectedSignature はテスト側で独立に計算した署名を返す。
func expectedSignature(privateKey, method string) string {
	hashed := sha256.Sum256([]byte(privateKey))
	mac := hmac.New(sha256.New, []byte(hex.EncodeToString(hashed[:])))
	mac.Write([]byte(method))
	return hex.EncodeToString(mac.Sum(nil))
}

// TestClientDo はDo関数を検証する。
func TestClientDo(t *testing.T) {
	t.Parallel()

	t.Run("GETリクエストにapikeyと署名がクエリパラメータとして付与されること", func(t *testing.T) {
		t.Parallel()

		var gotQuery url.Values
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}))
		defer ts.Close()

		client := NewClient(testConfig(ts.URL))
		resp, err := client.Get(context.Background(), "/whoami", nil)
		if err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}

		if resp.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if got := gotQuery.Get("apikey"); got != "test-apikey" {
			t.Errorf("apikey = %q, want %q", got, "test-apikey")
		}
		want := expectedSignature("test-private-key", "GET")
		if got := gotQuery.Get("signature"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
	})

	t.Run("呼び出し元のクエリパラメータが保持されること", func(t *testing.T) {
		t.Parallel()

		var gotQuery url.Values
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := NewClient(testConfig(ts.URL))
		query := url.Values{}
		query.Set("max", "50")
		query.Set("offset", "100")

		if _, err := client.Get(context.Background(), "/printproducts/categories", query); err != nil {
			t.Fatalf("Get()でエラーが発生: %v", err)
		}

		if got := gotQuery.Get("max"); got != "50" {
			t.Errorf("max = %q, want %q", got, "50")
		}
		if got := gotQuery.Get("offset"); got != "100" {
			t.Errorf("offset = %q, want %q", got, "100")
		}
	})

	t.Run("POSTリクエストはAuthorizationヘッダーで認証すること", func(t *testing.T) {
		t.Parallel()

		var gotAuth string
		var gotQuery url.Values
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotQuery = r.URL.Query()
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()

		client := NewClient(testConfig(ts.URL))
		if _, err := client.Do(context.Background(), http.MethodPost, "/orders", nil); err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}

		want := "API test-apikey:" + expectedSignature("test-private-key", "POST")
		if gotAuth != want {
			t.Errorf("Authorization = %q, want %q", gotAuth, want)
		}
		if gotQuery.Get("apikey") != "" {
			t.Error("POSTリクエストのクエリパラメータにapikeyが含まれている")
		}
	})

	t.Run("上流のステータスコードとボディがそのまま返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid credentials"}`))
		}))
		defer ts.Close()

		client := NewClient(testConfig(ts.URL))
		resp, err := client.Whoami(context.Background())
		if err != nil {
			t.Fatalf("Whoami()でエラーが発生: %v", err)
		}

		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
		if string(resp.Body) != `{"error":"invalid credentials"}` {
			t.Errorf("Body = %q, want %q", resp.Body, `{"error":"invalid credentials"}`)
		}
	})

	t.Run("ベースURLが未設定の場合はErrMissingBaseURLが返り呼び出しが発生しないこと", func(t *testing.T) {
		t.Parallel()

		client := NewClient(Config{APIKey: "k", PrivateKey: "p", Timeout: time.Second})
		_, err := client.Whoami(context.Background())
		if !errors.Is(err, ErrMissingBaseURL) {
			t.Errorf("err = %v, want ErrMissingBaseURL", err)
		}
	})

	t.Run("タイムアウト超過時にErrTimeoutが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(3 * time.Second):
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()

		cfg := testConfig(ts.URL)
		cfg.Timeout = 100 * time.Millisecond
		client := NewClient(cfg)

		start := time.Now()
		_, err := client.Whoami(context.Background())
		elapsed := time.Since(start)

		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		if elapsed > 2*time.Second {
			t.Errorf("タイムアウトまでの時間が長すぎる: %v", elapsed)
		}
	})

	t.Run("接続不能なサーバーに対してタイムアウト以外のエラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := NewClient(testConfig("http://127.0.0.1:1"))
		_, err := client.Whoami(context.Background())
		if err == nil {
			t.Fatal("Whoami()がエラーを返すべきだが、nilが返った")
		}
		if errors.Is(err, ErrTimeout) {
			t.Errorf("接続エラーがErrTimeoutとして分類された: %v", err)
		}
	})

	t.Run("リトライせず1回だけ呼び出すこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
		}))
		defer ts.Close()

		client := NewClient(testConfig(ts.URL))
		if _, err := client.Whoami(context.Background()); err != nil {
			t.Fatalf("Whoami()でエラーが発生: %v", err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("呼び出し回数 = %d, want 1", got)
		}
	})

	t.Run("サポートされていないメソッドでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := NewClient(testConfig("http://localhost:8080"))
		if _, err := client.Do(context.Background(), "TRACE", "/x", nil); err == nil {
			t.Fatal("Do()がエラーを返すべきだが、nilが返った")
		}
	})
}
