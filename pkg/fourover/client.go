package fourover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ErrMissingBaseURL はFOUR_OVER_BASE_URLが未設定のまま外部呼び出しを
// 行おうとした場合に返される。
var ErrMissingBaseURL = errors.New("FOUR_OVER_BASE_URLが設定されていません")

// ErrTimeout は外部呼び出しが設定タイムアウトを超過した場合に返される。
var ErrTimeout = errors.New("4over APIの呼び出しがタイムアウトしました")

// Response は4over APIからのレスポンス。ステータスコードとボディを
// そのまま保持し、呼び出し元が無加工で中継できるようにする。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// ContentType はContent-Typeヘッダーの値。空の場合はapplication/json。
	ContentType string
	// Body はレスポンスボディの生バイト列。
	Body []byte
}

// Client は4over APIへの署名付きHTTPクライアント。
type Client struct {
	// config は接続設定。生成後は変更しない。
	config Config
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
}

// NewClient は設定からクライアントを生成する。
// タイムアウトはconfig.Timeoutで全呼び出しに適用される。
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Config はクライアントの接続設定を返す。
func (c *Client) Config() Config {
	return c.config
}

// signature はHTTPメソッドに対する署名を生成する。
// 4overの認証仕様: HMAC-SHA256(key=hex(SHA256(秘密鍵)), msg=メソッド名大文字)
// の16進表現。
func (c *Client) signature(method string) string {
	hashedKey := sha256.Sum256([]byte(c.config.PrivateKey.Reveal()))
	mac := hmac.New(sha256.New, []byte(hex.EncodeToString(hashedKey[:])))
	mac.Write([]byte(strings.ToUpper(method)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Do は4over APIへの呼び出しを1回だけ実行する。
// GET/DELETEはapikeyとsignatureをクエリパラメータに付与し、
// POST/PUT/PATCHはAuthorizationヘッダー（"API apikey:signature"）を使用する。
// リトライは行わず、失敗はそのままエラーとして返す。
func (c *Client) Do(ctx context.Context, method, path string, query url.Values) (*Response, error) {
	if c.config.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}

	method = strings.ToUpper(method)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	params := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	var authHeader string
	switch method {
	case http.MethodGet, http.MethodDelete:
		params.Set("apikey", c.config.APIKey.Reveal())
		params.Set("signature", c.signature(method))
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		authHeader = fmt.Sprintf("API %s:%s", c.config.APIKey.Reveal(), c.signature(method))
	default:
		return nil, fmt.Errorf("サポートされていないHTTPメソッド: %s", method)
	}

	reqURL := c.config.BaseURL + path
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("4over APIへの接続に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// Get はGETリクエストを実行する。
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query)
}

// Whoami は認証確認用の/whoamiエンドポイントを呼び出す。
func (c *Client) Whoami(ctx context.Context) (*Response, error) {
	return c.Get(ctx, "/whoami", nil)
}

// isTimeout はエラーがタイムアウト起因かどうかを判定する。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}
