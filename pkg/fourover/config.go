package fourover

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout はFOUR_OVER_TIMEOUTが未設定または解釈不能な場合のタイムアウト。
const DefaultTimeout = 30 * time.Second

// Secret はマスク表示される秘密文字列。
// String()とMarshalJSON()は先頭4文字以外をアスタリスクに置き換えるため、
// ログやレスポンスボディに生の値が漏れることはない。
type Secret string

// String はマスクされた表現を返す。fmtパッケージからも呼ばれる。
func (s Secret) String() string {
	return s.Masked()
}

// Masked は先頭4文字のみを残してマスクした文字列を返す。
// 4文字以下の場合は全文字をマスクする。
func (s Secret) Masked() string {
	const keep = 4
	raw := string(s)
	if raw == "" {
		return ""
	}
	if len(raw) <= keep {
		return strings.Repeat("*", len(raw))
	}
	return raw[:keep] + strings.Repeat("*", len(raw)-keep)
}

// MarshalJSON はマスクされた表現をJSON文字列として返す。
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.Masked())), nil
}

// Reveal は生の秘密値を返す。署名計算など明示的な用途でのみ使用すること。
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet は秘密値が設定されているかどうかを返す。
func (s Secret) IsSet() bool {
	return s != ""
}

// Config は4over APIへの接続設定。プロセス起動時に一度だけ読み込み、
// 以降は不変として扱う。
type Config struct {
	// BaseURL は4over APIのベースURL。未設定の場合、外部呼び出しは
	// 設定エラーとして失敗する。
	BaseURL string
	// APIKey は4overの公開APIキー。
	APIKey Secret
	// PrivateKey は署名生成に使用する秘密鍵。
	PrivateKey Secret
	// Timeout は外部呼び出し1回あたりの上限時間。
	Timeout time.Duration
}

// ConfigFromEnv は環境変数からConfigを読み込む。
// 値の欠落はエラーにせず、呼び出し時に検証する。
// デプロイ環境で値が引用符や空白込みで設定される事故があるため、
// 前後の空白と引用符を取り除く。
func ConfigFromEnv() Config {
	return Config{
		BaseURL:    strings.TrimRight(cleanEnv(os.Getenv("FOUR_OVER_BASE_URL")), "/"),
		APIKey:     Secret(cleanEnv(os.Getenv("FOUR_OVER_APIKEY"))),
		PrivateKey: Secret(cleanEnv(os.Getenv("FOUR_OVER_PRIVATE_KEY"))),
		Timeout:    timeoutFromEnv(os.Getenv("FOUR_OVER_TIMEOUT")),
	}
}

// cleanEnv は環境変数値の前後の空白と囲み引用符を取り除く。
func cleanEnv(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`)) ||
			(strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'")) {
			v = strings.TrimSpace(v[1 : len(v)-1])
		}
	}
	return v
}

// timeoutFromEnv は秒数文字列をタイムアウトに変換する。
// 未設定・解釈不能・0以下の場合はDefaultTimeoutを返す。
func timeoutFromEnv(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultTimeout
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return DefaultTimeout
	}
	return time.Duration(sec) * time.Second
}
