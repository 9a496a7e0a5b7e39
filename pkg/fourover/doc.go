// Package fourover は4over Print APIへのHTTPクライアントを提供する。
//
// 環境変数から読み込んだ認証情報（APIキーと秘密鍵）を用いて
// 署名付きリクエストを生成し、1回のタイムアウト付き呼び出しを行う。
// リトライは行わない。秘密鍵はマスクされた形式でのみ出力される。
package fourover
