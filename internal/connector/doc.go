// Package connector は4over Connectorサービスの内部実装を提供する。
//
// 4over Print APIへの署名付きパススルー、認証情報のデバッグ表示、
// ベース価格のSQLiteキャッシュ、カタログ同期、マークアップ見積りを担当する。
// 上流へのリクエストは1インバウンドリクエストにつき1回のみで、リトライは行わない。
package connector
