// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 同期系エンドポイントを保護するJWT検証、パニックリカバリ、
// 価格テスターUI向けのCORS設定を含む。
package middleware
