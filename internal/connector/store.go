package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound は対象の行が存在しない場合に返される。
var ErrNotFound = errors.New("対象のレコードが見つかりません")

// Store はConnectorのSQLiteストア。
// ベース価格キャッシュ、カタログ商品、同期ジョブの永続化を担当する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewStore はデータベース接続からストアを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BasepriceCacheRow はbaseprice_cacheテーブルの1行。
type BasepriceCacheRow struct {
	// ID は自動採番の行ID。大きいほど新しい。
	ID int64 `json:"id"`
	// ProductUUID は4overの商品UUID。
	ProductUUID string `json:"product_uuid"`
	// Payload は4overから取得したベース価格レスポンス全体。
	Payload json.RawMessage `json:"payload"`
	// CreatedAt は取得日時。
	CreatedAt string `json:"created_at"`
}

// InsertBasepriceCache はベース価格ペイロードを新しい行として保存する。
// 同じ商品の古い行は残し、最新行が優先される。
func (s *Store) InsertBasepriceCache(ctx context.Context, productUUID string, payload json.RawMessage) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO baseprice_cache (product_uuid, payload) VALUES (?, ?)",
		productUUID, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("ベース価格キャッシュの保存に失敗: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("行IDの取得に失敗: %w", err)
	}
	return id, nil
}

// ListBasepriceCache はキャッシュ行を新しい順に最大limit件取得する。
func (s *Store) ListBasepriceCache(ctx context.Context, limit int) ([]BasepriceCacheRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, product_uuid, payload, created_at FROM baseprice_cache ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ベース価格キャッシュの一覧取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BasepriceCacheRow
	for rows.Next() {
		var r BasepriceCacheRow
		var payload string
		if err := rows.Scan(&r.ID, &r.ProductUUID, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("ベース価格キャッシュの読み取りに失敗: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestBasepriceCache は指定商品の最新キャッシュ行を取得する。
// 存在しない場合はErrNotFoundを返す。
func (s *Store) LatestBasepriceCache(ctx context.Context, productUUID string) (*BasepriceCacheRow, error) {
	var r BasepriceCacheRow
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, product_uuid, payload, created_at FROM baseprice_cache WHERE product_uuid = ? ORDER BY id DESC LIMIT 1",
		productUUID,
	).Scan(&r.ID, &r.ProductUUID, &payload, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ベース価格キャッシュの取得に失敗: %w", err)
	}
	r.Payload = json.RawMessage(payload)
	return &r, nil
}

// CatalogProduct はcatalog_productsテーブルの1行。
type CatalogProduct struct {
	// ProductUUID は4overの商品UUID。
	ProductUUID string `json:"product_uuid"`
	// ProductCode は商品コード。
	ProductCode string `json:"product_code"`
	// ProductDescription は商品説明。
	ProductDescription string `json:"product_description"`
	// CategoryUUID は所属カテゴリのUUID。カテゴリ指定なしの同期では空。
	CategoryUUID string `json:"category_uuid"`
	// RawJSON は4overから取得した商品JSON全体。後のパース変更に備えて保持する。
	RawJSON json.RawMessage `json:"-"`
}

// UpsertCatalogProduct はカタログ商品を挿入または更新する。
func (s *Store) UpsertCatalogProduct(ctx context.Context, p CatalogProduct) error {
	if p.ProductUUID == "" {
		return errors.New("product_uuidが空です")
	}
	raw := string(p.RawJSON)
	if raw == "" {
		raw = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_products (product_uuid, product_code, product_description, category_uuid, raw_json, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(product_uuid) DO UPDATE SET
			product_code = excluded.product_code,
			product_description = excluded.product_description,
			category_uuid = excluded.category_uuid,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at
	`, p.ProductUUID, p.ProductCode, p.ProductDescription, p.CategoryUUID, raw)
	if err != nil {
		return fmt.Errorf("カタログ商品の保存に失敗: %w", err)
	}
	return nil
}

// ListCatalogProducts はカタログ商品を商品コード順に最大limit件取得する。
func (s *Store) ListCatalogProducts(ctx context.Context, limit, offset int) ([]CatalogProduct, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT product_uuid, product_code, product_description, category_uuid FROM catalog_products ORDER BY product_code, product_uuid LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("カタログ商品の一覧取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CatalogProduct
	for rows.Next() {
		var p CatalogProduct
		if err := rows.Scan(&p.ProductUUID, &p.ProductCode, &p.ProductDescription, &p.CategoryUUID); err != nil {
			return nil, fmt.Errorf("カタログ商品の読み取りに失敗: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// 同期ジョブの状態。
const (
	// SyncJobRunning は同期実行中を表す。
	SyncJobRunning = "running"
	// SyncJobComplete は同期完了を表す。
	SyncJobComplete = "complete"
	// SyncJobError は同期失敗を表す。
	SyncJobError = "error"
)

// SyncJob はsync_jobsテーブルの1行。バックグラウンド同期の進捗を表す。
type SyncJob struct {
	// ID はジョブの一意識別子（UUID）。
	ID string `json:"id"`
	// Status はrunning/complete/errorのいずれか。
	Status string `json:"status"`
	// Synced はこれまでに保存した商品数。
	Synced int `json:"synced"`
	// Page は最後に処理したページ番号。
	Page int `json:"page"`
	// Detail は補足情報。エラー時はエラー内容。
	Detail string `json:"detail,omitempty"`
	// StartedAt は開始日時。
	StartedAt string `json:"started_at"`
	// FinishedAt は終了日時。実行中は空。
	FinishedAt string `json:"finished_at,omitempty"`
}

// CreateSyncJob は実行中状態の同期ジョブを作成する。
func (s *Store) CreateSyncJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sync_jobs (id, status) VALUES (?, ?)",
		id, SyncJobRunning,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの作成に失敗: %w", err)
	}
	return nil
}

// UpdateSyncJobProgress は同期ジョブの進捗を更新する。
func (s *Store) UpdateSyncJobProgress(ctx context.Context, id string, synced, page int, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_jobs SET synced = ?, page = ?, detail = ? WHERE id = ?",
		synced, page, detail, id,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの進捗更新に失敗: %w", err)
	}
	return nil
}

// FinishSyncJob は同期ジョブを終了状態にする。
func (s *Store) FinishSyncJob(ctx context.Context, id, status, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_jobs SET status = ?, detail = ?, finished_at = datetime('now') WHERE id = ?",
		status, detail, id,
	)
	if err != nil {
		return fmt.Errorf("同期ジョブの終了処理に失敗: %w", err)
	}
	return nil
}

// GetSyncJob は同期ジョブを取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetSyncJob(ctx context.Context, id string) (*SyncJob, error) {
	var j SyncJob
	var finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, status, synced, page, detail, started_at, finished_at FROM sync_jobs WHERE id = ?",
		id,
	).Scan(&j.ID, &j.Status, &j.Synced, &j.Page, &j.Detail, &j.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("同期ジョブの取得に失敗: %w", err)
	}
	if finishedAt.Valid {
		j.FinishedAt = finishedAt.String
	}
	return &j, nil
}
