package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/catdi/fourover-connector/pkg/fourover"
	"github.com/catdi/fourover-connector/pkg/middleware"
)

// fetchAndCacheBaseprices は4overから指定商品のベース価格を取得し、
// キャッシュに新しい行として保存する。
// 上流が2xx以外を返した場合はそのレスポンスを返し、保存は行わない。
func (s *Server) fetchAndCacheBaseprices(ctx context.Context, productUUID string) (*BasepriceCacheRow, *fourover.Response, error) {
	query := url.Values{}
	query.Set("max", "500")
	query.Set("offset", "0")

	resp, err := s.client.Get(ctx, "/printproducts/products/"+productUUID+"/baseprices", query)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, nil
	}
	if !json.Valid(resp.Body) {
		return nil, nil, errors.New("上流レスポンスがJSONとして解釈できません")
	}

	id, err := s.store.InsertBasepriceCache(ctx, productUUID, resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return &BasepriceCacheRow{
		ID:          id,
		ProductUUID: productUUID,
		Payload:     resp.Body,
	}, nil, nil
}

// handleSyncProduct は単一商品のベース価格をキャッシュに取り込むハンドラを返す。
func (s *Server) handleSyncProduct() gin.HandlerFunc {
	return func(c *gin.Context) {
		productUUID := c.Param("product_uuid")

		row, upstream, err := s.fetchAndCacheBaseprices(c.Request.Context(), productUUID)
		if err != nil {
			s.respondUpstreamError(c, "/printproducts/products/"+productUUID+"/baseprices", err)
			return
		}
		if upstream != nil {
			// 上流のエラーはそのまま中継する
			c.Data(upstream.StatusCode, upstream.ContentType, upstream.Body)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"product_uuid": productUUID,
			"cache_id":     row.ID,
			"operator":     middleware.GetOperator(c),
		})
	}
}

// syncCatalogRequest はカタログ同期リクエストのJSON構造。
type syncCatalogRequest struct {
	// CategoryUUID は同期対象カテゴリのUUID。空の場合は全商品を同期する。
	CategoryUUID string `json:"category_uuid"`
}

// handleSyncCatalog はバックグラウンドのカタログ同期を開始するハンドラを返す。
// リクエストの完了を待たずにジョブIDを返し、進捗はジョブ行で追跡する。
func (s *Server) handleSyncCatalog() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncCatalogRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
				return
			}
		}

		jobID := uuid.New().String()
		if err := s.store.CreateSyncJob(c.Request.Context(), jobID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "同期ジョブの作成に失敗しました"})
			log.Printf("同期ジョブ作成エラー: %v", err)
			return
		}

		go s.runCatalogSync(jobID, req.CategoryUUID)

		c.JSON(http.StatusAccepted, gin.H{
			"job_id":   jobID,
			"status":   SyncJobRunning,
			"operator": middleware.GetOperator(c),
		})
	}
}

// handleGetSyncJob は同期ジョブの進捗を返すハンドラを返す。
func (s *Server) handleGetSyncJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := s.store.GetSyncJob(c.Request.Context(), c.Param("job_id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "同期ジョブが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "同期ジョブの取得に失敗しました"})
			log.Printf("同期ジョブ取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// catalogPage は4overの商品一覧レスポンスのページ構造。
type catalogPage struct {
	// Entities はページ内の商品リスト。後段のパース変更に備えて生のまま保持する。
	Entities []json.RawMessage `json:"entities"`
	// TotalResults は全件数。返さないエンドポイントもある。
	TotalResults flexInt `json:"total_results"`
	// MaximumPages は最大ページ数。返さないエンドポイントもある。
	MaximumPages flexInt `json:"maximumPages"`
}

// catalogEntity は商品エンティティのうちカタログ保存に使うフィールド。
type catalogEntity struct {
	ProductUUID        string     `json:"product_uuid"`
	ProductCode        flexString `json:"product_code"`
	ProductDescription flexString `json:"product_description"`
}

// runCatalogSync は4overの商品一覧をページ単位で取り込むバックグラウンド処理。
// ページごとに保存と進捗更新を行うため、途中で失敗しても取り込み済みの
// ページは残る。ページ間には上流への配慮として短い待機を挟む。
func (s *Server) runCatalogSync(jobID, categoryUUID string) {
	ctx := context.Background()

	path := "/printproducts/products"
	if categoryUUID != "" {
		path = "/printproducts/categories/" + categoryUUID + "/products"
	}

	const pageSize = 100
	offset := 0
	synced := 0
	page := 0

	for {
		page++

		query := url.Values{}
		query.Set("max", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		resp, err := s.client.Get(ctx, path, query)
		if err != nil {
			s.finishSyncJobLogged(ctx, jobID, SyncJobError, fmt.Sprintf("4over呼び出しに失敗: %v", err))
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			s.finishSyncJobLogged(ctx, jobID, SyncJobError, fmt.Sprintf("4overがステータス%dを返しました", resp.StatusCode))
			return
		}

		var pageData catalogPage
		if err := json.Unmarshal(resp.Body, &pageData); err != nil {
			s.finishSyncJobLogged(ctx, jobID, SyncJobError, fmt.Sprintf("レスポンスの解釈に失敗: %v", err))
			return
		}

		if len(pageData.Entities) == 0 {
			break
		}

		for _, raw := range pageData.Entities {
			var entity catalogEntity
			if err := json.Unmarshal(raw, &entity); err != nil || entity.ProductUUID == "" {
				continue
			}
			product := CatalogProduct{
				ProductUUID:        entity.ProductUUID,
				ProductCode:        string(entity.ProductCode),
				ProductDescription: string(entity.ProductDescription),
				CategoryUUID:       categoryUUID,
				RawJSON:            raw,
			}
			if err := s.store.UpsertCatalogProduct(ctx, product); err != nil {
				s.finishSyncJobLogged(ctx, jobID, SyncJobError, fmt.Sprintf("商品の保存に失敗: %v", err))
				return
			}
			synced++
		}

		if err := s.store.UpdateSyncJobProgress(ctx, jobID, synced, page, fmt.Sprintf("ページ%dを同期", page)); err != nil {
			log.Printf("同期ジョブ進捗更新エラー: job=%s, error=%v", jobID, err)
		}

		offset += len(pageData.Entities)

		if total := int(pageData.TotalResults); total > 0 && offset >= total {
			break
		}
		if maxPages := int(pageData.MaximumPages); maxPages > 0 && page >= maxPages {
			break
		}

		time.Sleep(s.syncPageDelay)
	}

	s.finishSyncJobLogged(ctx, jobID, SyncJobComplete, fmt.Sprintf("%d件を同期", synced))
}

// finishSyncJobLogged はジョブを終了状態にし、更新失敗をログに残す。
func (s *Server) finishSyncJobLogged(ctx context.Context, jobID, status, detail string) {
	if err := s.store.FinishSyncJob(ctx, jobID, status, detail); err != nil {
		log.Printf("同期ジョブ終了処理エラー: job=%s, error=%v", jobID, err)
	}
	if status == SyncJobError {
		log.Printf("カタログ同期失敗: job=%s, detail=%s", jobID, detail)
	}
}
