package connector

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// quoteScale は見積り金額の小数桁数。
const quoteScale = 10

// basepriceEntity はキャッシュ済みベース価格ペイロード内の1エントリ。
type basepriceEntity struct {
	RunsizeUUID      string     `json:"runsize_uuid"`
	Runsize          flexString `json:"runsize"`
	ColorspecUUID    string     `json:"colorspec_uuid"`
	Colorspec        flexString `json:"colorspec"`
	ProductBaseprice flexString `json:"product_baseprice"`
}

// basepricePayload はキャッシュ済みペイロードの構造。
type basepricePayload struct {
	Entities []basepriceEntity `json:"entities"`
}

// handleQuote はキャッシュ済みベース価格からマークアップ見積りを返すハンドラを返す。
// runsize/colorspecはUUIDまたは表示値のどちらでも指定できる。
// キャッシュが無い場合、auto_import=true（デフォルト）なら4overから取り込んでから見積る。
func (s *Server) handleQuote() gin.HandlerFunc {
	return func(c *gin.Context) {
		productUUID := c.Query("product_uuid")
		if productUUID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "product_uuidは必須です"})
			return
		}

		runsizeUUID := c.Query("runsize_uuid")
		colorspecUUID := c.Query("colorspec_uuid")
		runsize := c.Query("runsize")
		colorspec := c.Query("colorspec")
		if (runsizeUUID == "" || colorspecUUID == "") && (runsize == "" || colorspec == "") {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "runsize_uuid/colorspec_uuidまたはrunsize/colorspecの組を指定してください",
			})
			return
		}

		markup, err := parseMarkupPct(c.DefaultQuery("markup_pct", "25.0"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "markup_pctは0〜500の数値で指定してください"})
			return
		}

		autoImport := c.DefaultQuery("auto_import", "true") == "true"

		cacheRow, err := s.store.LatestBasepriceCache(c.Request.Context(), productUUID)
		usedAutoImport := false
		if errors.Is(err, ErrNotFound) && autoImport {
			row, upstream, fetchErr := s.fetchAndCacheBaseprices(c.Request.Context(), productUUID)
			if fetchErr != nil {
				s.respondUpstreamError(c, "/printproducts/products/"+productUUID+"/baseprices", fetchErr)
				return
			}
			if upstream != nil {
				c.Data(upstream.StatusCode, upstream.ContentType, upstream.Body)
				return
			}
			cacheRow = row
			usedAutoImport = true
			err = nil
		}
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャッシュ済みベース価格がありません。先に同期してください"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャッシュの取得に失敗しました"})
			log.Printf("見積り用キャッシュ取得エラー: %v", err)
			return
		}

		var payload basepricePayload
		if err := json.Unmarshal(cacheRow.Payload, &payload); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャッシュ済みペイロードの解釈に失敗しました"})
			log.Printf("ペイロード解釈エラー: product=%s, error=%v", productUUID, err)
			return
		}

		match := findBaseprice(payload.Entities, runsizeUUID, colorspecUUID, runsize, colorspec)
		if match == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "指定されたrunsize/colorspecに一致するベース価格がありません"})
			return
		}

		basePrice, err := decimal.NewFromString(string(match.ProductBaseprice))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャッシュ済みベース価格が数値として解釈できません"})
			log.Printf("ベース価格解釈エラー: product=%s, value=%q", productUUID, match.ProductBaseprice)
			return
		}

		sellPrice := basePrice.Mul(decimal.NewFromInt(1).Add(markup.Div(decimal.NewFromInt(100)))).Round(quoteScale)

		qty, _ := strconv.Atoi(string(match.Runsize))
		unitPrice := decimal.Zero
		if qty > 0 {
			unitPrice = sellPrice.Div(decimal.NewFromInt(int64(qty))).Round(quoteScale)
		}

		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"product_uuid": productUUID,
			"match": gin.H{
				"runsize_uuid":   match.RunsizeUUID,
				"runsize":        string(match.Runsize),
				"colorspec_uuid": match.ColorspecUUID,
				"colorspec":      string(match.Colorspec),
			},
			"pricing": gin.H{
				"base_price": basePrice.String(),
				"markup_pct": markup.String(),
				"sell_price": sellPrice.String(),
				"unit_price": unitPrice.String(),
				"qty":        qty,
			},
			"source": gin.H{
				"used_cache":  true,
				"auto_import": usedAutoImport,
			},
		})
	}
}

// parseMarkupPct はマークアップ率を検証付きでパースする。
func parseMarkupPct(v string) (decimal.Decimal, error) {
	markup, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, err
	}
	if markup.IsNegative() || markup.GreaterThan(decimal.NewFromInt(500)) {
		return decimal.Zero, errors.New("markup_pctが範囲外です")
	}
	return markup, nil
}

// findBaseprice はUUIDの組を優先し、なければ表示値の組でエントリを探す。
func findBaseprice(entities []basepriceEntity, runsizeUUID, colorspecUUID, runsize, colorspec string) *basepriceEntity {
	for i := range entities {
		e := &entities[i]
		if runsizeUUID != "" && colorspecUUID != "" {
			if e.RunsizeUUID == runsizeUUID && e.ColorspecUUID == colorspecUUID {
				return e
			}
			continue
		}
		if string(e.Runsize) == runsize && string(e.Colorspec) == colorspec {
			return e
		}
	}
	return nil
}
