package connector

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/catdi/fourover-connector/pkg/fourover"
	"github.com/catdi/fourover-connector/pkg/middleware"
	"github.com/catdi/fourover-connector/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Server は4over ConnectorサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store はキャッシュ・カタログ・同期ジョブの永続化層。
	store *Store
	// client は4over APIへの署名付きクライアント。
	client *fourover.Client
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// syncPageDelay はカタログ同期のページ間待機時間。
	syncPageDelay time.Duration
}

// NewServer は新しいConnectorサーバーを生成する。
// SQLiteデータベースの初期化と4overクライアントの構築を行う。
func NewServer(port string) (*Server, error) {
	dbPath := getEnvOr("CONNECTOR_DB", "/data/connector.db")
	sqlDB, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := migration.Run(sqlDB, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))

	s := &Server{
		router:        router,
		port:          port,
		db:            sqlDB,
		store:         NewStore(sqlDB),
		client:        fourover.NewClient(fourover.ConfigFromEnv()),
		jwtSecret:     jwtSecret,
		syncPageDelay: 200 * time.Millisecond,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック・診断（認証不要）
	s.router.GET("/ping", s.handlePing())
	s.router.GET("/version", s.handleVersion())
	s.router.GET("/debug/auth", s.handleDebugAuth())
	s.router.GET("/db/ping", s.handleDBPing())

	// 開発用トークン発行
	s.router.POST("/auth/dev-token", s.handleDevToken())

	// 4overパススルー（呼び出し側は認証不要。認証は上流に対してのみ行う）
	four := s.router.Group("/4over")
	{
		four.GET("/whoami", s.handlePassthrough("/whoami"))
		four.GET("/categories", s.handlePassthrough("/printproducts/categories"))
		four.GET("/categories/:category_uuid/products",
			s.handlePassthroughWithParam("/printproducts/categories/", "category_uuid", "/products"))
		four.GET("/products/:product_uuid",
			s.handlePassthroughWithParam("/printproducts/products/", "product_uuid"))
		four.GET("/products/:product_uuid/baseprices",
			s.handlePassthroughWithParam("/printproducts/products/", "product_uuid", "/baseprices"))
		four.GET("/products/:product_uuid/optiongroups",
			s.handlePassthroughWithParam("/printproducts/products/", "product_uuid", "/optiongroups"))
	}

	// 同期操作（JWT必須）
	sync := s.router.Group("/sync")
	sync.Use(middleware.JWTAuth(s.jwtSecret))
	{
		sync.POST("/product/:product_uuid", s.handleSyncProduct())
		sync.POST("/catalog", s.handleSyncCatalog())
		sync.GET("/jobs/:job_id", s.handleGetSyncJob())
	}

	// ローカルキャッシュの参照
	s.router.GET("/cache/baseprices", s.handleListBasepriceCache())
	s.router.GET("/cache/baseprices/:product_uuid", s.handleLatestBasepriceCache())
	s.router.GET("/catalog/products", s.handleListCatalogProducts())

	// キャッシュ済みベース価格からの見積り
	s.router.GET("/pricing/quote", s.handleQuote())
}

// handlePing は死活確認ハンドラを返す。設定状態に関わらず常に200を返す。
func (s *Server) handlePing() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "fourover-connector"})
	}
}

// handleVersion はサービスのバージョン情報を返すハンドラを返す。
func (s *Server) handleVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": getEnvOr("SERVICE_NAME", "fourover-connector"),
			"phase":   getEnvOr("APP_PHASE", "1.0"),
			"build":   getEnvOr("APP_BUILD", "connector"),
		})
	}
}

// handleDebugAuth は認証情報の設定状態を返すハンドラを返す。
// 秘密値はマスク表示のみで、生の値は決して含めない。
// 上流への呼び出しは行わず、秘密値の欠落も200で報告する。
func (s *Server) handleDebugAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.client.Config()
		c.JSON(http.StatusOK, gin.H{
			"base_url": cfg.BaseURL,
			"apikey": gin.H{
				"set":    cfg.APIKey.IsSet(),
				"masked": cfg.APIKey.Masked(),
			},
			"private_key": gin.H{
				"set":    cfg.PrivateKey.IsSet(),
				"masked": cfg.PrivateKey.Masked(),
			},
			"timeout_seconds": int(cfg.Timeout / time.Second),
		})
	}
}

// handleDBPing はSQLiteへの接続確認ハンドラを返す。
func (s *Server) handleDBPing() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "データベースに接続できません"})
			log.Printf("DB疎通確認エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		operator := "dev-" + uuid.New().String()
		token, err := middleware.GenerateJWT(s.jwtSecret, operator)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"operator": operator,
		})
	}
}

// handlePassthrough は固定パスへのパススルーハンドラを返す。
func (s *Server) handlePassthrough(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.relay(c, path)
	}
}

// handlePassthroughWithParam はURLパラメータを含むパススルーハンドラを返す。
func (s *Server) handlePassthroughWithParam(pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			path += suffix
		}
		s.relay(c, path)
	}
}

// relay は4over APIへのGETパススルー共通処理。
// インバウンドのクエリパラメータを引き継ぎ、上流のステータスコードと
// ボディをそのまま中継する。失敗時は502/504/500に分類する。
func (s *Server) relay(c *gin.Context, path string) {
	query := url.Values{}
	for k, vs := range c.Request.URL.Query() {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	resp, err := s.client.Get(c.Request.Context(), path, query)
	if err != nil {
		s.respondUpstreamError(c, path, err)
		return
	}
	c.Data(resp.StatusCode, resp.ContentType, resp.Body)
}

// respondUpstreamError は4over呼び出しの失敗をHTTPエラーレスポンスに変換する。
// 設定不備は500、タイムアウトは504、それ以外の通信失敗は502。
func (s *Server) respondUpstreamError(c *gin.Context, path string, err error) {
	switch {
	case errors.Is(err, fourover.ErrMissingBaseURL):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "FOUR_OVER_BASE_URLが設定されていません"})
	case errors.Is(err, fourover.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "4over APIの呼び出しがタイムアウトしました"})
		log.Printf("4overタイムアウト: path=%s, error=%v", path, err)
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "4over APIとの通信に失敗しました"})
		log.Printf("4over通信エラー: path=%s, error=%v", path, err)
	}
}

// handleListBasepriceCache はキャッシュ済みベース価格の一覧を返すハンドラを返す。
func (s *Server) handleListBasepriceCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntOr(c.Query("limit"), 25)
		if limit < 1 || limit > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limitは1〜200で指定してください"})
			return
		}

		rows, err := s.store.ListBasepriceCache(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャッシュの取得に失敗しました"})
			log.Printf("キャッシュ一覧エラー: %v", err)
			return
		}
		if rows == nil {
			rows = []BasepriceCacheRow{}
		}
		c.JSON(http.StatusOK, gin.H{"entities": rows})
	}
}

// handleLatestBasepriceCache は指定商品の最新キャッシュを返すハンドラを返す。
func (s *Server) handleLatestBasepriceCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		row, err := s.store.LatestBasepriceCache(c.Request.Context(), c.Param("product_uuid"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "キャッシュが見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "キャッシュの取得に失敗しました"})
			log.Printf("キャッシュ取得エラー: %v", err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// handleListCatalogProducts は同期済みカタログ商品の一覧を返すハンドラを返す。
func (s *Server) handleListCatalogProducts() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntOr(c.Query("max"), 25)
		offset := parseIntOr(c.Query("offset"), 0)
		if limit < 1 || limit > 200 || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max/offsetの指定が不正です"})
			return
		}

		products, err := s.store.ListCatalogProducts(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "カタログの取得に失敗しました"})
			log.Printf("カタログ一覧エラー: %v", err)
			return
		}
		if products == nil {
			products = []CatalogProduct{}
		}
		c.JSON(http.StatusOK, gin.H{"count": len(products), "products": products})
	}
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// parseIntOr は整数文字列をパースし、空または不正な場合はデフォルト値を返す。
func parseIntOr(v string, defaultValue int) int {
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
