// 文件: pkg/api/server.go
// HTTP 入口
//
// 很薄的一层: 解析请求 -> 调用引擎 -> 按错误类别映射状态码。
// 身份来自 Authorization: Bearer <jwt>, 校验通过后放入 context,
// 引擎侧由 auth.ContextAuthorizer 比对。

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"flash.com/pkg/metrics"
	"flash.com/pkg/perp"
)

// Engine HTTP 层用到的引擎能力
type Engine interface {
	Initialize(ctx context.Context, admin, collateralToken string) error
	Deposit(ctx context.Context, trader string, amount int64) error
	Withdraw(ctx context.Context, trader string, amount int64) error
	Open(ctx context.Context, trader, symbol string, size, margin, limitPrice int64) error
	Close(ctx context.Context, trader, symbol string, size, limitPrice int64) error
	Liquidate(ctx context.Context, liquidator, trader, symbol string) error
	UpdateFunding(ctx context.Context, symbol string, referencePrice int64) error
	PokeFunding(ctx context.Context, symbol string) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	SetSkewScale(ctx context.Context, symbol string, scale int64) error

	Position(ctx context.Context, trader, symbol string) (*perp.Position, error)
	Collateral(ctx context.Context, trader string) (int64, error)
	FreeCollateral(ctx context.Context, trader string) (int64, error)
	Market(ctx context.Context, symbol string) (*perp.MarketState, error)
	MarginRatio(ctx context.Context, trader, symbol string) (int64, error)
	Paused(ctx context.Context) (bool, error)
}

// TokenVerifier bearer token -> principal
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Server HTTP 服务
type Server struct {
	engine   Engine
	verifier TokenVerifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	router   *mux.Router
}

// NewServer 创建服务, verifier 为 nil 时不解析 token (所有写操作都会被拒绝)
func NewServer(engine Engine, verifier TokenVerifier, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		verifier: verifier,
		metrics:  m,
		logger:   logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverer, s.accessLog)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.authenticate)

	v1.HandleFunc("/initialize", s.handleInitialize).Methods(http.MethodPost)

	v1.HandleFunc("/collateral/deposit", s.handleDeposit).Methods(http.MethodPost)
	v1.HandleFunc("/collateral/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	v1.HandleFunc("/collateral/{trader}", s.handleGetCollateral).Methods(http.MethodGet)

	v1.HandleFunc("/positions/open", s.handleOpen).Methods(http.MethodPost)
	v1.HandleFunc("/positions/close", s.handleClose).Methods(http.MethodPost)
	v1.HandleFunc("/positions/liquidate", s.handleLiquidate).Methods(http.MethodPost)
	v1.HandleFunc("/positions/{trader}/{symbol}", s.handleGetPosition).Methods(http.MethodGet)

	v1.HandleFunc("/funding/{symbol}/update", s.handleUpdateFunding).Methods(http.MethodPost)
	v1.HandleFunc("/funding/{symbol}/poke", s.handlePokeFunding).Methods(http.MethodPost)

	v1.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods(http.MethodGet)

	v1.HandleFunc("/admin/pause", s.handlePause).Methods(http.MethodPost)
	v1.HandleFunc("/admin/unpause", s.handleUnpause).Methods(http.MethodPost)
	v1.HandleFunc("/admin/skew", s.handleSetSkew).Methods(http.MethodPost)

	return r
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer 带超时的 http.Server
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
