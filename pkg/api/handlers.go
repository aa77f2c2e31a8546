// 文件: pkg/api/handlers.go
// 路由处理函数
//
// 写接口里 trader / liquidator 省略时取 token 里的 principal。

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"flash.com/pkg/auth"
	"flash.com/pkg/perp"
)

// =============================================================================
// 请求 / 响应
// =============================================================================

type initializeRequest struct {
	Admin           string `json:"admin"`
	CollateralToken string `json:"collateral_token"`
}

type collateralRequest struct {
	Trader string `json:"trader"`
	Amount int64  `json:"amount"`
}

type openRequest struct {
	Trader     string `json:"trader"`
	Symbol     string `json:"symbol"`
	Size       int64  `json:"size"`
	Margin     int64  `json:"margin"`
	LimitPrice int64  `json:"limit_price"`
}

type closeRequest struct {
	Trader     string `json:"trader"`
	Symbol     string `json:"symbol"`
	Size       int64  `json:"size"`
	LimitPrice int64  `json:"limit_price"`
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Trader     string `json:"trader"`
	Symbol     string `json:"symbol"`
}

type fundingRequest struct {
	ReferencePrice int64 `json:"reference_price"`
}

type skewRequest struct {
	Symbol    string `json:"symbol"`
	SkewScale int64  `json:"skew_scale"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type collateralResponse struct {
	Trader     string `json:"trader"`
	Collateral int64  `json:"collateral"`
	Free       int64  `json:"free"`
}

type positionResponse struct {
	Trader      string `json:"trader"`
	Symbol      string `json:"symbol"`
	MarginRatio int64  `json:"margin_ratio_bp"`
	perp.Position
}

type marketResponse struct {
	Symbol      string            `json:"symbol"`
	MarkPrice   int64             `json:"mark_price"`
	OraclePrice int64             `json:"oracle_price"`
	Reserve     perp.Reserve      `json:"reserve"`
	Funding     perp.FundingState `json:"funding"`
	NetOI       int64             `json:"net_open_interest"`
	SkewScale   int64             `json:"skew_scale"`
	Paused      bool              `json:"paused"`
}

// orPrincipal 空值回落到调用方身份
func orPrincipal(r *http.Request, v string) string {
	if v != "" {
		return v
	}
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// =============================================================================
// 写接口
// =============================================================================

// run 执行写操作并输出结果, 操作指标由引擎记录
func (s *Server) run(w http.ResponseWriter, r *http.Request, op string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "initialize", func() error {
		return s.engine.Initialize(r.Context(), orPrincipal(r, req.Admin), req.CollateralToken)
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "deposit", func() error {
		return s.engine.Deposit(r.Context(), orPrincipal(r, req.Trader), req.Amount)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req collateralRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "withdraw", func() error {
		return s.engine.Withdraw(r.Context(), orPrincipal(r, req.Trader), req.Amount)
	})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "open", func() error {
		return s.engine.Open(r.Context(), orPrincipal(r, req.Trader), req.Symbol, req.Size, req.Margin, req.LimitPrice)
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "close", func() error {
		return s.engine.Close(r.Context(), orPrincipal(r, req.Trader), req.Symbol, req.Size, req.LimitPrice)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "liquidate", func() error {
		return s.engine.Liquidate(r.Context(), orPrincipal(r, req.Liquidator), req.Trader, req.Symbol)
	})
}

func (s *Server) handleUpdateFunding(w http.ResponseWriter, r *http.Request) {
	var req fundingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	symbol := mux.Vars(r)["symbol"]
	s.run(w, r, "update_funding", func() error {
		return s.engine.UpdateFunding(r.Context(), symbol, req.ReferencePrice)
	})
}

func (s *Server) handlePokeFunding(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	s.run(w, r, "poke_funding", func() error {
		return s.engine.PokeFunding(r.Context(), symbol)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, "pause", func() error {
		return s.engine.Pause(r.Context())
	})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, "unpause", func() error {
		return s.engine.Unpause(r.Context())
	})
}

func (s *Server) handleSetSkew(w http.ResponseWriter, r *http.Request) {
	var req skewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "precondition", err.Error())
		return
	}
	s.run(w, r, "set_skew_scale", func() error {
		return s.engine.SetSkewScale(r.Context(), req.Symbol, req.SkewScale)
	})
}

// =============================================================================
// 只读接口
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetCollateral(w http.ResponseWriter, r *http.Request) {
	trader := mux.Vars(r)["trader"]
	bal, err := s.engine.Collateral(r.Context(), trader)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	free, err := s.engine.FreeCollateral(r.Context(), trader)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collateralResponse{Trader: trader, Collateral: bal, Free: free})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trader, symbol := vars["trader"], vars["symbol"]

	pos, err := s.engine.Position(r.Context(), trader, symbol)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if pos == nil {
		writeError(w, http.StatusNotFound, perp.ClassState.String(), perp.ErrPositionNotFound.Error())
		return
	}

	resp := positionResponse{Trader: trader, Symbol: symbol, Position: *pos}
	// 报价不可用时仍返回持仓本身, 保证金率置 0
	if ratio, err := s.engine.MarginRatio(r.Context(), trader, symbol); err == nil {
		resp.MarginRatio = ratio
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	st, err := s.engine.Market(r.Context(), symbol)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	paused, err := s.engine.Paused(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, marketResponse{
		Symbol:      st.Symbol,
		MarkPrice:   st.MarkPrice,
		OraclePrice: st.OraclePrice,
		Reserve:     st.Reserve,
		Funding:     st.Funding,
		NetOI:       st.NetOI,
		SkewScale:   st.SkewScale,
		Paused:      paused,
	})
}
