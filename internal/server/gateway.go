package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/cors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewGatewayHandler exposes the ledger service as HTTP/JSON routes on a
// grpc-gateway mux, with health endpoints and CORS.
//
//	POST /v1/accounts                                     OpenAccount
//	GET  /v1/accounts/{owner}                             GetAccount
//	POST /v1/accounts/{owner}/deposits                    Deposit
//	POST /v1/accounts/{owner}/withdrawals                 Withdraw
//	POST /v1/accounts/{owner}/orders                      PlaceOrder
//	POST /v1/accounts/{owner}/orders/{order_id}/settle    SettleOrder
func NewGatewayHandler(svc LedgerServer, deps *ServerDeps) (http.Handler, error) {
	gw := &gateway{svc: svc, deps: deps}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/accounts", gw.openAccount},
		{http.MethodGet, "/v1/accounts/{owner}", gw.getAccount},
		{http.MethodPost, "/v1/accounts/{owner}/deposits", gw.deposit},
		{http.MethodPost, "/v1/accounts/{owner}/withdrawals", gw.withdraw},
		{http.MethodPost, "/v1/accounts/{owner}/orders", gw.placeOrder},
		{http.MethodPost, "/v1/accounts/{owner}/orders/{order_id}/settle", gw.settleOrder},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps != nil && deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)

	origins := []string{"*"}
	if deps != nil && len(deps.AllowedOrigins) > 0 {
		origins = deps.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(httpMux), nil
}

type gateway struct {
	svc  LedgerServer
	deps *ServerDeps
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

// serve decodes the body (if any) into req, applies path params and calls fn.
func serve[Req, Resp any](g *gateway, name string, w http.ResponseWriter, r *http.Request, req *Req, bind func(*Req) error, fn func(context.Context, *Req) (*Resp, error)) {
	start := time.Now()
	code := codes.OK
	defer func() {
		if g.deps != nil && g.deps.Metrics != nil {
			g.deps.Metrics.RequestDuration.WithLabelValues("http:"+name, code.String()).Observe(time.Since(start).Seconds())
		}
	}()

	if r.Method != http.MethodGet && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(req); err != nil {
			code = codes.InvalidArgument
			writeError(w, status.Errorf(code, "decode body: %v", err))
			return
		}
	}
	if bind != nil {
		if err := bind(req); err != nil {
			code = status.Code(err)
			writeError(w, err)
			return
		}
	}

	resp, err := fn(r.Context(), req)
	if err != nil {
		code = status.Code(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *gateway) openAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	serve(g, "OpenAccount", w, r, &OpenAccountRequest{}, nil, g.svc.OpenAccount)
}

func (g *gateway) getAccount(w http.ResponseWriter, r *http.Request, p map[string]string) {
	serve(g, "GetAccount", w, r, &GetAccountRequest{Owner: p["owner"]}, nil, g.svc.GetAccount)
}

func (g *gateway) deposit(w http.ResponseWriter, r *http.Request, p map[string]string) {
	bind := func(req *CollateralRequest) error { req.Owner = p["owner"]; return nil }
	serve(g, "Deposit", w, r, &CollateralRequest{}, bind, g.svc.Deposit)
}

func (g *gateway) withdraw(w http.ResponseWriter, r *http.Request, p map[string]string) {
	bind := func(req *CollateralRequest) error { req.Owner = p["owner"]; return nil }
	serve(g, "Withdraw", w, r, &CollateralRequest{}, bind, g.svc.Withdraw)
}

func (g *gateway) placeOrder(w http.ResponseWriter, r *http.Request, p map[string]string) {
	bind := func(req *PlaceOrderRequest) error { req.Owner = p["owner"]; return nil }
	serve(g, "PlaceOrder", w, r, &PlaceOrderRequest{}, bind, g.svc.PlaceOrder)
}

func (g *gateway) settleOrder(w http.ResponseWriter, r *http.Request, p map[string]string) {
	bind := func(req *SettleOrderRequest) error {
		req.Owner = p["owner"]
		id, err := strconv.ParseUint(p["order_id"], 10, 64)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid order_id %q", p["order_id"])
		}
		req.OrderID = id
		return nil
	}
	serve(g, "SettleOrder", w, r, &SettleOrderRequest{}, bind, g.svc.SettleOrder)
}
