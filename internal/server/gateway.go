package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// maxBodyBytes bounds gateway request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) registerRoutes() error {
	chain := chainUnary(s.interceptors)
	routes := []error{
		handle(s, chain, "POST", "/v1/deposit", "Deposit", bindBody[OperationRequest], LedgerServer.Deposit),
		handle(s, chain, "POST", "/v1/withdraw", "Withdraw", bindBody[OperationRequest], LedgerServer.Withdraw),
		handle(s, chain, "POST", "/v1/liquidate", "Liquidate", bindBody[LiquidateRequest], LedgerServer.Liquidate),
		handle(s, chain, "POST", "/v1/admin/config", "InitializeConfig", bindBody[ConfigRequest], LedgerServer.InitializeConfig),
		handle(s, chain, "GET", "/v1/positions/{owner}", "GetPosition", bindOwner, LedgerServer.GetPosition),
		handle(s, chain, "GET", "/v1/balances/{owner}/{asset}", "GetBalance", bindBalance, LedgerServer.GetBalance),
		handle(s, chain, "GET", "/v1/journals/{owner}", "ListJournals", bindHistory, LedgerServer.ListJournals),
		handle(s, chain, "GET", "/v1/liquidations/{owner}", "ListLiquidations", bindHistory, LedgerServer.ListLiquidations),
		handle(s, chain, "GET", "/v1/candidates", "GetLiquidationCandidates", bindNothing, LedgerServer.GetLiquidationCandidates),
		handle(s, chain, "GET", "/v1/status", "GetSystemStatus", bindNothing, LedgerServer.GetSystemStatus),
		handle(s, chain, "GET", "/v1/admin/integrity", "VerifyIntegrity", bindNothing, LedgerServer.VerifyIntegrity),
		handle(s, chain, "POST", "/v1/admin/snapshot", "TakeSnapshot", bindNothing, LedgerServer.TakeSnapshot),
	}
	return errors.Join(routes...)
}

// handle routes one HTTP path to a service method through chain.
func handle[Req, Resp any](
	s *Server,
	chain grpc.UnaryServerInterceptor,
	httpMethod, pattern, name string,
	bind func(*http.Request, map[string]string, *Req) error,
	call func(LedgerServer, context.Context, *Req) (*Resp, error),
) error {
	info := &grpc.UnaryServerInfo{Server: s.svc, FullMethod: "/" + ServiceName + "/" + name}

	err := s.gateway.HandlePath(httpMethod, pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if err := bind(r, params, req); err != nil {
			writeError(w, status.Errorf(codes.InvalidArgument, "%v", err))
			return
		}

		resp, err := chain(incomingContext(r), req, info, func(ctx context.Context, in any) (any, error) {
			return call(s.svc, ctx, in.(*Req))
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	if err != nil {
		return fmt.Errorf("route %s %s: %w", httpMethod, pattern, err)
	}
	return nil
}

// incomingContext carries the Authorization header and client address into
// gRPC metadata so the interceptors see the same inputs on both surfaces.
func incomingContext(r *http.Request) context.Context {
	md := metadata.Pairs(remoteAddrKey, r.RemoteAddr)
	if auth := r.Header.Get("Authorization"); auth != "" {
		md.Set("authorization", auth)
	}
	return metadata.NewIncomingContext(r.Context(), md)
}

func bindBody[Req any](r *http.Request, _ map[string]string, req *Req) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func bindOwner(_ *http.Request, params map[string]string, req *OwnerRequest) error {
	req.Owner = params["owner"]
	return nil
}

func bindBalance(_ *http.Request, params map[string]string, req *BalanceRequest) error {
	req.Owner = params["owner"]
	req.Asset = params["asset"]
	return nil
}

func bindHistory(r *http.Request, params map[string]string, req *HistoryRequest) error {
	req.Owner = params["owner"]
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		req.Limit = n
	}
	if v := q.Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("before: %w", err)
		}
		req.BeforeSequence = n
	}
	return nil
}

func bindNothing(*http.Request, map[string]string, *Empty) error { return nil }

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	writeJSON(w, gwruntime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
