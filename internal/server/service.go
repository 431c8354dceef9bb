package server

import (
	"context"
	"fmt"

	"StableLedger/internal/core"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/ledger"
	"StableLedger/internal/query"
	"StableLedger/internal/state"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "stableledger.v1.Ledger"

// --- Messages ---

// OperationRequest is a deposit or withdraw. Owner may be omitted when
// the call is authenticated; it then defaults to the token subject.
type OperationRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Amount    uint64 `json:"amount"`
}

type LiquidateRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	Liquidator string `json:"liquidator,omitempty"`
	Target     string `json:"target"`
	CoinAmount uint64 `json:"coin_amount"`
}

type ConfigRequest struct {
	RequestID string       `json:"request_id,omitempty"`
	Caller    string       `json:"caller,omitempty"`
	Config    state.Config `json:"config"`
}

// OperationResponse reports one committed (or deduplicated) transition.
type OperationResponse struct {
	RequestID     string  `json:"request_id"`
	Sequence      int64   `json:"sequence"`
	Duplicate     bool    `json:"duplicate"`
	Price         uint64  `json:"price,omitempty"`
	Minted        uint64  `json:"minted,omitempty"`
	Burned        uint64  `json:"burned,omitempty"`
	CollateralIn  uint64  `json:"collateral_in,omitempty"`
	CollateralOut uint64  `json:"collateral_out,omitempty"`
	Bonus         uint64  `json:"bonus,omitempty"`
	HealthFactor  *uint64 `json:"health_factor,omitempty"`

	Owner              string `json:"owner,omitempty"`
	CollateralLamports uint64 `json:"collateral_lamports"`
	DebtCoins          uint64 `json:"debt_coins"`
}

type OwnerRequest struct {
	Owner string `json:"owner"`
}

type BalanceRequest struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type HistoryRequest struct {
	Owner          string `json:"owner"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type LiquidationsResponse struct {
	Liquidations []query.LiquidationResponse `json:"liquidations"`
}

type Empty struct{}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

// --- Service ---

// LedgerServer is the RPC surface, served over gRPC and the HTTP gateway.
type LedgerServer interface {
	Deposit(context.Context, *OperationRequest) (*OperationResponse, error)
	Withdraw(context.Context, *OperationRequest) (*OperationResponse, error)
	Liquidate(context.Context, *LiquidateRequest) (*OperationResponse, error)
	InitializeConfig(context.Context, *ConfigRequest) (*OperationResponse, error)

	GetPosition(context.Context, *OwnerRequest) (*query.PositionResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	ListJournals(context.Context, *HistoryRequest) (*JournalsResponse, error)
	ListLiquidations(context.Context, *HistoryRequest) (*LiquidationsResponse, error)
	GetLiquidationCandidates(context.Context, *Empty) (*query.CandidatesResponse, error)
	GetSystemStatus(context.Context, *Empty) (*query.SystemStatus, error)

	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*SnapshotResponse, error)
}

// adminMethods require RoleAdmin when authentication is on.
var adminMethods = map[string]bool{
	"InitializeConfig": true,
	"VerifyIntegrity":  true,
	"TakeSnapshot":     true,
}

// Snapshotter takes a snapshot now and returns its sequence.
type Snapshotter func(ctx context.Context) (int64, error)

type ledgerService struct {
	submit   *ingestion.SubmitService
	query    *query.QueryService
	snapshot Snapshotter
}

// NewLedgerService binds the submit and query services to the RPC surface.
// snapshot may be nil.
func NewLedgerService(submit *ingestion.SubmitService, qs *query.QueryService, snapshot Snapshotter) LedgerServer {
	return &ledgerService{submit: submit, query: qs, snapshot: snapshot}
}

func (s *ledgerService) Deposit(ctx context.Context, req *OperationRequest) (*OperationResponse, error) {
	owner, err := actingPrincipal(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	id, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	res, err := s.submit.SubmitDeposit(ctx, id, owner, req.Amount)
	if err != nil {
		return nil, err
	}
	return operationResponse(id, res), nil
}

func (s *ledgerService) Withdraw(ctx context.Context, req *OperationRequest) (*OperationResponse, error) {
	owner, err := actingPrincipal(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	id, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	res, err := s.submit.SubmitWithdraw(ctx, id, owner, req.Amount)
	if err != nil {
		return nil, err
	}
	return operationResponse(id, res), nil
}

func (s *ledgerService) Liquidate(ctx context.Context, req *LiquidateRequest) (*OperationResponse, error) {
	liquidator, err := actingPrincipal(ctx, req.Liquidator)
	if err != nil {
		return nil, err
	}
	target, err := parsePrincipal("target", req.Target)
	if err != nil {
		return nil, err
	}
	id, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	res, err := s.submit.SubmitLiquidate(ctx, id, liquidator, target, req.CoinAmount)
	if err != nil {
		return nil, err
	}
	return operationResponse(id, res), nil
}

func (s *ledgerService) InitializeConfig(ctx context.Context, req *ConfigRequest) (*OperationResponse, error) {
	caller, err := actingPrincipal(ctx, req.Caller)
	if err != nil {
		return nil, err
	}
	id, err := parseRequestID(req.RequestID)
	if err != nil {
		return nil, err
	}
	res, err := s.submit.SubmitConfig(ctx, id, caller, req.Config)
	if err != nil {
		return nil, err
	}
	return operationResponse(id, res), nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *OwnerRequest) (*query.PositionResponse, error) {
	owner, err := parsePrincipal("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.query.GetPosition(ctx, owner)
}

func (s *ledgerService) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	owner, err := parsePrincipal("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	if _, ok := ledger.GetAssetID(req.Asset); !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown asset %q", req.Asset)
	}
	return s.query.GetBalance(ctx, owner, req.Asset)
}

func (s *ledgerService) ListJournals(ctx context.Context, req *HistoryRequest) (*JournalsResponse, error) {
	owner, err := parsePrincipal("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	entries, err := s.query.GetJournalHistory(ctx, owner, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &JournalsResponse{Journals: entries}, nil
}

func (s *ledgerService) ListLiquidations(ctx context.Context, req *HistoryRequest) (*LiquidationsResponse, error) {
	target, err := parsePrincipal("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	rows, err := s.query.GetLiquidationHistory(ctx, target, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &LiquidationsResponse{Liquidations: rows}, nil
}

func (s *ledgerService) GetLiquidationCandidates(ctx context.Context, _ *Empty) (*query.CandidatesResponse, error) {
	return s.query.GetLiquidationCandidates(ctx)
}

func (s *ledgerService) GetSystemStatus(ctx context.Context, _ *Empty) (*query.SystemStatus, error) {
	return s.query.GetSystemStatus(ctx)
}

func (s *ledgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return s.query.VerifyIntegrity(ctx)
}

func (s *ledgerService) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

// actingPrincipal resolves who an operation acts for. An authenticated
// caller acts as its token subject and may not name anyone else; without
// authentication the request must name the principal.
func actingPrincipal(ctx context.Context, claimed string) (ledger.Principal, error) {
	if caller, ok := CallerFrom(ctx); ok {
		if claimed != "" && claimed != caller.Principal.String() {
			return ledger.Principal{}, status.Errorf(codes.PermissionDenied,
				"token subject %s cannot act for %s", caller.Principal, claimed)
		}
		return caller.Principal, nil
	}
	return parsePrincipal("principal", claimed)
}

func parsePrincipal(field, s string) (ledger.Principal, error) {
	if s == "" {
		return ledger.Principal{}, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	p, err := ledger.ParsePrincipal(s)
	if err != nil {
		return ledger.Principal{}, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return p, nil
}

func parseRequestID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid request_id %q", s)
	}
	return id, nil
}

func operationResponse(id uuid.UUID, res *core.Result) *OperationResponse {
	resp := &OperationResponse{
		RequestID:     id.String(),
		Sequence:      res.Sequence,
		Duplicate:     res.Duplicate,
		Price:         res.Price,
		Minted:        res.Minted,
		Burned:        res.Burned,
		CollateralIn:  res.CollateralIn,
		CollateralOut: res.CollateralOut,
		Bonus:         res.Bonus,
	}
	if res.Price != 0 && res.HealthFactor != state.MaxHealthFactor {
		hf := res.HealthFactor
		resp.HealthFactor = &hf
	}
	if res.Position != nil {
		resp.Owner = res.Position.Owner.String()
		resp.CollateralLamports = res.Position.CollateralLamports
		resp.DebtCoins = res.Position.DebtCoins
	}
	return resp
}

// --- Service descriptor ---

func unary[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", name, err)
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes LedgerServer for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deposit", LedgerServer.Deposit),
		unary("Withdraw", LedgerServer.Withdraw),
		unary("Liquidate", LedgerServer.Liquidate),
		unary("InitializeConfig", LedgerServer.InitializeConfig),
		unary("GetPosition", LedgerServer.GetPosition),
		unary("GetBalance", LedgerServer.GetBalance),
		unary("ListJournals", LedgerServer.ListJournals),
		unary("ListLiquidations", LedgerServer.ListLiquidations),
		unary("GetLiquidationCandidates", LedgerServer.GetLiquidationCandidates),
		unary("GetSystemStatus", LedgerServer.GetSystemStatus),
		unary("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unary("TakeSnapshot", LedgerServer.TakeSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stableledger/v1/ledger",
}

// Client is a thin caller for the JSON-codec service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke calls method with in and decodes into out.
func (c *Client) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append(opts, grpc.ForceCodec(Codec{}))
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
