package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/sunrisedotdev/sonar-sub000/saleapi"
)

const readDeadline = 30 * time.Second

// ListenerKind selects the server transport.
type ListenerKind string

const (
	ListenTCP   ListenerKind = "tcp"
	ListenVsock ListenerKind = "vsock"
)

// ServerConfig configures the socket server.
type ServerConfig struct {
	Kind       ListenerKind
	Addr       string // TCP listen address, e.g. ":7450"
	VsockPort  uint32 // vsock port for enclave deployments
	MaxWorkers int
}

// Server accepts one-request connections and dispatches them to the
// engine. Concurrent handling is bounded by a worker semaphore; when
// the pool is full new connections are rejected immediately rather
// than queued.
type Server struct {
	engine *Engine
	log    *zap.Logger
	cfg    ServerConfig
}

// NewServer wires a server around an engine.
func NewServer(engine *Engine, logger *zap.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	return &Server{engine: engine, log: logger, cfg: cfg}
}

func (s *Server) listen() (net.Listener, error) {
	switch s.cfg.Kind {
	case ListenVsock:
		return vsock.Listen(s.cfg.VsockPort, nil)
	case ListenTCP, "":
		return net.Listen("tcp", s.cfg.Addr)
	default:
		return nil, fmt.Errorf("unknown listener kind %q", s.cfg.Kind)
	}
}

// Serve runs the accept loop until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			s.log.Error("failed to close listener", zap.Error(err))
		}
	}()

	s.log.Info("server listening",
		zap.String("kind", string(s.cfg.Kind)),
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_workers", s.cfg.MaxWorkers))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	semaphore := make(chan struct{}, s.cfg.MaxWorkers)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("failed to accept connection", zap.Error(err))
			continue
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			s.log.Info("no workers available, rejecting connection")
			if err := conn.Close(); err != nil {
				s.log.Error("failed to close rejected connection", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in connection handler", zap.Any("panic", r))
		}
		if err := conn.Close(); err != nil {
			s.log.Error("failed to close connection", zap.Error(err))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		s.log.Error("failed to read request", zap.Error(err))
		return
	}

	var base saleapi.BaseRequest
	if err := json.Unmarshal(buf.Bytes(), &base); err != nil {
		s.log.Error("failed to decode base request", zap.Error(err))
		return
	}

	start := time.Now()
	response := s.dispatch(base.Type, buf.Bytes())
	if s.engine.metrics != nil {
		s.engine.metrics.RequestLatency.WithLabelValues(base.Type).Observe(time.Since(start).Seconds())
	}

	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(response); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) dispatch(reqType string, raw []byte) saleapi.Response {
	fail := func(err error) saleapi.Response {
		return saleapi.Response{Type: reqType, Success: false, Message: err.Error()}
	}
	ok := func(data any) saleapi.Response {
		resp := saleapi.Response{Type: reqType, Success: true}
		if data != nil {
			encoded, err := json.Marshal(data)
			if err != nil {
				return fail(fmt.Errorf("encode response data: %w", err))
			}
			resp.Data = encoded
		}
		return resp
	}
	decode := func(v any) error {
		return json.Unmarshal(raw, v)
	}

	switch reqType {
	case saleapi.TypePing:
		return ok(map[string]any{"message": "engine is healthy", "timestamp": time.Now().Unix()})

	case saleapi.TypeStatus:
		return ok(s.engine.Status())

	case saleapi.TypePlaceBid:
		var req saleapi.PlaceBidRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.PlaceBid(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeAdvanceStage:
		var req saleapi.StageRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.AdvanceStage(req.Caller, req.Target); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeForceStage:
		var req saleapi.StageRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.ForceStage(req.Caller, req.Target); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeSetAllocations:
		var req saleapi.SetAllocationsRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.SetAllocations(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeFinalize:
		var req saleapi.FinalizeRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.Finalize(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeRefund:
		var req saleapi.RefundRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.Refund(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeRefundBatch:
		var req saleapi.RefundBatchRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		n, err := s.engine.RefundBatch(req)
		if err != nil {
			return fail(err)
		}
		return ok(saleapi.RefundBatchData{Refunded: n})

	case saleapi.TypeClaimRefund:
		var req saleapi.ClaimRefundRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.ClaimRefund(req.Wallet); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeCancelBid:
		var req saleapi.CancelBidRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.CancelBid(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeWithdraw, saleapi.TypeWithdrawPartial:
		var req saleapi.WithdrawRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.Withdraw(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeSetReceiver:
		var req saleapi.SetReceiverRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.SetReceiver(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeSetClaimEnabled:
		var req saleapi.SetClaimEnabledRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		if err := s.engine.SetClaimEnabled(req); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeEntityRange:
		var req saleapi.RangeRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		views, err := s.engine.EntityRange(req.From, req.To)
		if err != nil {
			return fail(err)
		}
		return ok(views)

	case saleapi.TypeWalletRange:
		var req saleapi.RangeRequest
		if err := decode(&req); err != nil {
			return fail(err)
		}
		views, err := s.engine.WalletRange(req.From, req.To)
		if err != nil {
			return fail(err)
		}
		return ok(views)

	case saleapi.TypeStageLog:
		return ok(s.engine.StageAuditLog())

	case saleapi.TypeExport:
		return ok(s.engine.Export())

	case saleapi.TypeSnapshot:
		if err := s.engine.Snapshot(); err != nil {
			return fail(err)
		}
		return ok(nil)

	case saleapi.TypeProof:
		bundle, err := s.engine.SettlementProof()
		if err != nil {
			return fail(err)
		}
		return ok(bundle)

	default:
		return fail(fmt.Errorf("unknown request type: %s", reqType))
	}
}
