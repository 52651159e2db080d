package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-dex-go/differ"
	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/events"
	"github.com/defistate/defistate-dex-go/ledger"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

const (
	// RpcNamespace is the namespace under which the ledger service is registered.
	RpcNamespace = "dex"

	DefaultBufferSize = 64
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Ledger is the subset of *ledger.Ledger the service exposes.
type Ledger interface {
	Submit(ctx context.Context, req *engine.Request) (*ledger.Receipt, error)
	PriceQuote(ctx context.Context, assetIn engine.AssetID, amountIn *uint256.Int, assetOut engine.AssetID) (*uint256.Int, error)
	PoolBalance(ctx context.Context, asset engine.AssetID) (*uint256.Int, error)
	Pools(ctx context.Context) (map[engine.AssetID]*uint256.Int, error)
	Holding(ctx context.Context, account engine.AccountID, asset engine.AssetID) (*uint256.Int, error)
	Treasury() engine.AccountID
}

// NonceSource reports the next nonce an account must sign with.
type NonceSource interface {
	Nonce(ctx context.Context, account engine.AccountID) (uint64, error)
}

// EventSource is satisfied by *events.Feed.
type EventSource interface {
	Subscribe(ch chan<- events.Envelope) event.Subscription
}

// StateDiffer is satisfied by *differ.StateDiffer.
type StateDiffer interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

// Config holds the configuration for the server.
type Config struct {
	Ledger     Ledger
	Nonces     NonceSource
	Events     EventSource
	Differ     StateDiffer
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Ledger == nil {
		return errors.New("config: Ledger is required")
	}
	if c.Nonces == nil {
		return errors.New("config: Nonces is required")
	}
	if c.Events == nil {
		return errors.New("config: Events is required")
	}
	if c.Differ == nil {
		return errors.New("config: Differ is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Service is the "dex" RPC namespace. Every call into the ledger holds mu, which is
// what gives the ledger its single-writer execution model.
type Service struct {
	mu         sync.Mutex
	ledger     Ledger
	nonces     NonceSource
	events     EventSource
	differ     StateDiffer
	logger     Logger
	bufferSize uint

	state *engine.State
	subs  mapset.Set[*poolSub]
}

// poolSub is one pool stream subscriber. Publishing never waits on it: a subscriber whose
// buffer is full is marked stale, gets nothing further and is resynced with a full event.
type poolSub struct {
	ch    chan engine.SubscriptionEvent
	stale atomic.Bool
}

func newService(ctx context.Context, cfg *Config) (*Service, error) {
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Service{
		ledger:     cfg.Ledger,
		nonces:     cfg.Nonces,
		events:     cfg.Events,
		differ:     cfg.Differ,
		logger:     cfg.Logger,
		bufferSize: bufferSize,
		subs:       mapset.NewThreadUnsafeSet[*poolSub](),
	}

	pools, err := cfg.Ledger.Pools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial pool state: %w", err)
	}
	s.state = &engine.State{
		Timestamp: uint64(time.Now().UnixNano()),
		Treasury:  cfg.Ledger.Treasury(),
		Pools:     pools,
	}
	return s, nil
}

// Submit authenticates and executes a signed ledger request.
func (s *Service) Submit(ctx context.Context, req engine.Request) (*ledger.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, err := s.ledger.Submit(ctx, &req)
	if err != nil {
		return nil, toRPCError(err)
	}
	s.publishLocked(ctx)
	return receipt, nil
}

// Quote returns the amount of assetOut the pool would pay for amountIn of assetIn.
func (s *Service) Quote(ctx context.Context, assetIn engine.AssetID, amountIn *uint256.Int, assetOut engine.AssetID) (*uint256.Int, error) {
	if amountIn == nil {
		return nil, &Error{code: codeInvalidParams, kind: "invalidParams", msg: "amountIn is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	amountOut, err := s.ledger.PriceQuote(ctx, assetIn, amountIn, assetOut)
	if err != nil {
		return nil, toRPCError(err)
	}
	return amountOut, nil
}

func (s *Service) PoolBalance(ctx context.Context, asset engine.AssetID) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.ledger.PoolBalance(ctx, asset)
	if err != nil {
		return nil, toRPCError(err)
	}
	return balance, nil
}

func (s *Service) Pools(ctx context.Context) (map[engine.AssetID]*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools, err := s.ledger.Pools(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	return pools, nil
}

func (s *Service) Holding(ctx context.Context, account engine.AccountID, asset engine.AssetID) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, err := s.ledger.Holding(ctx, account, asset)
	if err != nil {
		return nil, toRPCError(err)
	}
	return balance, nil
}

func (s *Service) Treasury() engine.AccountID {
	return s.ledger.Treasury()
}

// Nonce returns the next nonce account must sign with.
func (s *Service) Nonce(ctx context.Context, account engine.AccountID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.nonces.Nonce(ctx, account)
	if err != nil {
		return 0, toRPCError(err)
	}
	return nonce, nil
}

// SubscribeEvents streams every ledger event emitted after the subscription starts.
func (s *Service) SubscribeEvents(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	envelopes := make(chan events.Envelope, s.bufferSize)
	feedSub := s.events.Subscribe(envelopes)

	go func() {
		defer feedSub.Unsubscribe()
		for {
			select {
			case envelope := <-envelopes:
				if err := notifier.Notify(rpcSub.ID, envelope); err != nil {
					s.logger.Warn("Failed to notify event subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			case <-feedSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

// SubscribePoolStream sends the current pool state as a "full" event and then a "diff"
// event for every committed operation.
func (s *Service) SubscribePoolStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	// snapshot and subscribe under the lock so no diff falls between them
	s.mu.Lock()
	full, err := newSubscriptionEvent(engine.StreamEventFull, s.state)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sub := &poolSub{ch: make(chan engine.SubscriptionEvent, s.bufferSize)}
	s.subs.Add(sub)
	s.mu.Unlock()

	rpcSub := notifier.CreateSubscription()
	go func() {
		defer s.unsubscribe(sub)
		if err := notifier.Notify(rpcSub.ID, full); err != nil {
			s.logger.Warn("Failed to send full pool state", "subscription", rpcSub.ID, "error", err)
			return
		}
		for {
			select {
			case ev := <-sub.ch:
				if sub.stale.Load() {
					s.logger.Warn("Pool stream subscriber fell behind; resending full state", "subscription", rpcSub.ID)
					full, err := s.resync(sub)
					if err != nil {
						s.logger.Error("Failed to resync pool stream subscriber", "subscription", rpcSub.ID, "error", err)
						return
					}
					ev = full
				}
				if err := notifier.Notify(rpcSub.ID, ev); err != nil {
					s.logger.Warn("Failed to notify pool stream subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				return
			}
		}
	}()
	return rpcSub, nil
}

func (s *Service) unsubscribe(sub *poolSub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs.Remove(sub)
}

// resync discards everything buffered for sub and returns a full event of the current
// state. Diffs published afterwards follow on from it.
func (s *Service) resync(sub *poolSub) (engine.SubscriptionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

drain:
	for {
		select {
		case <-sub.ch:
		default:
			break drain
		}
	}
	sub.stale.Store(false)
	return newSubscriptionEvent(engine.StreamEventFull, s.state)
}

// publishLocked advances the pool snapshot and hands the diff to every subscriber without
// blocking. It MUST be called with mu held.
func (s *Service) publishLocked(ctx context.Context) {
	pools, err := s.ledger.Pools(ctx)
	if err != nil {
		s.logger.Error("Failed to read pools after commit; pool stream not advanced", "error", err)
		return
	}
	next := &engine.State{
		Sequence:  s.state.Sequence + 1,
		Timestamp: uint64(time.Now().UnixNano()),
		Treasury:  s.state.Treasury,
		Pools:     pools,
	}

	diff, err := s.differ.Diff(s.state, next)
	if err != nil {
		s.logger.Error("Failed to diff pool state", "error", err)
		return
	}
	s.state = next

	ev, err := newSubscriptionEvent(engine.StreamEventDiff, diff)
	if err != nil {
		s.logger.Error("Failed to encode pool diff", "error", err)
		return
	}
	s.subs.Each(func(sub *poolSub) bool {
		if sub.stale.Load() {
			return false
		}
		select {
		case sub.ch <- ev:
		default:
			sub.stale.Store(true)
		}
		return false
	})
}

func newSubscriptionEvent(kind string, payload any) (engine.SubscriptionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return engine.SubscriptionEvent{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return engine.SubscriptionEvent{
		Type:    kind,
		Payload: data,
		SentAt:  time.Now().UnixNano(),
	}, nil
}

// Server wires the Service into a go-ethereum RPC server.
type Server struct {
	rpc     *rpc.Server
	service *Service
}

func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	service, err := newService(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(RpcNamespace, service); err != nil {
		return nil, fmt.Errorf("failed to register %s API: %w", RpcNamespace, err)
	}
	return &Server{rpc: rpcServer, service: service}, nil
}

// Handler serves JSON-RPC over HTTP POST and over websocket upgrades on the same path.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	ws := s.rpc.WebsocketHandler(allowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocket(r) {
			ws.ServeHTTP(w, r)
			return
		}
		s.rpc.ServeHTTP(w, r)
	})
}

func (s *Server) Stop() {
	s.rpc.Stop()
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
