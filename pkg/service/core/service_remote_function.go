package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
	"github.com/navikt/bq-remote-functions/pkg/service"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BatchLimits bound the work done for a single batch.
type BatchLimits struct {
	MaxRows     int
	Concurrency int
	Timeout     time.Duration
}

type remoteFunctionService struct {
	registry *functions.Registry
	cache    cache.Cacher
	limits   BatchLimits
	metrics  *Metrics
	log      zerolog.Logger
}

var _ service.RemoteFunctionService = &remoteFunctionService{}

func (s *remoteFunctionService) ListFunctions(_ context.Context) (*service.FunctionList, error) {
	defs := s.registry.List()

	list := &service.FunctionList{
		Functions: make([]*service.Function, len(defs)),
	}

	for i, def := range defs {
		args := make([]service.FunctionArgument, len(def.Arguments))
		for j, a := range def.Arguments {
			args[j] = service.FunctionArgument{
				Name: a.Name,
				Type: a.Type,
			}
		}

		list.Functions[i] = &service.Function{
			Name:          def.Name,
			Description:   def.Description,
			Arguments:     args,
			ReturnType:    def.ReturnType,
			Deterministic: def.Deterministic,
		}
	}

	return list, nil
}

func (s *remoteFunctionService) Call(ctx context.Context, name string, req *remotefn.Request) (*remotefn.Response, error) {
	const op errs.Op = "remoteFunctionService.Call"

	if req == nil {
		return nil, s.unresolved(errs.E(errs.InvalidRequest, op, remotefn.ErrMissingCalls))
	}

	if name == "" {
		name = req.ContextValue(service.UserDefinedContextFunction)
	}

	if name == "" {
		return nil, s.unresolved(errs.E(errs.InvalidRequest, op, errs.Parameter("function"), fmt.Errorf("no function in the route or the user defined context")))
	}

	def, err := s.registry.Lookup(name)
	if err != nil {
		return nil, s.unresolved(errs.E(op, err))
	}

	start := time.Now()

	resp, err := s.call(ctx, def, req)

	s.metrics.Rows.WithLabelValues(def.Name).Add(float64(req.Rows()))
	s.metrics.BatchDuration.WithLabelValues(def.Name).Observe(time.Since(start).Seconds())

	status := 200
	if err != nil {
		status = errs.HTTPStatus(err)
	}

	s.metrics.Batches.WithLabelValues(def.Name, strconv.Itoa(status)).Inc()

	if err != nil {
		return nil, errs.E(op, err)
	}

	return resp, nil
}

// UnresolvedFunction labels batches that fail before a function is found.
const UnresolvedFunction = "_unresolved"

// unresolved counts a batch that never reached a function and returns err.
// Request names are not used as labels, they come from the caller.
func (s *remoteFunctionService) unresolved(err error) error {
	s.metrics.Batches.WithLabelValues(UnresolvedFunction, strconv.Itoa(errs.HTTPStatus(err))).Inc()

	return err
}

func (s *remoteFunctionService) call(ctx context.Context, def *functions.Definition, req *remotefn.Request) (*remotefn.Response, error) {
	const op errs.Op = "remoteFunctionService.call"

	if s.limits.MaxRows > 0 && req.Rows() > s.limits.MaxRows {
		return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("calls"),
			fmt.Errorf("batch has %d rows, the limit is %d", req.Rows(), s.limits.MaxRows),
		)
	}

	for i, row := range req.Calls {
		if len(row) != def.Arity() {
			return nil, errs.E(errs.InvalidRequest, op, errs.Parameter("calls"),
				fmt.Errorf("row %d has %d arguments, %s takes %d", i, len(row), def.Name, def.Arity()),
			)
		}
	}

	ctx = cache.WithFunction(ctx, def.Name)

	var key string

	if req.RequestID != "" {
		k, err := cacheKey(def.Name, req)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("computing cache key")
		}

		key = k
	}

	if key != "" {
		cached := &remotefn.Response{}
		if s.cache.Get(ctx, key, cached) && len(cached.Replies) == req.Rows() {
			s.metrics.CacheHits.WithLabelValues(def.Name).Inc()
			s.log.Debug().Str("function", def.Name).Str("request_id", req.RequestID).Msg("answered from cache")

			return cached, nil
		}
	}

	resp, err := s.evaluate(ctx, def, req)
	if err != nil {
		return nil, errs.E(op, err)
	}

	if key != "" {
		s.cache.Set(ctx, key, resp)
	}

	return resp, nil
}

// evaluate runs the function for every row. Replies are written by index,
// so their order follows the calls regardless of completion order.
func (s *remoteFunctionService) evaluate(ctx context.Context, def *functions.Definition, req *remotefn.Request) (*remotefn.Response, error) {
	const op errs.Op = "remoteFunctionService.evaluate"

	if s.limits.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.limits.Timeout)
		defer cancel()
	}

	resp := remotefn.NewResponse(req.Rows())

	g, gctx := errgroup.WithContext(ctx)
	if s.limits.Concurrency > 0 {
		g.SetLimit(s.limits.Concurrency)
	}

	done := make(chan error, 1)

	go func() {
		for i, row := range req.Calls {
			if gctx.Err() != nil {
				break
			}

			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				reply, err := evaluateRow(gctx, def, row, req.UserDefinedContext, i)
				if err != nil {
					return err
				}

				resp.Replies[i] = reply

				return nil
			})
		}

		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, errs.E(errs.Timeout, op, errs.Parameter(def.Name), fmt.Errorf("batch did not finish within %s", s.limits.Timeout))
			}

			return nil, errs.E(op, err)
		}

		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.E(errs.Timeout, op, errs.Parameter(def.Name), fmt.Errorf("batch did not finish within %s", s.limits.Timeout))
		}

		return nil, errs.E(errs.Unavailable, op, ctx.Err())
	}
}

func evaluateRow(ctx context.Context, def *functions.Definition, row remotefn.Args, udc map[string]string, i int) (reply any, err error) {
	const op errs.Op = "remoteFunctionService.evaluateRow"

	defer func() {
		if r := recover(); r != nil {
			err = errs.E(errs.Function, op, errs.Parameter(def.Name), fmt.Errorf("row %d: panic: %v", i, r))
		}
	}()

	reply, err = def.Fn(ctx, row, udc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}

		var e *errs.Error
		if errors.As(err, &e) && e.Kind != errs.Other {
			return nil, errs.E(op, errs.Parameter(def.Name), err)
		}

		return nil, errs.E(errs.Function, op, errs.Parameter(def.Name), fmt.Errorf("row %d: %w", i, err))
	}

	return reply, nil
}

// cacheKey identifies a batch by function, request id, arguments and user
// defined context. BigQuery reuses the request id when it retries a batch.
func cacheKey(function string, req *remotefn.Request) (string, error) {
	calls, err := json.Marshal(req.Calls)
	if err != nil {
		return "", fmt.Errorf("encoding calls: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(function))
	h.Write([]byte{0})
	h.Write([]byte(req.RequestID))
	h.Write([]byte{0})
	h.Write(calls)

	keys := make([]string, 0, len(req.UserDefinedContext))
	for k := range req.UserDefinedContext {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(req.UserDefinedContext[k]))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func NewRemoteFunctionService(
	registry *functions.Registry,
	cacher cache.Cacher,
	limits BatchLimits,
	metrics *Metrics,
	log zerolog.Logger,
) *remoteFunctionService {
	if cacher == nil {
		cacher = cache.NewNoop()
	}

	if metrics == nil {
		metrics = NewMetrics()
	}

	return &remoteFunctionService{
		registry: registry,
		cache:    cacher,
		limits:   limits,
		metrics:  metrics,
		log:      log,
	}
}
