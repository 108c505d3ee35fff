// Package relay runs outbound calls on behalf of API clients, tracks the ones in
// flight so they can be aborted, and records every outcome.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-relay/internal/logger"
	"github.com/samvad-hq/samvad-relay/internal/storage"
	"github.com/samvad-hq/samvad-relay/pkg/publishers"
	"github.com/samvad-hq/samvad-relay/pkg/request"
)

// ErrProfileNotFound is returned by RunProfile for unknown profile ids.
var ErrProfileNotFound = errors.New("profile not found")

// Call is one relay invocation.
type Call struct {
	ProfileID string
	ClientIP  string
	Options   request.Options
}

// Result is the outcome handed back to synchronous callers.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Body   any    `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Overrides replaces parts of a profile for a single run. Nil and empty fields
// keep the profile's values; headers are merged over the profile's.
type Overrides struct {
	Headers map[string]string
	Data    any
	Queries any
	Proxy   string
}

// Deps are the collaborators of a Service. Requester is required.
type Deps struct {
	Requester Requester
	Store     storage.Store
	Events    EventPublisher
	Profiles  ProfileSource
	Timeout   time.Duration
	Logger    logger.Logger
}

// Service coordinates relayed calls.
type Service struct {
	requester Requester
	store     storage.Store
	events    EventPublisher
	profiles  ProfileSource
	timeout   time.Duration
	log       logger.Logger

	mu       sync.Mutex
	inflight map[string]*request.AbortController
	wg       sync.WaitGroup

	newID func() string
	now   func() time.Time
}

// NewService wires a relay service.
func NewService(deps Deps) (*Service, error) {
	if deps.Requester == nil {
		return nil, errors.New("relay requester must not be nil")
	}
	store := deps.Store
	if store == nil {
		store, _ = storage.NewStore("none", "", storage.Options{})
	}
	log := deps.Logger
	if log == nil {
		log = &logger.NopLogger{}
	}

	return &Service{
		requester: deps.Requester,
		store:     store,
		events:    deps.Events,
		profiles:  deps.Profiles,
		timeout:   deps.Timeout,
		log:       log,
		inflight:  make(map[string]*request.AbortController),
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes call and waits for its outcome. The returned error is the
// request error, if any; the Result is populated either way.
func (s *Service) Run(ctx context.Context, call Call) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	id, signal, started := s.begin(call)
	call.Options.Abort = signal

	runCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	body, err := s.requester.Do(runCtx, call.Options)
	return s.finish(ctx, id, call, started, body, err)
}

// Start executes call in the background and returns its id together with the
// Future of the underlying request. Cancelling ctx does not stop the call; use
// Abort for that.
func (s *Service) Start(ctx context.Context, call Call) (string, *request.Future) {
	if ctx == nil {
		ctx = context.Background()
	}
	id, signal, started := s.begin(call)
	call.Options.Abort = signal

	detached := context.WithoutCancel(ctx)
	runCtx, cancel := s.withTimeout(detached)
	future := s.requester.Go(runCtx, call.Options)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		body, err := future.Wait()
		_, _ = s.finish(detached, id, call, started, body, err)
	}()
	return id, future
}

// Abort cancels the in-flight call with id. It reports false when the call is
// unknown, already finished or already aborted.
func (s *Service) Abort(id string) bool {
	s.mu.Lock()
	ctrl := s.inflight[id]
	s.mu.Unlock()
	if ctrl == nil {
		return false
	}

	aborted := ctrl.Abort()
	if aborted {
		s.log.InfoObj("relay call aborted", "relay_abort", map[string]any{"id": id})
	}
	return aborted
}

// Shutdown aborts every in-flight call and waits until background calls have
// recorded their outcome, or ctx is done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ctrls := make([]*request.AbortController, 0, len(s.inflight))
	for _, ctrl := range s.inflight {
		ctrls = append(ctrls, ctrl)
	}
	s.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Abort()
	}
	if len(ctrls) > 0 {
		s.log.InfoObj("relay calls aborted on shutdown", "relay_shutdown", map[string]any{"count": len(ctrls)})
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the history record of a call.
func (s *Service) Lookup(id string) (storage.Record, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Record{}, false, nil
	}
	return s.store.Get(id)
}

// Profile builds the call for a named profile with ov applied.
func (s *Service) Profile(id, clientIP string, ov Overrides) (Call, error) {
	if s.profiles == nil {
		return Call{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	p, ok := s.profiles.ByID(id)
	if !ok {
		return Call{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}

	opts := p.Options()
	if len(ov.Headers) > 0 {
		if opts.Headers == nil {
			opts.Headers = make(map[string]string, len(ov.Headers))
		}
		for k, v := range ov.Headers {
			opts.Headers[k] = v
		}
	}
	if ov.Data != nil {
		opts.Data = ov.Data
	}
	if ov.Queries != nil {
		opts.Queries = ov.Queries
	}
	if ov.Proxy != "" {
		opts.Proxy = ov.Proxy
	}
	return Call{ProfileID: p.ID, ClientIP: clientIP, Options: opts}, nil
}

// RunProfile resolves a named profile and runs it synchronously.
func (s *Service) RunProfile(ctx context.Context, id, clientIP string, ov Overrides) (Result, error) {
	call, err := s.Profile(id, clientIP, ov)
	if err != nil {
		return Result{}, err
	}
	return s.Run(ctx, call)
}

// InFlight returns the number of calls that have not finished yet.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Service) begin(call Call) (string, *request.AbortSignal, time.Time) {
	id := s.newID()
	ctrl := request.NewAbortController()
	started := s.now()

	s.mu.Lock()
	s.inflight[id] = ctrl
	s.mu.Unlock()

	s.record(storage.Record{
		ID:        id,
		ProfileID: call.ProfileID,
		ClientIP:  call.ClientIP,
		Method:    strings.ToUpper(call.Options.Method),
		URL:       call.Options.Target(),
		Status:    storage.StatusPending,
		StartedAt: started,
	})
	s.log.DebugObj("relay call started", "relay_call", map[string]any{
		"id":         id,
		"profile_id": call.ProfileID,
		"client_ip":  call.ClientIP,
		"url":        call.Options.Target(),
	})
	return id, ctrl.Signal(), started
}

func (s *Service) finish(ctx context.Context, id string, call Call, started time.Time, body any, callErr error) (Result, error) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()

	finished := s.now()
	rec := storage.Record{
		ID:         id,
		ProfileID:  call.ProfileID,
		ClientIP:   call.ClientIP,
		Method:     strings.ToUpper(call.Options.Method),
		URL:        call.Options.Target(),
		StartedAt:  started,
		FinishedAt: &finished,
	}
	res := Result{ID: id}

	switch {
	case callErr == nil:
		rec.Status = storage.StatusOK
		res.Body = body
		if raw, err := json.Marshal(body); err == nil {
			rec.Result = raw
		}
	case call.Options.Abort != nil && call.Options.Abort.Aborted():
		rec.Status = storage.StatusAborted
		rec.Error = callErr.Error()
	default:
		rec.Status = storage.StatusError
		rec.Error = callErr.Error()
	}
	res.Status = rec.Status
	res.Error = rec.Error

	s.record(rec)
	s.publish(ctx, rec)

	fields := map[string]any{
		"id":          id,
		"status":      rec.Status,
		"duration_ms": finished.Sub(started).Milliseconds(),
	}
	if callErr != nil {
		fields["error"] = callErr.Error()
		s.log.WarnObj("relay call failed", "relay_result", fields)
	} else {
		s.log.InfoObj("relay call completed", "relay_result", fields)
	}
	return res, callErr
}

func (s *Service) record(rec storage.Record) {
	if err := s.store.Put(rec); err != nil {
		s.log.ErrorObj("relay history write failed", "storage_error", map[string]any{
			"id":    rec.ID,
			"error": err.Error(),
		})
	}
}

func (s *Service) publish(ctx context.Context, rec storage.Record) {
	if s.events == nil {
		return
	}
	evt := publishers.Event{
		CallID:      rec.ID,
		ProfileID:   rec.ProfileID,
		ClientIP:    rec.ClientIP,
		Method:      rec.Method,
		URL:         rec.URL,
		Status:      rec.Status,
		Error:       rec.Error,
		CompletedAt: *rec.FinishedAt,
	}
	if _, err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.log.ErrorObj("relay event publish failed", "publish_error", map[string]any{
			"id":    rec.ID,
			"error": err.Error(),
		})
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
