// Package agent coordinates a user query end to end: cost and rate
// checks, conversation persistence, delta sync, the RPC round trip, and
// the bounded tool-call loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexandertaboriskiy/navixmind/internal/auth"
	"github.com/alexandertaboriskiy/navixmind/internal/conversations"
	"github.com/alexandertaboriskiy/navixmind/internal/deltasync"
	"github.com/alexandertaboriskiy/navixmind/internal/queue"
	"github.com/alexandertaboriskiy/navixmind/internal/ratelimit"
	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
	"github.com/alexandertaboriskiy/navixmind/internal/tools"
	"github.com/alexandertaboriskiy/navixmind/internal/usage"
	"github.com/alexandertaboriskiy/navixmind/pkg/models"
)

// Engine is the slice of the RPC channel the orchestrator drives.
type Engine interface {
	Ready() bool
	ProcessQuery(ctx context.Context, params rpc.ProcessQueryParams) (*rpc.ProcessQueryResult, error)
	Requests() <-chan *rpc.Request
	Subscribe() (<-chan *rpc.Notification, func())
	Respond(ctx context.Context, id string, result any, rpcErr *rpc.Error) error
	SetAccessToken(ctx context.Context, token string) error
	SelfImprove(ctx context.Context, digest string) error
}

// State is the terminal state of a submitted query.
type State string

const (
	StateCompleted State = "completed"
	StateBlocked   State = "blocked"
	StateQueued    State = "queued"
	StateError     State = "error"
)

// Result describes how a submitted query ended.
type Result struct {
	State  State
	Reason string

	// Answer is the persisted assistant message for completed queries.
	Answer *models.Message

	// Pending is set when the query was handed to the offline queue.
	Pending *models.PendingQuery

	// LimitReached marks a completion forced by the tool-call or
	// agent-loop budget.
	LimitReached bool
}

// limitReachedAnswer is persisted when the loop is force-terminated.
const limitReachedAnswer = "Response stopped: the tool call limit for this query was reached."

// Orchestrator is the top-level query coordinator. At most one query per
// conversation is in flight at a time; concurrent queries for different
// conversations share the per-minute rate window and the single engine
// channel but each carry their own tool-call and loop budget.
type Orchestrator struct {
	engine     Engine
	limiter    *ratelimit.Limiter
	costs      *usage.Manager
	store      conversations.Store
	sync       *deltasync.Synchronizer
	summarizer *conversations.Summarizer
	queue      *queue.Manager
	dispatcher *tools.Dispatcher
	creds      *auth.Credentials
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[int64]*querySession
	current  *querySession
}

// querySession is one in-flight query. It owns the per-query budget, and
// its context is cancelled when the budget forces termination or the UI
// abandons the query.
type querySession struct {
	conversationID   int64
	conversationUUID string
	budget           *ratelimit.QueryBudget
	cancel           context.CancelFunc

	mu           sync.Mutex
	limitReached bool
}

func (s *querySession) markLimitReached() {
	s.mu.Lock()
	already := s.limitReached
	s.limitReached = true
	s.mu.Unlock()
	if !already {
		s.cancel()
	}
}

func (s *querySession) hitLimit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limitReached
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Engine      Engine
	Limiter     *ratelimit.Limiter
	Costs       *usage.Manager
	Store       conversations.Store
	Sync        *deltasync.Synchronizer
	Summarizer  *conversations.Summarizer
	Queue       *queue.Manager
	Dispatcher  *tools.Dispatcher
	Credentials *auth.Credentials
	Logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:     opts.Engine,
		limiter:    opts.Limiter,
		costs:      opts.Costs,
		store:      opts.Store,
		sync:       opts.Sync,
		summarizer: opts.Summarizer,
		queue:      opts.Queue,
		dispatcher: opts.Dispatcher,
		creds:      opts.Credentials,
		logger:     logger.With("component", "agent"),
		inFlight:   make(map[int64]*querySession),
	}
}

// SetQueue wires the offline queue manager after construction. The queue
// replays through the orchestrator, so the two reference each other.
func (o *Orchestrator) SetQueue(q *queue.Manager) {
	o.queue = q
}

// SubmitQuery runs one user query through the full pipeline. Cost and
// rate blocks return a blocked result without any network call and are
// never offline-queued; an unavailable channel delegates to the offline
// queue instead.
func (o *Orchestrator) SubmitQuery(ctx context.Context, conversationID int64, query string, attachmentPaths []string) (*Result, error) {
	return o.submit(ctx, conversationID, query, attachmentPaths, true)
}

// DispatchQueued replays one offline-queued query. The channel is online
// when the queue manager calls this, so a not-ready channel is an error
// rather than a re-enqueue.
func (o *Orchestrator) DispatchQueued(ctx context.Context, pending *models.PendingQuery) error {
	result, err := o.submit(ctx, pending.ConversationID, pending.Query, pending.AttachmentPaths, false)
	if err != nil {
		return err
	}
	if result.State != StateCompleted {
		return fmt.Errorf("queued query %s: %s", result.State, result.Reason)
	}
	return nil
}

func (o *Orchestrator) submit(ctx context.Context, conversationID int64, query string, attachmentPaths []string, allowQueue bool) (*Result, error) {
	check, err := o.costs.CheckAllLimits(ctx)
	if err != nil {
		return nil, fmt.Errorf("cost check: %w", err)
	}
	if !check.CanProceed {
		o.logger.Info("query blocked by cost limit", "conversation_id", conversationID, "percent_used", check.PercentUsed)
		return &Result{State: StateBlocked, Reason: check.Message}, nil
	}

	if !o.limiter.CanProceed() {
		wait := o.limiter.TimeUntilNextRequest()
		o.logger.Info("query blocked by rate limit", "conversation_id", conversationID, "retry_in", wait)
		return &Result{
			State:  StateBlocked,
			Reason: fmt.Sprintf("rate limit reached, retry in %s", wait.Round(time.Second)),
		}, nil
	}

	if !o.engine.Ready() {
		if !allowQueue {
			return nil, errors.New("engine channel not ready")
		}
		pending, err := o.queue.Enqueue(ctx, conversationID, query, attachmentPaths)
		if err != nil {
			return nil, fmt.Errorf("queue offline query: %w", err)
		}
		return &Result{State: StateQueued, Reason: "engine offline, query queued", Pending: pending}, nil
	}

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", conversationID, err)
	}

	session, err := o.beginSession(conv)
	if err != nil {
		return nil, err
	}
	defer o.endSession(session)
	queryCtx := o.sessionContext(ctx, session)

	userMsg, err := o.store.AddMessage(ctx, conversationID, models.RoleUser, query, attachmentsFor(attachmentPaths), nil)
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if err := o.sync.AddMessage(ctx, conv, userMsg); err != nil {
		o.logger.Warn("delta sync failed for user message", "conversation_id", conversationID, "error", err)
	}

	o.limiter.RecordRequest()

	queryResult, err := o.engine.ProcessQuery(queryCtx, rpc.ProcessQueryParams{
		ConversationUUID: conv.UUID,
		Query:            query,
		AttachmentPaths:  attachmentPaths,
	})
	if err != nil {
		if session.hitLimit() {
			return o.completeLimited(ctx, conv)
		}
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			return &Result{State: StateError, Reason: rpcErr.Message}, err
		}
		return &Result{State: StateError, Reason: err.Error()}, err
	}

	return o.complete(ctx, conv, query, queryResult)
}

// complete persists the final answer, records usage, and kicks off the
// background summarization check and the advisory self-improvement digest.
func (o *Orchestrator) complete(ctx context.Context, conv *models.Conversation, query string, queryResult *rpc.ProcessQueryResult) (*Result, error) {
	answer, err := o.store.AddMessage(ctx, conv.ID, models.RoleAssistant, queryResult.Answer, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	if err := o.sync.AddMessage(ctx, conv, answer); err != nil {
		o.logger.Warn("delta sync failed for assistant message", "conversation_id", conv.ID, "error", err)
	}

	model := queryResult.Model
	if model == "" {
		model = usage.DefaultModel
	}
	if _, err := o.costs.RecordUsage(ctx, model, queryResult.InputTokens, queryResult.OutputTokens); err != nil {
		o.logger.Warn("failed to record usage", "model", model, "error", err)
	}

	if o.summarizer != nil {
		o.summarizer.CheckAsync(context.WithoutCancel(ctx), conv.ID)
	}

	digest := conversations.BuildDigest("", []*models.Message{
		{Role: models.RoleUser, Content: query},
		answer,
	})
	improveCtx := context.WithoutCancel(ctx)
	go func() {
		if err := o.engine.SelfImprove(improveCtx, digest); err != nil {
			o.logger.Debug("self-improve digest not delivered", "conversation_id", conv.ID, "error", err)
		}
	}()

	return &Result{State: StateCompleted, Answer: answer}, nil
}

// completeLimited persists the forced-termination answer after the loop
// budget was exhausted.
func (o *Orchestrator) completeLimited(ctx context.Context, conv *models.Conversation) (*Result, error) {
	answer, err := o.store.AddMessage(ctx, conv.ID, models.RoleAssistant, limitReachedAnswer, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("persist limit-reached message: %w", err)
	}
	if err := o.sync.AddMessage(ctx, conv, answer); err != nil {
		o.logger.Warn("delta sync failed for limit-reached message", "conversation_id", conv.ID, "error", err)
	}
	return &Result{
		State:        StateCompleted,
		Reason:       "tool call limit reached",
		Answer:       answer,
		LimitReached: true,
	}, nil
}

func (o *Orchestrator) beginSession(conv *models.Conversation) (*querySession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[conv.ID]; busy {
		return nil, fmt.Errorf("conversation %d already has a query in flight", conv.ID)
	}
	session := &querySession{
		conversationID:   conv.ID,
		conversationUUID: conv.UUID,
		budget:           o.limiter.NewQueryBudget(),
	}
	o.inFlight[conv.ID] = session
	o.current = session
	return session, nil
}

func (o *Orchestrator) sessionContext(ctx context.Context, session *querySession) context.Context {
	queryCtx, cancel := context.WithCancel(ctx)
	session.cancel = cancel
	return queryCtx
}

func (o *Orchestrator) endSession(session *querySession) {
	session.cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, session.conversationID)
	if o.current == session {
		o.current = nil
	}
}

// sessionFor resolves the session owning an engine tool request. Requests
// tagged with a conversation UUID route to that conversation's in-flight
// query; untagged requests fall back to the most recently started one.
func (o *Orchestrator) sessionFor(conversationUUID string) *querySession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if conversationUUID != "" {
		for _, session := range o.inFlight {
			if session.conversationUUID == conversationUUID {
				return session
			}
		}
		return nil
	}
	return o.current
}

// Run consumes engine-initiated requests and notifications until ctx is
// cancelled. It must be running while queries are in flight.
func (o *Orchestrator) Run(ctx context.Context) {
	notifications, cancel := o.engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-o.engine.Requests():
			if !ok {
				return
			}
			o.handleRequest(ctx, req)
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			o.handleNotification(ctx, notification)
		}
	}
}

// handleRequest routes one engine-initiated request.
func (o *Orchestrator) handleRequest(ctx context.Context, req *rpc.Request) {
	switch req.Method {
	case rpc.NotifyNativeTool:
		o.handleToolRequest(ctx, req)
	case rpc.NotifyRequestFreshToken:
		o.handleTokenRequest(ctx, req)
	default:
		o.logger.Warn("unknown engine request", "method", req.Method, "id", req.ID)
		_ = o.engine.Respond(ctx, req.ID, nil, &rpc.Error{
			Code:    rpc.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		})
	}
}

// handleToolRequest charges the owning session's budget and hands the call
// to the dispatcher. An exhausted budget rejects the call and
// force-terminates that session's query, leaving other in-flight queries
// untouched.
func (o *Orchestrator) handleToolRequest(ctx context.Context, req *rpc.Request) {
	toolReq, err := tools.ParseToolRequest(req)
	if err != nil {
		_ = o.engine.Respond(ctx, req.ID, nil, &rpc.Error{
			Code:    rpc.ErrCodeInvalidParams,
			Message: err.Error(),
		})
		return
	}

	session := o.sessionFor(toolReq.ConversationUUID)
	if session == nil {
		_ = o.engine.Respond(ctx, toolReq.ID, nil, &rpc.Error{
			Code:    rpc.ErrCodeInvalidRequest,
			Message: "no active query for tool call",
		})
		return
	}

	if !session.budget.CanContinueAgentLoop() || !session.budget.CanMakeToolCall() {
		o.logger.Warn("per-query limit reached, rejecting tool call",
			"tool", toolReq.Tool, "conversation_id", session.conversationID)
		session.markLimitReached()
		_ = o.engine.Respond(ctx, toolReq.ID, nil, &rpc.Error{
			Code:    rpc.ErrCodeRateLimit,
			Message: "tool call limit reached for this query",
		})
		return
	}

	o.dispatcher.Dispatch(ctx, toolReq)
}

// handleTokenRequest answers the engine's request_fresh_token with a
// refreshed access token.
func (o *Orchestrator) handleTokenRequest(ctx context.Context, req *rpc.Request) {
	token, err := o.creds.Refresh(ctx)
	if err != nil {
		_ = o.engine.Respond(ctx, req.ID, nil, &rpc.Error{
			Code:    rpc.ErrCodeTimeout,
			Message: "token refresh failed",
		})
		return
	}
	_ = o.engine.Respond(ctx, req.ID, rpc.KeyParams{Key: token}, nil)
}

// handleNotification consumes a fire-and-forget engine notification.
func (o *Orchestrator) handleNotification(ctx context.Context, notification *rpc.Notification) {
	switch notification.Method {
	case rpc.NotifyLog:
		o.forwardLog(notification)
	case rpc.NotifyRecordUsage:
		var params rpc.RecordUsageParams
		if err := unmarshalParams(notification.Params, &params); err != nil {
			o.logger.Warn("malformed record_usage notification", "error", err)
			return
		}
		if _, err := o.costs.RecordUsage(ctx, params.Model, params.InputTokens, params.OutputTokens); err != nil {
			o.logger.Warn("failed to record engine-reported usage", "error", err)
		}
	case rpc.NotifyAuthError:
		o.recoverAuth(ctx)
	default:
		o.logger.Debug("ignoring notification", "method", notification.Method)
	}
}

// recoverAuth performs the one-shot refresh after the engine reports an
// auth failure. A failed refresh leaves the credentials in the re-auth
// state for the UI to surface.
func (o *Orchestrator) recoverAuth(ctx context.Context) {
	token, err := o.creds.Refresh(ctx)
	if err != nil {
		o.logger.Warn("auth recovery failed, sign-in required", "error", err)
		return
	}
	if err := o.engine.SetAccessToken(ctx, token); err != nil {
		o.logger.Warn("failed to push refreshed token", "error", err)
	}
}

// forwardLog re-emits an engine log line through the local logger.
func (o *Orchestrator) forwardLog(notification *rpc.Notification) {
	var params rpc.LogParams
	if err := unmarshalParams(notification.Params, &params); err != nil {
		return
	}
	switch params.Level {
	case "error":
		o.logger.Error(params.Message, "source", "engine")
	case "warn", "warning":
		o.logger.Warn(params.Message, "source", "engine")
	case "debug":
		o.logger.Debug(params.Message, "source", "engine")
	default:
		o.logger.Info(params.Message, "source", "engine")
	}
}

// attachmentsFor builds attachment records from local paths. Size and MIME
// are best effort; type classification comes from the extension.
func attachmentsFor(paths []string) []models.Attachment {
	if len(paths) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(paths))
	for _, path := range paths {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		out = append(out, models.NewAttachment(path, mimeFor(path), size))
	}
	return out
}

func unmarshalParams(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing params")
	}
	return json.Unmarshal(data, v)
}

func mimeFor(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
