// SPDX-License-Identifier: Apache-2.0
// Package gateway owns the WebSocket surface of the agent. One goroutine
// pair per connection: a reader that handles operator frames and a worker
// that runs turns strictly in order. A turn streams model output, hands
// tool calls to the router one at a time and re-invokes the model until a
// round produces no calls or the tool budget runs out.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adjutant-ops/adjutant/pkg/catalog"
	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/llm"
	"github.com/adjutant-ops/adjutant/pkg/router"
	"github.com/adjutant-ops/adjutant/pkg/session"
	"github.com/adjutant-ops/adjutant/pkg/telemetry"
)

// PromptBuilder renders the per-turn system prompt.
type PromptBuilder interface {
	Build(ctx context.Context, query, skillDescriptions string, writeMode bool) string
}

// Memory receives interaction summaries after a turn completes.
type Memory interface {
	Remember(ctx context.Context, id, text string, payload map[string]any)
}

// minimalPrompt stands in when no prompt builder is wired.
type minimalPrompt struct{}

func (minimalPrompt) Build(ctx context.Context, query, skillDescriptions string, writeMode bool) string {
	s := "You are an operations agent. Use the available tools to help the operator."
	if skillDescriptions != "" {
		s += "\n\nAvailable skills:\n" + skillDescriptions
	}
	return s
}

// Options configure turn behavior.
type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	ToolBudget    int
	HistoryWindow int
	// WriteMode is the default for new sessions; the model must also be
	// write-capable for it to take effect (checked by the caller).
	WriteMode     bool
	EnabledSkills []string
}

// Gateway upgrades WebSocket connections and drives sessions.
type Gateway struct {
	provider llm.Provider
	catalog  *catalog.Catalog
	router   *router.Router
	sessions session.Store
	prompts  PromptBuilder
	memory   Memory
	metrics  *telemetry.AgentMetrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	optsMu sync.RWMutex
	opts   Options
}

// New creates a Gateway. memory may be nil.
func New(provider llm.Provider, cat *catalog.Catalog, rt *router.Router, sessions session.Store, prompts PromptBuilder, mem Memory, metrics *telemetry.AgentMetrics, log *slog.Logger, opts Options) *Gateway {
	if opts.ToolBudget <= 0 {
		opts.ToolBudget = 5
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if log == nil {
		log = slog.Default()
	}
	if prompts == nil {
		prompts = minimalPrompt{}
	}
	return &Gateway{
		provider: provider,
		catalog:  cat,
		router:   rt,
		sessions: sessions,
		prompts:  prompts,
		memory:   mem,
		metrics:  metrics,
		log:      log,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The REST surface handles auth; same-origin is not enforced here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Options returns the current turn options.
func (g *Gateway) Options() Options {
	g.optsMu.RLock()
	defer g.optsMu.RUnlock()
	return g.opts
}

// SetOptions swaps the turn options. New sessions and subsequent turns see
// the change; a turn already running finishes under the old options.
func (g *Gateway) SetOptions(opts Options) {
	if opts.ToolBudget <= 0 {
		opts.ToolBudget = 5
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	g.optsMu.Lock()
	g.opts = opts
	g.optsMu.Unlock()
}

// ServeWS handles GET /ws. Query params: operator (required), session
// (optional; omitted means a fresh session).
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		operator = "operator"
	}

	sess, err := g.resumeOrCreate(r.Context(), r.URL.Query().Get("session"), operator)
	if err != nil {
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		gw:   g,
		ws:   ws,
		sess: sess,
		send: make(chan *Frame, 64),
		msgs: make(chan string, 16),
	}
	c.run()
}

func (g *Gateway) resumeOrCreate(ctx context.Context, id, operator string) (*session.Session, error) {
	if id != "" {
		sess, err := g.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}
	opts := g.Options()
	sess := session.New(operator)
	sess.WriteMode = opts.WriteMode
	sess.EnabledSkills = opts.EnabledSkills
	if err := g.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// conn is one live WebSocket connection.
type conn struct {
	gw   *Gateway
	ws   *websocket.Conn
	sess *session.Session
	send chan *Frame
	msgs chan string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	cancelTurn context.CancelFunc
	// awaiting holds correlation ids with a confirmation pending on this
	// connection. Responses for any other id are ignored, so one session
	// can never approve another session's call.
	awaiting map[string]bool
}

func (c *conn) run() {
	c.ctx, c.cancel = context.WithCancel(context.Background())
	defer c.cancel()
	defer c.ws.Close()

	c.gw.metrics.SessionOpened(c.ctx)
	defer c.gw.metrics.SessionClosed(context.WithoutCancel(c.ctx))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.worker()
	}()

	c.enqueue(connectedFrame(c.sess.ID))
	c.readLoop()

	// Reader is done: tear everything down. A pending confirmation is
	// cancelled; a mid-flight executor finishes under its own timeout.
	c.cancel()
	c.abortTurn()
	wg.Wait()
}

func (c *conn) readLoop() {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.gw.log.DebugContext(c.ctx, "websocket read ended", "session", c.sess.ID, "error", err)
			}
			return
		}
		switch f.Type {
		case FrameOperatorMessage:
			if f.Content == "" {
				c.enqueue(errorFrame(string(errors.CodeInternal), "empty operator message"))
				continue
			}
			select {
			case c.msgs <- f.Content:
			default:
				c.enqueue(errorFrame(string(errors.CodeInternal), "too many queued messages, try again"))
			}
		case FrameConfirmationResponse:
			if !c.isAwaiting(f.CorrelationID) {
				c.gw.log.DebugContext(c.ctx, "confirmation response for a call not pending on this session",
					"correlation_id", f.CorrelationID)
				continue
			}
			approved := f.Approved != nil && *f.Approved
			if !c.gw.router.Resolve(f.CorrelationID, approved) {
				c.gw.log.DebugContext(c.ctx, "confirmation response for unknown call",
					"correlation_id", f.CorrelationID)
			}
		case FrameCancel:
			c.abortTurn()
		case FramePing:
			c.enqueue(pongFrame())
		default:
			c.enqueue(errorFrame(string(errors.CodeInternal), "unknown frame type "+f.Type))
		}
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.send:
			if err := c.ws.WriteJSON(f); err != nil {
				c.gw.log.DebugContext(c.ctx, "websocket write failed", "session", c.sess.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// worker runs queued operator messages strictly in order.
func (c *conn) worker() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case content := <-c.msgs:
			c.runTurn(content)
		}
	}
}

func (c *conn) enqueue(f *Frame) {
	select {
	case c.send <- f:
	case <-c.ctx.Done():
	}
}

// RequestConfirmation implements router.Confirmer by pushing a
// confirmation_required frame to the operator.
func (c *conn) RequestConfirmation(ctx context.Context, prompt router.ConfirmationPrompt) error {
	c.markAwaiting(prompt.CorrelationID)
	f := confirmationRequiredFrame(prompt.CorrelationID, prompt.Skill, prompt.Action, prompt.Args, prompt.Reason, prompt.Deadline)
	select {
	case c.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *conn) markAwaiting(correlationID string) {
	c.mu.Lock()
	if c.awaiting == nil {
		c.awaiting = make(map[string]bool)
	}
	c.awaiting[correlationID] = true
	c.mu.Unlock()
}

func (c *conn) clearAwaiting(correlationID string) {
	c.mu.Lock()
	delete(c.awaiting, correlationID)
	c.mu.Unlock()
}

func (c *conn) isAwaiting(correlationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting[correlationID]
}

func (c *conn) setTurnCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelTurn = cancel
	c.mu.Unlock()
}

func (c *conn) abortTurn() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *conn) runTurn(content string) {
	turnCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	c.setTurnCancel(cancel)
	defer c.setTurnCancel(nil)

	c.sess.Append(session.Turn{Role: llm.RoleUser, Content: content})

	opts := c.gw.Options()
	toolsUsed := 0
	rounds := 0
	for {
		resp, err := c.chat(turnCtx, content, opts)
		if err != nil {
			kind := errors.CodeOf(err)
			if kind == errors.CodeInternal {
				kind = errors.CodeUpstreamModel
			}
			c.enqueue(errorFrame(string(kind), err.Error()))
			break
		}

		c.sess.Append(session.Turn{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			break
		}

		rounds++
		budgetHit := false
		for _, tc := range resp.ToolCalls {
			if toolsUsed >= opts.ToolBudget {
				budgetHit = true
				c.sess.Append(session.Turn{
					Role:       llm.RoleTool,
					ToolCallID: tc.ID,
					Content:    "Tool budget exceeded; call not executed.",
				})
				continue
			}
			toolsUsed++
			c.dispatchToolCall(turnCtx, tc)
		}
		if budgetHit {
			c.enqueue(errorFrame(string(errors.CodeToolBudgetExceeded),
				fmt.Sprintf("tool budget of %d exhausted for this turn", opts.ToolBudget)))
			break
		}
	}

	c.gw.metrics.RecordTurn(c.ctx, rounds)
	// Persist before signalling completion so a client reconnecting on
	// turn_complete sees the finished turn.
	if err := c.gw.sessions.Save(context.WithoutCancel(c.ctx), c.sess); err != nil {
		c.gw.log.WarnContext(c.ctx, "session save failed", "session", c.sess.ID, "error", err)
	}
	c.enqueue(turnCompleteFrame())
	c.remember(content)
}

// chat invokes the model over the session history, streaming token_chunk
// frames when the provider supports it.
func (c *conn) chat(ctx context.Context, query string, opts Options) (*llm.ChatResponse, error) {
	system := c.gw.prompts.Build(ctx, query, c.gw.catalog.Descriptions(c.sess.EnabledSkills), c.sess.WriteMode)
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: system}},
		c.sess.Messages(opts.HistoryWindow)...)

	req := llm.ChatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Tools:       c.gw.catalog.ToolDefinitions(c.sess.EnabledSkills, c.sess.WriteMode),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	sp, ok := c.gw.provider.(llm.StreamingProvider)
	if !ok {
		resp, err := c.gw.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Content != "" {
			c.enqueue(tokenChunkFrame(resp.Content))
		}
		return resp, nil
	}

	ch, err := sp.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp llm.ChatResponse
	for chunk := range ch {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			resp.Content += chunk.Content
			c.enqueue(tokenChunkFrame(chunk.Content))
		}
		if chunk.Done {
			resp.ToolCalls = chunk.ToolCalls
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
	return &resp, nil
}

func (c *conn) dispatchToolCall(ctx context.Context, tc llm.ToolCall) {
	skill, action, ok := catalog.SplitFunctionName(tc.Function.Name)
	if !ok {
		// Route the malformed name through the router anyway so the failure
		// is audited and the model gets a tool-result explanation.
		skill = tc.Function.Name
	}

	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			c.gw.log.WarnContext(ctx, "malformed tool arguments",
				"tool", tc.Function.Name, "error", err)
			args = map[string]any{}
		}
	}

	// The correlation id is minted here, never taken from the model: model
	// ids (call_0, call_1) repeat across sessions and would collide in the
	// router's pending map and the audit trail. tc.ID only links the tool
	// result back into the conversation history.
	correlationID := "call_" + uuid.NewString()
	defer c.clearAwaiting(correlationID)

	c.enqueue(toolCallStartedFrame(correlationID, skill, action, args))

	outcome := c.gw.router.Dispatch(ctx, router.Request{
		CorrelationID: correlationID,
		SessionID:     c.sess.ID,
		Operator:      c.sess.Operator,
		Skill:         skill,
		Action:        action,
		Args:          args,
		WriteMode:     c.sess.WriteMode,
	}, c)

	c.enqueue(toolResultFrame(outcome.CorrelationID, outcome.State, outcome.Output, outcome.Duration))
	c.sess.Append(session.Turn{
		Role:       llm.RoleTool,
		ToolCallID: tc.ID,
		Content:    outcome.Output,
	})
}

// remember stores a one-line turn summary for semantic recall.
func (c *conn) remember(query string) {
	if c.gw.memory == nil {
		return
	}
	var reply string
	for i := len(c.sess.Turns) - 1; i >= 0; i-- {
		if c.sess.Turns[i].Role == llm.RoleAssistant && c.sess.Turns[i].Content != "" {
			reply = c.sess.Turns[i].Content
			break
		}
	}
	if reply == "" {
		return
	}
	summary := fmt.Sprintf("Operator asked: %s. Agent: %s", firstN(query, 200), firstN(reply, 300))
	c.gw.memory.Remember(context.WithoutCancel(c.ctx), uuid.NewString(), summary, map[string]any{
		"session":  c.sess.ID,
		"operator": c.sess.Operator,
	})
}

// firstN truncates s to at most n bytes without splitting a rune.
func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
