package twitch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const DefaultURL = "wss://irc-ws.chat.twitch.tv:443"

var (
	ErrReconnectBudget = errors.New("chat reconnect budget exhausted")
	ErrLoginFailed     = errors.New("chat login failed")
	ErrNotConnected    = errors.New("chat not connected")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

type StateCallback func(state State)

type Config struct {
	URL      string
	Username string
	// OAuth is the chat token, with or without the "oauth:" prefix. Empty joins anonymously.
	OAuth   string
	Channel string

	MaxReconnect   int
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	InboxSize      int
	DryRun         bool
}

// session is one live websocket connection with its reader and pinger.
type session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Conn is a Twitch IRC client over websocket. A background reader feeds an inbox drained
// by ReceiveBatch; lost connections are redialled up to MaxReconnect times.
type Conn struct {
	cfg Config

	sessM sync.RWMutex
	sess  *session

	writeM sync.Mutex

	stateM sync.RWMutex
	state  State
	fatal  error

	cbM      sync.RWMutex
	stateCbs []StateCallback

	inbox        chan domain.ChatMessage
	reconnecting atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewConn(cfg Config) *Conn {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	c := &Conn{
		cfg:    cfg,
		state:  StateDisconnected,
		inbox:  make(chan domain.ChatMessage, cfg.InboxSize),
		stopCh: make(chan struct{}),
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

// Connect dials and logs in. On failure a reconnect is scheduled and the dial error returned.
func (c *Conn) Connect(ctx context.Context) error {
	switch c.State() {
	case StateConnected, StateConnecting, StateReconnecting:
		return nil
	}
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Conn) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial chat: %w", domain.ErrExternalService, err)
	}
	conn.SetReadLimit(1 << 20)

	sctx, scancel := context.WithCancel(c.rootCtx)
	s := &session{conn: conn, ctx: sctx, cancel: scancel}
	if err := c.login(dialCtx, s); err != nil {
		scancel()
		_ = conn.Close(websocket.StatusNormalClosure, "login failed")
		return err
	}

	c.sessM.Lock()
	c.sess = s
	c.sessM.Unlock()
	c.setState(StateConnected)
	obslog.L().Info("chat_connected", zap.String("channel", channelName(c.cfg.Channel)))

	c.wg.Add(2)
	go c.listen(s)
	go c.pingLoop(s)
	return nil
}

func (c *Conn) login(ctx context.Context, s *session) error {
	nick := strings.ToLower(strings.TrimSpace(c.cfg.Username))
	lines := make([]string, 0, 4)
	if tok := strings.TrimSpace(c.cfg.OAuth); tok != "" {
		if !strings.HasPrefix(tok, "oauth:") {
			tok = "oauth:" + tok
		}
		lines = append(lines, "PASS "+tok)
	} else {
		nick = "justinfan" + fmt.Sprint(time.Now().UnixNano()%100000)
	}
	lines = append(lines,
		"NICK "+nick,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
		"JOIN "+channelName(c.cfg.Channel),
	)
	for _, l := range lines {
		if err := c.write(ctx, s, l); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) listen(s *session) {
	defer c.wg.Done()
	for {
		_, frame, err := s.conn.Read(s.ctx)
		if err != nil {
			if c.isStopping() || s.ctx.Err() != nil {
				return
			}
			obslog.L().Warn("chat_read_failed", zap.Error(err))
			c.drop(s, "read failure")
			return
		}
		for _, line := range SplitFrame(frame) {
			if !c.handleLine(s, line) {
				return
			}
		}
	}
}

// handleLine processes one IRC line and reports whether the session should keep reading.
func (c *Conn) handleLine(s *session, line string) bool {
	m, ok := ParseLine(line)
	if !ok {
		return true
	}
	switch m.Command {
	case "PING":
		if err := c.write(s.ctx, s, "PONG :"+m.Trailing()); err != nil {
			obslog.L().Warn("chat_pong_failed", zap.Error(err))
		}
	case "PRIVMSG":
		msg, ok := m.ToChat()
		if !ok {
			return true
		}
		select {
		case c.inbox <- msg:
		default:
			obslog.L().Warn("chat_inbox_full", zap.String("user", msg.User))
		}
	case "RECONNECT":
		obslog.L().Info("chat_server_reconnect")
		c.drop(s, "server requested reconnect")
		return false
	case "NOTICE":
		text := strings.ToLower(m.Trailing())
		if strings.Contains(text, "login authentication failed") || strings.Contains(text, "improperly formatted auth") {
			obslog.L().Error("chat_login_failed", zap.String("notice", m.Trailing()))
			c.fail(ErrLoginFailed)
			c.closeSession(s, websocket.StatusPolicyViolation, "login failed")
			return false
		}
	}
	return true
}

func (c *Conn) pingLoop(s *session) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.ctx, 3*time.Second)
			err := s.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if c.isStopping() || s.ctx.Err() != nil {
					return
				}
				c.drop(s, "ping failure")
				return
			}
		}
	}
}

// drop tears down s if it is still current and starts reconnecting.
func (c *Conn) drop(s *session, reason string) {
	if !c.closeSession(s, websocket.StatusGoingAway, reason) {
		return
	}
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Conn) closeSession(s *session, code websocket.StatusCode, reason string) bool {
	c.sessM.Lock()
	current := c.sess == s
	if current {
		c.sess = nil
	}
	c.sessM.Unlock()
	s.cancel()
	_ = s.conn.Close(code, reason)
	return current
}

func (c *Conn) scheduleReconnect() {
	if c.isStopping() || c.Err() != nil {
		return
	}
	if c.cfg.MaxReconnect <= 0 {
		c.fail(ErrReconnectBudget)
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.cfg.MaxReconnect; attempt++ {
			select {
			case <-c.stopCh:
				c.reconnecting.Store(false)
				return
			case <-time.After(reconnectBackoff(c.cfg.ReconnectDelay, attempt)):
			}
			err := c.dial(c.rootCtx)
			if err == nil {
				c.redialed()
				return
			}
			obslog.L().Warn("chat_reconnect_failed", zap.Int("attempt", attempt), zap.Int("max", c.cfg.MaxReconnect), zap.Error(err))
		}
		c.reconnecting.Store(false)
		c.fail(ErrReconnectBudget)
	}()
}

// redialed releases the reconnect slot. A session that dropped while the slot was
// still held could not schedule its own reconnect, so one is scheduled here.
func (c *Conn) redialed() {
	c.reconnecting.Store(false)
	if c.currentSession() == nil {
		obslog.L().Info("chat_session_lost_during_reconnect")
		c.scheduleReconnect()
	}
}

func (c *Conn) currentSession() *session {
	c.sessM.RLock()
	defer c.sessM.RUnlock()
	return c.sess
}

func reconnectBackoff(base time.Duration, attempt int) time.Duration {
	d := base << uint(min(max(attempt-1, 0), 5))
	return min(d, 30*time.Second)
}

// ReceiveBatch drains up to max queued chat messages without blocking. It returns the
// fatal error once reconnection has given up.
func (c *Conn) ReceiveBatch(ctx context.Context, max int) ([]domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	var out []domain.ChatMessage
	for len(out) < max {
		select {
		case m := <-c.inbox:
			out = append(out, m)
		default:
			return out, nil
		}
	}
	return out, nil
}

// SendLine posts text to the joined channel.
func (c *Conn) SendLine(ctx context.Context, text string) error {
	if c.cfg.DryRun {
		obslog.L().Info("chat_send_dryrun", zap.String("text", text))
		return nil
	}
	s := c.currentSession()
	if s == nil {
		return fmt.Errorf("%w: %w", domain.ErrExternalService, ErrNotConnected)
	}
	return c.write(ctx, s, privmsg(c.cfg.Channel, text))
}

func (c *Conn) write(ctx context.Context, s *session, line string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		return fmt.Errorf("%w: chat write: %w", domain.ErrExternalService, err)
	}
	return nil
}

func (c *Conn) OnStateChange(cb StateCallback) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.stateCbs = append(c.stateCbs, cb)
}

func (c *Conn) State() State {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

// Err returns the fatal error, if any.
func (c *Conn) Err() error {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.fatal
}

func (c *Conn) fail(err error) {
	c.stateM.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.stateM.Unlock()
	c.setState(StateFailed)
}

func (c *Conn) setState(st State) {
	c.stateM.Lock()
	c.state = st
	c.stateM.Unlock()

	c.cbM.RLock()
	cbs := append([]StateCallback(nil), c.stateCbs...)
	c.cbM.RUnlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(st)
		}
	}
}

func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.sessM.RLock()
	s := c.sess
	c.sessM.RUnlock()
	if s != nil {
		c.closeSession(s, websocket.StatusNormalClosure, "close")
	}
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
