package syncclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

const writeTimeout = 10 * time.Second

// ErrClosed is returned when using a closed client.
var ErrClosed = errors.New("syncclient: client closed")

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// CollectionInfo describes a collection served by the API.
type CollectionInfo struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamURL sets the socket endpoint, which defaults to /ws on the API
// host.
func WithStreamURL(u string) Option {
	return func(c *Client) { c.streamURL = u }
}

// WithLogger sets the logger used for transport problems.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client keeps collections of a lager API in sync for a single consumer.
type Client struct {
	baseURL   string
	streamURL string
	token     string
	http      *http.Client
	dialer    *websocket.Dialer
	logger    *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]map[*Subscription]struct{}
	closed bool

	writeMu sync.Mutex
}

// New creates a client for the API at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL: u.String(),
		http:    http.DefaultClient,
		dialer:  websocket.DefaultDialer,
		logger:  log.StandardLogger(),
		subs:    make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamURL == "" {
		ws := *u
		ws.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
		ws.Path = strings.TrimRight(u.Path, "/") + "/ws"
		c.streamURL = ws.String()
	}
	return c, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}

// Connect opens the socket and joins the channels of all open subscriptions.
// Subscriptions keep working without a socket, they just stop receiving
// incremental changes.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	header := http.Header{}
	c.authorize(header)
	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect %s: %w", c.streamURL, &StatusError{Status: resp.StatusCode})
		}
		return fmt.Errorf("connect %s: %w", c.streamURL, err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.conn = conn
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		c.send(domain.FrameJoin, ch)
	}
	go c.readLoop(conn)
	return nil
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) send(event, channel string) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := sonic.Marshal(channel)
	if err != nil {
		return
	}
	frame, err := sonic.Marshal(domain.Frame{Event: event, Data: data})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.WithError(err).WithField("channel", channel).Warn("unable to send " + event)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.logger.WithError(err).Warn("stream disconnected, incremental sync stopped")
			}
			return
		}
		var f domain.Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			c.logger.WithError(err).Debug("invalid frame")
			continue
		}
		channel, op, ok := domain.ParseEventName(f.Event)
		if !ok {
			continue
		}
		var doc Document
		if err := sonic.Unmarshal(f.Data, &doc); err != nil || doc == nil {
			c.logger.WithField("event", f.Event).Debug("frame without document")
			continue
		}
		c.dispatch(channel, Message{Op: op, Doc: doc})
	}
}

func (c *Client) dispatch(channel string, msg Message) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs[channel]))
	for s := range c.subs[channel] {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		// each subscription owns its copy of the document
		doc := make(Document, len(msg.Doc))
		for k, v := range msg.Doc {
			doc[k] = v
		}
		s.handle(Message{Op: msg.Op, Doc: doc})
	}
}

// Subscribe starts a bulk fetch of collection and, concurrently, listens
// for its incremental changes.
func (c *Client) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	if _, err := domain.KindByName(collection); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	s := newSubscription(ctx, c, collection)
	first := len(c.subs[collection]) == 0
	if first {
		c.subs[collection] = make(map[*Subscription]struct{})
	}
	c.subs[collection][s] = struct{}{}
	c.mu.Unlock()

	if first {
		c.send(domain.FrameJoin, collection)
	}
	s.Refresh()
	return s, nil
}

func (c *Client) unsubscribe(s *Subscription) {
	c.mu.Lock()
	set := c.subs[s.collection]
	delete(set, s)
	last := set != nil && len(set) == 0
	if last {
		delete(c.subs, s.collection)
	}
	c.mu.Unlock()
	if last {
		c.send(domain.FrameLeave, s.collection)
	}
}

// List performs a bulk read of collection.
func (c *Client) List(ctx context.Context, collection string) ([]Document, error) {
	var docs []Document
	if err := c.get(ctx, "/api/"+url.PathEscape(collection), &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Collections lists the collections served by the API.
func (c *Client) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var out []CollectionInfo
	if err := c.get(ctx, "/api/collections", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Close ends every subscription and the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	var subs []*Subscription
	for _, set := range c.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
