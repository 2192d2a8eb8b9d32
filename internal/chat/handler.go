package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	myMiddleware "market-chat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-origin is enforced by the marketplace front proxy.
	},
}

// Censor rewrites a message body before it is stored.
type Censor interface {
	Censor(body string) string
}

// FrameLimit is the smallest read limit that still lets a body of
// maxBodyLength runes reach the length check. An astral rune escaped as a
// surrogate pair takes twelve bytes; the rest covers the envelope and ref.
func FrameLimit(maxBodyLength int) int64 {
	return int64(maxBodyLength)*12 + 1024
}

type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	MaxBodyLength  int
	StoreTimeout   time.Duration
}

type Handler struct {
	hub      *Hub
	store    Store
	auth     *Authorizer
	censor   Censor
	opts     Options
	validate *validator.Validate
	log      *slog.Logger

	// ctx is the parent of every connection; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler wires the connection handler. censor may be nil.
func NewHandler(hub *Hub, store Store, auth *Authorizer, censor Censor, opts Options, log *slog.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxBodyLength > 0 {
		// A frame the socket refuses closes it with 1009 instead of an ack.
		opts.MaxMessageSize = max(opts.MaxMessageSize, FrameLimit(opts.MaxBodyLength))
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		hub:      hub,
		store:    store,
		auth:     auth,
		censor:   censor,
		opts:     opts,
		validate: validator.New(),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close disconnects every open connection with 1001 going away.
// http.Server.Shutdown does not touch hijacked connections.
func (h *Handler) Close() {
	h.cancel()
}

// ServeAdChat handles GET /ws/chat/ad/{adID}?client_id=N.
func (h *Handler) ServeAdChat(w http.ResponseWriter, r *http.Request) {
	adID, err := parseID(chi.URLParam(r, "adID"))
	if err != nil {
		http.Error(w, "invalid ad id", http.StatusBadRequest)
		return
	}
	var clientID int64
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		if clientID, err = parseID(raw); err != nil {
			http.Error(w, "invalid client_id", http.StatusBadRequest)
			return
		}
	}
	h.serve(w, r, JoinRequest{Kind: RoomKindAd, AdID: adID, ClientID: clientID})
}

// ServeSupportChat handles GET /ws/chat/support/{room}.
func (h *Handler) ServeSupportChat(w http.ResponseWriter, r *http.Request) {
	req, err := ParseSupportRoom(chi.URLParam(r, "room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.serve(w, r, req)
}

func identityFromRequest(r *http.Request) (Identity, bool) {
	id, name, role, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		return Identity{}, false
	}
	return Identity{ID: id, Name: name, Role: Role(role)}, true
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req JoinRequest) {
	who, ok := identityFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		h.log.Warn("websocket upgrade failed", "user", who.ID, "error", err)
		return
	}

	c := newClient(h.ctx, conn, h.opts.SendBuffer, h.log.With("user", who.ID))
	c.setState(StateAuthorizing)

	room, participant, err := h.join(c.ctx, who, req)
	if err != nil {
		code, reason := closeCodeFor(err)
		c.log.Info("join rejected", "kind", req.Kind, "code", code, "error", err)
		c.reject(code, reason)
		return
	}
	c.room, c.who = room, participant
	c.log = c.log.With("room", room.Key, "role", participant.Role)

	h.hub.Subscribe(room.Key, c)
	defer h.hub.Unsubscribe(room.Key, c)
	c.setState(StateJoined)

	go c.writePump()

	if err := h.replayHistory(c); err != nil {
		c.log.Error("history unavailable", "error", err)
		c.shutdown(websocket.CloseInternalServerErr, "history unavailable")
		<-c.writerDone
		c.setState(StateClosed)
		return
	}
	c.setState(StateActive)
	c.log.Info("joined")

	c.readPump(h.opts.MaxMessageSize, func(data []byte) {
		h.handleEvent(c, data)
	})

	c.setState(StateClosing)
	c.shutdown(websocket.CloseNormalClosure, "")
	<-c.writerDone
	c.setState(StateClosed)
	c.log.Info("left")
}

// join authorizes the caller and makes sure the room exists.
func (h *Handler) join(ctx context.Context, who Identity, req JoinRequest) (Room, Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()

	room, participant, err := h.auth.Authorize(ctx, who, req)
	if err != nil {
		return Room{}, Participant{}, err
	}
	if err := h.store.EnsureRoom(ctx, room); err != nil {
		return Room{}, Participant{}, err
	}
	return room, participant, nil
}

func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return websocket.ClosePolicyViolation, "permission denied"
	case errors.Is(err, ErrInvalidInput):
		return websocket.ClosePolicyViolation, "invalid room"
	default:
		return websocket.CloseInternalServerErr, "storage unavailable"
	}
}

// replayHistory runs after the subscription is in place. Anything broadcast
// meanwhile sits in the client's backlog and is flushed after the history.
func (h *Handler) replayHistory(c *Client) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.opts.StoreTimeout)
	defer cancel()

	msgs, err := h.store.History(ctx, c.room.Key)
	if err != nil {
		return err
	}
	payload, err := EncodeServerEvent(HistoryEvent{Messages: msgs})
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	c.goLive(payload, seen)
	return nil
}

// handleEvent runs on the read loop, so a connection's events are handled
// one at a time and each append completes before its publish.
func (h *Handler) handleEvent(c *Client, data []byte) {
	ev, err := DecodeClientEvent(data)
	if err != nil {
		c.sendEvent(AckEvent{Status: AckError, Code: CodeInvalidInput, Reason: err.Error()})
		return
	}

	switch e := ev.(type) {
	case SendMessage:
		h.handleSend(c, e)
	case Typing:
		h.handleTyping(c)
	default:
		panic(fmt.Sprintf("unhandled client event %T", ev))
	}
}

func (h *Handler) handleSend(c *Client, e SendMessage) {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		c.sendEvent(AckEvent{Status: AckError, Code: CodeInvalidInput, Reason: "empty message", Ref: e.Ref})
		return
	}
	if h.opts.MaxBodyLength > 0 {
		if err := h.validate.Var(body, "max="+strconv.Itoa(h.opts.MaxBodyLength)); err != nil {
			c.sendEvent(AckEvent{Status: AckError, Code: CodeInvalidInput, Reason: "message too long", Ref: e.Ref})
			return
		}
	}
	if h.censor != nil {
		body = h.censor.Censor(body)
	}

	ctx, cancel := context.WithTimeout(c.ctx, h.opts.StoreTimeout)
	defer cancel()

	msg, err := h.store.Append(ctx, c.room.Key, c.who, body)
	if err != nil {
		c.log.Error("append failed", "error", err)
		c.sendEvent(AckEvent{Status: AckError, Code: CodeStorageUnavailable, Reason: "message not saved", Ref: e.Ref})
		return
	}

	if err := h.hub.Publish(ctx, c.room.Key, MessageEvent{Message: msg}); err != nil {
		// Stored but not delivered live; peers see it in history on reconnect.
		c.log.Error("publish failed", "message", msg.ID, "error", err)
		c.sendEvent(AckEvent{Status: AckError, Code: CodeBroadcastUnavailable, Reason: "message saved but not delivered", Ref: e.Ref, MessageID: msg.ID})
		return
	}

	if e.Ref != "" {
		c.sendEvent(AckEvent{Status: AckOK, Ref: e.Ref, MessageID: msg.ID})
	}
}

func (h *Handler) handleTyping(c *Client) {
	ctx, cancel := context.WithTimeout(c.ctx, h.opts.StoreTimeout)
	defer cancel()

	if err := h.hub.Publish(ctx, c.room.Key, TypingEvent{UserName: c.who.Name}); err != nil {
		c.log.Warn("typing publish failed", "error", err)
	}
}
