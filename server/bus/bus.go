// Package bus implements the message bus protocol: posting to channels, polling
// channels and whole buses, and minting channel names.
package bus

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

const (
	// ChannelNameLength is the length of minted channel names.
	ChannelNameLength = 32
	// NewChannel is the path segment that asks for a new channel name instead of messages.
	NewChannel = "new"
	// DefaultMaxChannelMessages is the per-channel message limit used when none is configured.
	DefaultMaxChannelMessages = 50
)

// CapacityError means the channel holds too many messages to accept a post.
type CapacityError struct {
	Bus     string
	Channel string
	Limit   int
}

func (e *CapacityError) Error() string {
	return "Message limit exceeded for this channel"
}

// Store is the part of the attribute store used by the protocol.
type Store interface {
	Put(ctx context.Context, table, key string, attrs types.Attrs) error
	Query(ctx context.Context, table string, filter *types.Filter, consistent bool) ([]types.Item, error)
	Count(ctx context.Context, table string, filter *types.Filter) (int, error)
}

// Authorizer checks bus credentials.
type Authorizer interface {
	CheckAuth(ctx context.Context, header, bus string, perm types.Permission) (string, error)
}

// Observer receives protocol events for metrics.
type Observer interface {
	// Posted is called after a successful post; existing is the channel size before it.
	Posted(existing, posted int)
	// Read is called after a successful poll.
	Read(channel bool, sticky bool, elapsed time.Duration, frames int)
}

type nopObserver struct{}

func (nopObserver) Posted(int, int)                     {}
func (nopObserver) Read(bool, bool, time.Duration, int) {}

// Service handles bus protocol requests of one instance.
type Service struct {
	store  Store
	tables bpconfig.Tables
	auth   Authorizer

	// MaxChannelMessages is the per-channel message limit.
	MaxChannelMessages int
	// Now is the clock. Replaced in tests.
	Now func() time.Time
	// Observer is notified of completed requests.
	Observer Observer

	idLock sync.Mutex
	lastID time.Time
}

// New creates the service.
func New(st Store, tables bpconfig.Tables, auth Authorizer) *Service {
	return &Service{
		store:              st,
		tables:             tables,
		auth:               auth,
		MaxChannelMessages: DefaultMaxChannelMessages,
		Now:                time.Now,
		Observer:           nopObserver{},
	}
}

// MintChannel returns a fresh random channel name. Nothing is stored: the channel
// comes to exist when something is posted to it.
func MintChannel() string {
	return types.NewChannelToken(ChannelNameLength)
}

// nextID generates a message ID. IDs generated by one service are strictly
// increasing even within the same millisecond.
func (s *Service) nextID() string {
	s.idLock.Lock()
	defer s.idLock.Unlock()

	now := s.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastID) {
		now = s.lastID.Add(time.Millisecond)
	}
	s.lastID = now
	return types.NewMessageID(now)
}

// Post stores messages on a channel. The whole batch is rejected if any message is
// invalid or the channel is at its limit. Returns the IDs of the stored messages.
func (s *Service) Post(ctx context.Context, header, bus, channel string, messages []map[string]any) ([]string, error) {
	if _, err := s.auth.CheckAuth(ctx, header, bus, types.PermPost); err != nil {
		return nil, err
	}

	count, err := s.store.Count(ctx, s.tables.Messages(),
		types.Where(types.MsgBus, types.OpEq, bus).And(types.MsgChannel, types.OpEq, channel))
	if err != nil {
		return nil, err
	}
	if count >= s.MaxChannelMessages {
		return nil, &CapacityError{Bus: bus, Channel: channel, Limit: s.MaxChannelMessages}
	}

	batch := make([]*types.Message, len(messages))
	for i, data := range messages {
		msg, err := types.NewMessage(s.nextID(), bus, channel, data)
		if err != nil {
			return nil, err
		}
		batch[i] = msg
	}

	ids := make([]string, len(batch))
	for i, msg := range batch {
		if err := s.store.Put(ctx, s.tables.Messages(), msg.ID, msg.Attrs()); err != nil {
			return ids[:i], err
		}
		ids[i] = msg.ID
	}
	s.Observer.Posted(count, len(batch))
	return ids, nil
}

// Query holds the optional filters of a poll.
type Query struct {
	// Since is the last seen message ID; only newer messages are returned.
	Since string
	// Sticky, if not empty, selects messages by their sticky flag.
	Sticky string
}

func (q Query) filter(f *types.Filter) (*types.Filter, bool, error) {
	if q.Since != "" {
		f.And(types.MsgID, types.OpGt, q.Since)
	}
	sticky := false
	if q.Sticky != "" {
		b, err := types.ParseBool(q.Sticky)
		if err != nil {
			return nil, false, &types.ValidationError{Field: types.MsgSticky, Reason: err.Error()}
		}
		sticky = b
		f.And(types.MsgSticky, types.OpEq, types.FormatBool(b))
	}
	return f, sticky, nil
}

func (s *Service) frames(ctx context.Context, f *types.Filter) ([]types.Frame, error) {
	items, err := s.store.Query(ctx, s.tables.Messages(), f, true)
	if err != nil {
		return nil, err
	}
	frames := make([]types.Frame, 0, len(items))
	for _, it := range items {
		msg, err := types.MessageFromAttrs(it.Attrs)
		if err != nil {
			logs.Warn.Printf("bus: skipping invalid message %s: %v", it.Key, err)
			continue
		}
		frames = append(frames, msg.Frame())
	}
	return frames, nil
}

// BusMessages returns messages of all channels of the bus. Requires GETALL.
func (s *Service) BusMessages(ctx context.Context, header, bus string, q Query) ([]types.Frame, error) {
	if _, err := s.auth.CheckAuth(ctx, header, bus, types.PermGetAll); err != nil {
		return nil, err
	}
	start := time.Now()
	f, sticky, err := q.filter(types.Where(types.MsgBus, types.OpEq, bus))
	if err != nil {
		return nil, err
	}
	frames, err := s.frames(ctx, f)
	if err != nil {
		return nil, err
	}
	s.Observer.Read(false, sticky, time.Since(start), len(frames))
	return frames, nil
}

// ChannelMessages returns messages of one channel. Knowing the channel name is the
// only credential.
func (s *Service) ChannelMessages(ctx context.Context, bus, channel string, q Query) ([]types.Frame, error) {
	start := time.Now()
	f, sticky, err := q.filter(types.Where(types.MsgBus, types.OpEq, bus).And(types.MsgChannel, types.OpEq, channel))
	if err != nil {
		return nil, err
	}
	frames, err := s.frames(ctx, f)
	if err != nil {
		return nil, err
	}
	s.Observer.Read(true, sticky, time.Since(start), len(frames))
	return frames, nil
}

var callbackName = regexp.MustCompile(`^[A-Za-z_$][0-9A-Za-z_$.]*$`)

// ValidCallback checks that a JSONP callback is a plain JavaScript name.
func ValidCallback(callback string) error {
	if !callbackName.MatchString(callback) {
		return &types.ValidationError{Field: "callback", Reason: "invalid callback name"}
	}
	return nil
}

// Padded wraps a JSON value into a JSONP callback invocation.
func Padded(callback string, v any) ([]byte, error) {
	if err := ValidCallback(callback); err != nil {
		return nil, err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(callback)+len(body)+2)
	out = append(out, callback...)
	out = append(out, '(')
	out = append(out, body...)
	return append(out, ')'), nil
}
