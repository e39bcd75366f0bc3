package common

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

var ErrChannelNotFound = errors.New("channel not found")

type DialogsAPI interface {
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
}

type ResolveAPI interface {
	DialogsAPI
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
}

// ChannelInfo is a channel-type dialog as the account sees it.
type ChannelInfo struct {
	ID       int64
	Name     string // public username, empty for private channels
	Title    string
	Count    int
	HasCount bool
	Hash     int64
}

func (c *ChannelInfo) IsPrivate() bool {
	return c.Name == ""
}

func (c *ChannelInfo) InputPeer() *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.Hash}
}

func newChannelInfo(ch *tg.Channel) *ChannelInfo {
	info := &ChannelInfo{
		ID:    ch.ID,
		Name:  ch.Username,
		Title: ch.Title,
		Hash:  ch.AccessHash,
	}
	info.Count, info.HasCount = ch.GetParticipantsCount()
	return info
}

// DialogWalker pages through messages.getDialogs.
type DialogWalker struct {
	API       DialogsAPI
	Limiter   *rate.Limiter // nil disables throttling
	Retry     FloodRetry
	BatchSize int
}

type dialogPage struct {
	dialogs  []tg.DialogClass
	messages []tg.MessageClass
	chats    []tg.ChatClass
	users    []tg.UserClass
	last     bool
}

func (w *DialogWalker) page(ctx context.Context, req *tg.MessagesGetDialogsRequest) (*dialogPage, error) {
	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var resp tg.MessagesDialogsClass
	err := w.Retry.Do(ctx, "get dialogs", func(ctx context.Context) error {
		var err error
		resp, err = w.API.MessagesGetDialogs(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch r := resp.(type) {
	case *tg.MessagesDialogs:
		return &dialogPage{dialogs: r.Dialogs, messages: r.Messages, chats: r.Chats, users: r.Users, last: true}, nil
	case *tg.MessagesDialogsSlice:
		return &dialogPage{dialogs: r.Dialogs, messages: r.Messages, chats: r.Chats, users: r.Users}, nil
	case *tg.MessagesDialogsNotModified:
		return &dialogPage{last: true}, nil
	default:
		return nil, fmt.Errorf("unexpected dialogs response: %T", resp)
	}
}

// Channels returns every channel the account has a dialog with, in dialog
// order.
func (w *DialogWalker) Channels(ctx context.Context) ([]*ChannelInfo, error) {
	limit := w.BatchSize
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	}

	seen := make(map[int64]struct{})
	var out []*ChannelInfo
	for {
		p, err := w.page(ctx, req)
		if err != nil {
			return out, fmt.Errorf("get dialogs: %w", err)
		}
		for _, ch := range p.dialogChannels() {
			if _, dup := seen[ch.ID]; dup {
				continue
			}
			seen[ch.ID] = struct{}{}
			out = append(out, newChannelInfo(ch))
		}
		if p.last || len(p.dialogs) < limit {
			return out, nil
		}

		next, ok := nextDialogOffset(p, limit)
		if !ok || (next.OffsetID == req.OffsetID && next.OffsetDate == req.OffsetDate) {
			return out, nil
		}
		req = next
	}
}

// dialogChannels returns the channels that are dialogs of the page. The chats
// list also carries channels that are only referenced, e.g. as the forward
// source of a top message, those are not conversations of the account.
func (p *dialogPage) dialogChannels() []*tg.Channel {
	chats := make(map[int64]*tg.Channel, len(p.chats))
	for _, c := range p.chats {
		if ch, ok := c.(*tg.Channel); ok {
			chats[ch.ID] = ch
		}
	}
	var out []*tg.Channel
	for _, d := range p.dialogs {
		dlg, ok := d.(*tg.Dialog)
		if !ok {
			continue
		}
		peer, ok := dlg.Peer.(*tg.PeerChannel)
		if !ok {
			continue
		}
		if ch, ok := chats[peer.ChannelID]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// nextDialogOffset builds the request continuing after the last dialog of p.
func nextDialogOffset(p *dialogPage, limit int) (*tg.MessagesGetDialogsRequest, bool) {
	var peer tg.PeerClass
	var top int
	switch d := p.dialogs[len(p.dialogs)-1].(type) {
	case *tg.Dialog:
		peer, top = d.Peer, d.TopMessage
	case *tg.DialogFolder:
		peer, top = d.Peer, d.TopMessage
	default:
		return nil, false
	}

	var date int
	for _, m := range p.messages {
		switch msg := m.(type) {
		case *tg.Message:
			if msg.ID == top && samePeer(msg.PeerID, peer) {
				date = msg.Date
			}
		case *tg.MessageService:
			if msg.ID == top && samePeer(msg.PeerID, peer) {
				date = msg.Date
			}
		}
	}

	var input tg.InputPeerClass
	switch pr := peer.(type) {
	case *tg.PeerUser:
		for _, u := range p.users {
			if user, ok := u.(*tg.User); ok && user.ID == pr.UserID {
				input = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
			}
		}
	case *tg.PeerChat:
		input = &tg.InputPeerChat{ChatID: pr.ChatID}
	case *tg.PeerChannel:
		for _, c := range p.chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == pr.ChannelID {
				input = &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			}
		}
	}
	if input == nil {
		return nil, false
	}
	return &tg.MessagesGetDialogsRequest{
		OffsetDate: date,
		OffsetID:   top,
		OffsetPeer: input,
		Limit:      limit,
	}, true
}

func samePeer(a, b tg.PeerClass) bool {
	switch x := a.(type) {
	case *tg.PeerUser:
		y, ok := b.(*tg.PeerUser)
		return ok && x.UserID == y.UserID
	case *tg.PeerChat:
		y, ok := b.(*tg.PeerChat)
		return ok && x.ChatID == y.ChatID
	case *tg.PeerChannel:
		y, ok := b.(*tg.PeerChannel)
		return ok && x.ChannelID == y.ChannelID
	}
	return false
}

// Target is a parsed channel reference: either a numeric id or a username.
type Target struct {
	ID       int64
	Username string
}

func (t Target) String() string {
	if t.Username != "" {
		return "@" + t.Username
	}
	return strconv.FormatInt(t.ID, 10)
}

// ParseTarget accepts 1234567890, -1001234567890, @name, name and t.me links.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, ErrNoChannel
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if strings.HasPrefix(s, "-100") && len(s) > 4 {
			id, _ = strconv.ParseInt(s[4:], 10, 64)
		} else if id < 0 {
			id = -id
		}
		if id == 0 {
			return Target{}, fmt.Errorf("invalid channel id: %s", s)
		}
		return Target{ID: id}, nil
	}

	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSuffix(s, "/")
	if s == "" || strings.ContainsAny(s, "/+ ") {
		return Target{}, fmt.Errorf("unsupported channel reference: %q", s)
	}
	return Target{Username: s}, nil
}

// ResolveChannel finds the channel a target points at. Usernames go through
// contacts.resolveUsername, ids are looked up in the dialog list since the
// access hash is only known for joined channels.
func ResolveChannel(ctx context.Context, api ResolveAPI, walker *DialogWalker, target Target) (*ChannelInfo, error) {
	if target.Username == "" {
		channels, err := walker.Channels(ctx)
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			if ch.ID == target.ID {
				return ch, nil
			}
		}
		return nil, fmt.Errorf("%w: %d is not in the dialog list, join it first", ErrChannelNotFound, target.ID)
	}

	var resolved *tg.ContactsResolvedPeer
	err := walker.Retry.Do(ctx, "resolve username", func(ctx context.Context) error {
		var err error
		resolved, err = api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: target.Username})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", target.Username, err)
	}
	peer, ok := resolved.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, fmt.Errorf("%w: @%s is a %T", ErrChannelNotFound, target.Username, resolved.Peer)
	}
	for _, c := range resolved.Chats {
		if ch, ok := c.(*tg.Channel); ok && ch.ID == peer.ChannelID {
			return newChannelInfo(ch), nil
		}
	}
	return nil, fmt.Errorf("%w: @%s", ErrChannelNotFound, target.Username)
}
