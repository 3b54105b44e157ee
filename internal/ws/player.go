package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rps_duel/internal/domain"
	"rps_duel/internal/duel"
	"rps_duel/internal/invite"
	"rps_duel/internal/lobby"
	"rps_duel/internal/presence"
)

const opTimeout = 5 * time.Second

var (
	errNotInDuel      = errors.New("not in a duel")
	errOpponentAway   = errors.New("opponent is not live")
	errUnknownMessage = errors.New("unknown message type")
)

// Player drives one connected participant: presence, the directory feed,
// the invite handshake and at most one duel at a time.
type Player struct {
	client *Client
	hub    *Hub
	self   string
	log    *slog.Logger

	visibility  chan bool
	terminating chan struct{}
	termOnce    sync.Once

	stopPresence  func()
	stopDirectory func()
	invites       *invite.Negotiator

	// duelMu serializes entering and leaving duels.
	duelMu sync.Mutex
	mu     sync.Mutex
	duel   *duel.Duel
	closed bool
}

func newPlayer(c *Client) *Player {
	return &Player{
		client:      c,
		hub:         c.Hub,
		self:        c.Participant,
		log:         c.log,
		visibility:  make(chan bool, 8),
		terminating: make(chan struct{}),
	}
}

// Start publishes the participant as live and begins streaming the
// directory and inbound invites.
func (p *Player) Start() error {
	stop, err := p.hub.tracker.Start(context.Background(), p.self, presence.Signals{
		Visibility:  p.visibility,
		Terminating: p.terminating,
	})
	if err != nil {
		return fmt.Errorf("start presence: %w", err)
	}
	p.stopPresence = stop

	p.invites = invite.New(p.hub.store, p.hub.clock, p.self, p.hub.inviteTTL, invite.Hooks{
		Received: func(inv domain.Invite) {
			p.send(MsgInviteReceived, InvitePayload{Participant: inv.RequestedBy, CreatedAt: inv.CreatedAt})
		},
		Cleared: func() {
			p.send(MsgInviteCleared, nil)
		},
		Accepted: func(target string) {
			p.send(MsgInviteAccepted, PeerPayload{Participant: target})
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if err := p.enterDuel(ctx, target); err != nil {
				p.fail(err)
			}
		},
		Declined: func(target string) {
			p.send(MsgInviteDeclined, PeerPayload{Participant: target})
		},
		Expired: func(target string) {
			p.send(MsgInviteExpired, PeerPayload{Participant: target})
		},
	}, nil)
	// subscriptions outlive this call; they end with Close
	if err := p.invites.Observe(context.Background()); err != nil {
		return fmt.Errorf("observe invites: %w", err)
	}

	stopDir, err := p.hub.directory.Watch(context.Background(), p.self, func(v lobby.View) {
		p.send(MsgDirectory, v)
	})
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	p.stopDirectory = stopDir
	return nil
}

// HandleMessage dispatches one client frame. Failures are reported back to
// the client as error messages.
func (p *Player) HandleMessage(raw []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.fail(fmt.Errorf("malformed message: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := p.dispatch(ctx, msg.Type, msg.Payload); err != nil {
		p.log.Debug("message rejected", "type", msg.Type, "error", err)
		p.fail(err)
	}
}

func (p *Player) dispatch(ctx context.Context, typ string, payload json.RawMessage) error {
	switch typ {
	case MsgPing:
		p.send(MsgPong, nil)
		return nil

	case MsgVisibility:
		var pl VisibilityPayload
		if err := decodePayload(payload, &pl); err != nil {
			return err
		}
		select {
		case p.visibility <- pl.Visible:
		default:
			p.log.Warn("visibility signal dropped")
		}
		return nil

	case MsgInvite:
		peer, err := decodePeer(payload)
		if err != nil {
			return err
		}
		if err := p.invites.Send(ctx, peer); err != nil {
			return err
		}
		p.send(MsgInviteSent, PeerPayload{Participant: peer})
		return nil

	case MsgCancelInvite:
		peer, err := decodePeer(payload)
		if err != nil {
			return err
		}
		return p.invites.Cancel(ctx, peer)

	case MsgAccept:
		peer, err := decodePeer(payload)
		if err != nil {
			return err
		}
		if err := p.invites.Accept(ctx, peer); err != nil {
			return err
		}
		return p.enterDuel(ctx, peer)

	case MsgDecline:
		peer, err := decodePeer(payload)
		if err != nil {
			return err
		}
		return p.invites.Decline(ctx, peer)

	case MsgPlay:
		peer, err := decodePeer(payload)
		if err != nil {
			return err
		}
		if err := p.requireLive(ctx, peer); err != nil {
			return err
		}
		return p.enterDuel(ctx, peer)

	case MsgMove:
		var pl MovePayload
		if err := decodePayload(payload, &pl); err != nil {
			return err
		}
		choice, err := domain.ParseChoice(pl.Move)
		if err != nil {
			return err
		}
		d := p.current()
		if d == nil {
			return errNotInDuel
		}
		return d.Submit(ctx, choice)

	case MsgPlayAgain:
		d := p.current()
		if d == nil {
			return errNotInDuel
		}
		return d.PlayAgain(ctx)

	case MsgLeave:
		p.leaveDuel()
		return nil

	default:
		return fmt.Errorf("%w: %q", errUnknownMessage, typ)
	}
}

// requireLive rejects a direct challenge to a participant who is not live.
func (p *Player) requireLive(ctx context.Context, peer string) error {
	if err := domain.ValidateIdentity(peer); err != nil {
		return err
	}
	snap, err := p.hub.store.Get(ctx, domain.PlayerPath(peer))
	if err != nil {
		return fmt.Errorf("read opponent: %w", err)
	}
	rec, ok := snap.Value()
	if !ok || !rec.Bool(domain.FieldActive) {
		return errOpponentAway
	}
	return nil
}

// enterDuel opens the game view against opponent, leaving any other duel
// first. Re-entering a finished duel with the same opponent starts the
// next round.
func (p *Player) enterDuel(ctx context.Context, opponent string) error {
	p.duelMu.Lock()
	defer p.duelMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	cur := p.duel
	p.mu.Unlock()

	if cur != nil {
		if cur.Opponent() == opponent {
			switch cur.State() {
			case duel.StateResolved, duel.StateTornDown:
				return cur.PlayAgain(ctx)
			default:
				p.send(MsgDuelState, duelState(cur.View()))
				return nil
			}
		}
		cur.Close()
	}

	key := domain.CanonicalPairKey(p.self, opponent)
	d, err := p.hub.engine.Open(ctx, p.self, opponent, duel.Hooks{
		Changed: func(v duel.View) {
			p.send(MsgDuelState, duelState(v))
		},
		Resolved: func(r duel.Result) {
			p.send(MsgResult, resultPayload(r))
		},
		TornDown: func() {
			p.send(MsgDuelClosed, DuelClosedPayload{Key: key})
		},
	})
	if err != nil {
		p.mu.Lock()
		if p.duel == cur {
			p.duel = nil
		}
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		d.Close()
		return nil
	}
	p.duel = d
	p.mu.Unlock()
	return nil
}

func (p *Player) leaveDuel() {
	p.duelMu.Lock()
	defer p.duelMu.Unlock()

	p.mu.Lock()
	d := p.duel
	p.duel = nil
	p.mu.Unlock()

	if d != nil {
		d.Close()
		p.send(MsgDuelClosed, DuelClosedPayload{Key: d.Key()})
	}
}

func (p *Player) current() *duel.Duel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duel
}

// Terminate signals that the client is going away, so presence is
// withdrawn right away.
func (p *Player) Terminate() {
	p.termOnce.Do(func() { close(p.terminating) })
}

// Close releases everything the player holds. The participant ends up
// offline; an open session record is left for the opponent to resolve.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	d := p.duel
	p.duel = nil
	p.mu.Unlock()

	if d != nil {
		d.Close()
	}
	if p.invites != nil {
		p.invites.Close()
	}
	if p.stopDirectory != nil {
		p.stopDirectory()
	}
	if p.stopPresence != nil {
		p.stopPresence()
	}
}

func (p *Player) send(typ string, payload any) {
	p.client.send(Message{Type: typ, Payload: payload})
}

func (p *Player) fail(err error) {
	p.send(MsgError, ErrorPayload{Message: err.Error()})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func decodePeer(raw json.RawMessage) (string, error) {
	var pl PeerPayload
	if err := decodePayload(raw, &pl); err != nil {
		return "", err
	}
	if err := domain.ValidateIdentity(pl.Participant); err != nil {
		return "", err
	}
	return pl.Participant, nil
}
