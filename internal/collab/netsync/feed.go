// Package netsync feeds entity spawns and despawns received over a
// websocket into a world. Messages are decoded on the connection goroutine
// and applied as deferred commands in the world's next serial phase.
package netsync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/system"
)

// Target is the part of a world the feed needs.
type Target interface {
	Defer(cmd func(system.Mutator) error)
	Types() *ecs.Types
}

type Ack struct {
	NetID uint64 `json:"net_id"`
	Error string `json:"error,omitempty"`
}

type Feed struct {
	target Target
	codec  *Codec
	log    log.Log
	keys   components.Keys

	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu       sync.RWMutex
	entities map[uint64]ecs.Entity

	conns    atomic.Int64
	received atomic.Uint64
	rejected atomic.Uint64
}

func NewFeed(target Target, codec *Codec, logger log.Log) (*Feed, error) {
	keys, err := components.Register(target.Types())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Feed{
		target:       target,
		codec:        codec,
		log:          logger.Named("netsync"),
		keys:         keys,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		writeTimeout: 5 * time.Second,
		entities:     make(map[uint64]ecs.Entity),
	}, nil
}

// Entity resolves a network id to the local entity, once its spawn applied.
func (f *Feed) Entity(netID uint64) (ecs.Entity, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entities[netID]
	return e, ok
}

type FeedStats struct {
	Connections int64
	Received    uint64
	Rejected    uint64
	Entities    int
}

func (f *Feed) Stats() FeedStats {
	f.mu.RLock()
	n := len(f.entities)
	f.mu.RUnlock()
	return FeedStats{
		Connections: f.conns.Load(),
		Received:    f.received.Load(),
		Rejected:    f.rejected.Load(),
		Entities:    n,
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
		return
	}
	f.conns.Add(1)
	f.log.Info("feed connected", log.String("remote", conn.RemoteAddr().String()))
	defer func() {
		f.conns.Add(-1)
		_ = conn.Close()
		f.log.Info("feed disconnected", log.String("remote", conn.RemoteAddr().String()))
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.Debug("feed read ended", log.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		f.received.Add(1)
		ack := f.handle(data)
		if ack.Error != "" {
			f.rejected.Add(1)
		}
		if err = f.reply(conn, ack); err != nil {
			f.log.Debug("feed write failed", log.Error(err))
			return
		}
	}
}

// handle validates data and queues it. The ack only confirms queuing.
func (f *Feed) handle(data []byte) Ack {
	msg, err := f.codec.Decode(data)
	if err != nil {
		return Ack{Error: err.Error()}
	}
	switch msg.Op {
	case OpSpawn:
		parts, err := f.codec.Parts(msg)
		if err != nil {
			return Ack{NetID: msg.NetID, Error: err.Error()}
		}
		f.target.Defer(f.spawn(msg, parts))
	case OpDespawn:
		f.target.Defer(f.despawn(msg.NetID))
	}
	return Ack{NetID: msg.NetID}
}

func (f *Feed) reply(conn *websocket.Conn, ack Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(f.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (f *Feed) spawn(msg Message, parts []Part) func(system.Mutator) error {
	return func(m system.Mutator) error {
		f.mu.RLock()
		_, exists := f.entities[msg.NetID]
		f.mu.RUnlock()
		if exists {
			return fmt.Errorf("spawn net id %d: already spawned", msg.NetID)
		}

		e, err := m.CreateEntity()
		if err != nil {
			return err
		}
		if _, err = m.AddComponent(e, f.keys.NetworkIdentity, &components.NetworkIdentity{NetID: msg.NetID, Owner: msg.Owner}); err != nil {
			_ = m.DestroyEntity(e)
			return err
		}
		for _, p := range parts {
			if p.Kind == f.keys.NetworkIdentity {
				continue
			}
			if _, err = m.AddComponent(e, p.Kind, p.Value); err != nil {
				_ = m.DestroyEntity(e)
				return fmt.Errorf("spawn net id %d: %w", msg.NetID, err)
			}
		}
		f.mu.Lock()
		f.entities[msg.NetID] = e
		f.mu.Unlock()
		return nil
	}
}

func (f *Feed) despawn(netID uint64) func(system.Mutator) error {
	return func(m system.Mutator) error {
		f.mu.Lock()
		e, ok := f.entities[netID]
		delete(f.entities, netID)
		f.mu.Unlock()
		if !ok {
			return fmt.Errorf("despawn net id %d: unknown", netID)
		}
		return m.DestroyEntity(e)
	}
}
