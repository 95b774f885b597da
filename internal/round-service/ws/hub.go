package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

// CallerHeader identifica o participante no upgrade; só ele assina o próprio tópico
const CallerHeader = "X-Participant-Id"

const (
	// tempo máximo para escrever uma mensagem no peer
	writeWait = 10 * time.Second
	// mensagens pendentes por conexão antes de derrubar o cliente lento
	sendBuffer = 64
)

// client é uma conexão com fila própria; só o writePump escreve no socket
type client struct {
	conn        *websocket.Conn
	participant string
	send        chan ServerMsg
	done        chan struct{}
	closeOnce   sync.Once
}

// Hub gerencia conexões WebSocket e as inscrições em resultados de rodada
// subs: mapeia tópico (AllRounds ou participantId) para o conjunto de clientes
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// ServeHTTP gerencia o ciclo de vida de uma conexão WebSocket
// Permite subscribe/unsubscribe em tópicos e responde a pings
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{
		conn:        conn,
		participant: r.Header.Get(CallerHeader),
		send:        make(chan ServerMsg, sendBuffer),
		done:        make(chan struct{}),
	}
	go h.writePump(c)
	defer h.drop(c)

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.Topic == "" {
				continue
			}
			if msg.Topic != AllRounds && msg.Topic != c.participant {
				h.enqueue(c, ServerMsg{Type: "error", Error: "only the own participant id can be subscribed"})
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.Topic]; !ok {
				h.subs[msg.Topic] = make(map[*client]struct{})
			}
			h.subs[msg.Topic][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.unsubscribe(msg.Topic, c)
		case "ping":
			h.enqueue(c, ServerMsg{Type: "pong"})
		}
	}
}

// writePump é o único escritor do socket; falha de escrita derruba o cliente
func (h *Hub) writePump(c *client) {
	defer h.drop(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// enqueue nunca bloqueia: fila cheia significa cliente que parou de ler
func (h *Hub) enqueue(c *client, msg ServerMsg) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

// drop remove o cliente de todas as assinaturas e fecha o socket
func (h *Hub) drop(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)
		h.mu.Lock()
		for topic, set := range h.subs {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
		h.mu.Unlock()
		_ = c.conn.Close()
	})
}

func (h *Hub) unsubscribe(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[topic]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, topic)
		}
	}
}

// PublishRoundClosed envia o resultado para os inscritos em AllRounds
// e o prêmio individual para quem assina o próprio participantId
func (h *Hub) PublishRoundClosed(_ context.Context, e events.RoundClosed) error {
	winner := e.Winner
	for _, c := range h.clients(AllRounds) {
		h.enqueue(c, ServerMsg{Type: "round_closed", Round: &e})
	}
	for i := range e.Payouts {
		p := e.Payouts[i]
		for _, c := range h.clients(p.ParticipantID) {
			h.enqueue(c, ServerMsg{Type: "payout", Payout: &p, Winner: &winner})
		}
	}
	return nil
}

// Subscribers retorna quantas conexões assinam topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) clients(topic string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.subs[topic]))
	for c := range h.subs[topic] {
		out = append(out, c)
	}
	return out
}
