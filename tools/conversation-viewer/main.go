// Conversation Viewer - live interview turns and summaries
// Consumes the interview topics from Kafka and pushes them to the browser
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

// Event is either an interview.turn or an interview.summary message.
type Event struct {
	EventType      string   `json:"eventType"`
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId,omitempty"`
	Role           string   `json:"role,omitempty"`
	Text           string   `json:"text,omitempty"`
	EndOfInterview bool     `json:"endOfInterview,omitempty"`
	LatencyMs      int64    `json:"latencyMs,omitempty"`
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	MessageCount   int      `json:"messageCount,omitempty"`
	Timestamp      int64    `json:"timestamp"`
}

// Hub fans events out to connected browsers.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected. Total: %d", n)
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client disconnected. Total: %d", n)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("Write error: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.add(conn)
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func consume(ctx context.Context, hub *Hub, brokers, topic string, since time.Duration) {
	// partition reader without a consumer group, so it works over port-forward
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("SetOffsetAt on %s: %v", topic, err)
	}
	log.Printf("Consuming from Kafka topic: %s partition 0 (last %s)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}
		text := ev.Text
		if text == "" {
			text = ev.Summary
		}
		log.Printf("Received %s [%s]: %s", ev.EventType, ev.ConversationID, truncate(text, 40))
		hub.broadcast(ev)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTurns := flag.String("topic-turns", "interview.turn", "Turn topic")
	topicSummaries := flag.String("topic-summaries", "interview.summary", "Summary topic")
	since := flag.Duration("since", time.Hour, "Replay window on startup")
	flag.Parse()

	hub := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consume(ctx, hub, *brokers, *topicTurns, *since)
	go consume(ctx, hub, *brokers, *topicSummaries, *since)

	http.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	http.HandleFunc("/ws", wsHandler(hub))

	log.Printf("Conversation Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicTurns, *topicSummaries)

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

const indexHTML = `<!doctype html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>Interview Viewer</title>
<style>
body { font-family: sans-serif; margin: 2em; background: #fafafa; }
.conv { background: #fff; border: 1px solid #ddd; border-radius: 6px; padding: 1em; margin-bottom: 1em; }
.conv h3 { margin: 0 0 .5em; font-size: .9em; color: #666; }
.user { color: #1a56db; }
.assistant { color: #057a55; }
.summary { white-space: pre-wrap; background: #f3f4f6; padding: .5em; }
.tag { display: inline-block; background: #e5e7eb; border-radius: 3px; padding: 0 .4em; margin-right: .3em; }
</style>
</head>
<body>
<h1>Interview Viewer</h1>
<div id="log"></div>
<script>
const log = document.getElementById("log");
const convs = {};
function box(id) {
  if (!convs[id]) {
    const d = document.createElement("div");
    d.className = "conv";
    const h = document.createElement("h3");
    h.textContent = id;
    d.appendChild(h);
    log.prepend(d);
    convs[id] = d;
  }
  return convs[id];
}
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (e) => {
  const ev = JSON.parse(e.data);
  const d = box(ev.conversationId);
  const p = document.createElement("div");
  if (ev.eventType === "interview.summary") {
    p.className = "summary";
    p.textContent = (ev.name || "") + " " + (ev.email || "") + "\n" + ev.summary;
    (ev.tags || []).forEach((t) => {
      const s = document.createElement("span");
      s.className = "tag";
      s.textContent = t;
      p.appendChild(s);
    });
  } else {
    p.className = ev.role;
    p.textContent = ev.role + ": " + ev.text + (ev.endOfInterview ? " [end]" : "");
  }
  d.appendChild(p);
};
</script>
</body>
</html>
`
