package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

type snapshot struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Processing bool   `json:"isProcessing"`
	Error      string `json:"error"`
}

type serverMessage struct {
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Message string   `json:"message"`
	State   snapshot `json:"snapshot"`
}

// Text-only interview over the conversation socket. Each stdin line is sent
// as a user message; playback is acknowledged immediately.
func main() {
	server := flag.String("server", "http://localhost:8080", "Service base URL")
	name := flag.String("name", "测试用户", "Interviewee name")
	email := flag.String("email", "test@example.com", "Interviewee email")
	flag.Parse()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	body, _ := json.Marshal(map[string]string{"name": *name, "email": *email})
	resp, err := client.Post(*server+"/api/user-info", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("failed to set user info: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("user info rejected: %s", resp.Status)
	}

	base, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("bad server URL: %v", err)
	}
	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws/conversation"

	dialer := websocket.Dialer{Jar: jar}
	conn, _, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("Connected to server, type a message and press enter")

	writeLock := make(chan struct{}, 1)
	send := func(v any) {
		writeLock <- struct{}{}
		defer func() { <-writeLock }()
		if err := conn.WriteJSON(v); err != nil {
			log.Fatalf("failed to send: %v", err)
		}
	}

	go func() {
		printed := 0
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("connection closed: %v", err)
			}
			if kind == websocket.BinaryMessage {
				continue
			}
			var msg serverMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "state":
				for _, m := range msg.State.Messages[min(printed, len(msg.State.Messages)):] {
					fmt.Printf("[%s] %s\n", m.Role, m.Content)
				}
				printed = len(msg.State.Messages)
				if msg.State.Error != "" {
					fmt.Printf("[error] %s\n", msg.State.Error)
				}
			case "playback.start":
				send(map[string]string{"type": "playback.ended", "id": msg.ID})
			case "error":
				fmt.Printf("[error] %s\n", msg.Message)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/end":
			send(map[string]string{"type": "end"})
		default:
			send(map[string]string{"type": "text", "text": line})
		}
	}
}
