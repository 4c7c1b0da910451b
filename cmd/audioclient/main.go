package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 16kHz 16-bit mono = 32000 bytes/second, so 100ms chunks are 3200 bytes
const chunkIntervalMs = 100

type serverMessage struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Message  string `json:"message"`
	Snapshot struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Recording       bool    `json:"isRecording"`
		SilenceProgress float64 `json:"silenceProgress"`
	} `json:"snapshot"`
}

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16-bit mono PCM)")
	server := flag.String("server", "http://localhost:8080", "Service base URL")
	name := flag.String("name", "测试用户", "Interviewee name")
	email := flag.String("email", "test@example.com", "Interviewee email")
	wait := flag.Duration("wait", 20*time.Second, "How long to wait for the reply after streaming")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)
	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	chunkSize := int(sampleRate) * int(bitsPerSample/8) * int(numChannels) * chunkIntervalMs / 1000

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}
	body, _ := json.Marshal(map[string]string{"name": *name, "email": *email})
	resp, err := client.Post(*server+"/api/user-info", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to set user info: %v", err)
	}
	resp.Body.Close()

	base, err := url.Parse(*server)
	if err != nil {
		log.Fatalf("Bad server URL: %v", err)
	}
	wsURL := *base
	wsURL.Scheme = strings.Replace(base.Scheme, "http", "ws", 1)
	wsURL.Path = "/ws/conversation"

	dialer := websocket.Dialer{Jar: jar}
	conn, _, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", wsURL.String())

	writes := make(chan func() error, 16)
	go func() {
		for w := range writes {
			if err := w(); err != nil {
				log.Fatalf("Write failed: %v", err)
			}
		}
	}()
	sendJSON := func(v any) { writes <- func() error { return conn.WriteJSON(v) } }

	go func() {
		printed := 0
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v", err)
				return
			}
			if kind == websocket.BinaryMessage {
				log.Printf("Received %d bytes of reply audio", len(data))
				continue
			}
			var msg serverMessage
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			switch msg.Type {
			case "state":
				msgs := msg.Snapshot.Messages
				for _, m := range msgs[min(printed, len(msgs)):] {
					log.Printf("[%s] %s", m.Role, m.Content)
				}
				printed = len(msgs)
			case "playback.start":
				sendJSON(map[string]string{"type": "playback.ended", "id": msg.ID})
			case "error":
				log.Printf("Server error: %s", msg.Message)
			}
		}
	}()

	sendJSON(map[string]string{"type": "start"})

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()
	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
		chunkNum++
		totalBytes += int64(n)
		frame := append([]byte(nil), chunk[:n]...)
		writes <- func() error { return conn.WriteMessage(websocket.BinaryMessage, frame) }
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	// trailing silence lets the detector close the utterance
	time.Sleep(*wait)
	sendJSON(map[string]string{"type": "end"})
	time.Sleep(500 * time.Millisecond)
}
