// Command ws_smoke plays one duel against a running server: two
// participants join, one invites the other, and both submit a move.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type ticket struct {
	Participant string `json:"participant"`
	Score       int64  `json:"score"`
	Token       string `json:"token"`
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	host := flag.String("host", "127.0.0.1:"+port, "server address")
	nameA := flag.String("a", "smokeA", "first participant")
	nameB := flag.String("b", "smokeB", "second participant")
	flag.Parse()

	ta := join(*host, *nameA)
	tb := join(*host, *nameB)

	connA := dial(*host, ta.Token)
	defer connA.Close()
	connB := dial(*host, tb.Token)
	defer connB.Close()

	waitFor(connA, "ready")
	waitFor(connB, "ready")

	send(connA, "invite", map[string]string{"participant": tb.Participant})
	waitFor(connB, "invite_received")
	send(connB, "accept", map[string]string{"participant": ta.Participant})

	waitFor(connA, "duel_state")
	waitFor(connB, "duel_state")

	send(connA, "move", map[string]string{"move": "rock"})
	send(connB, "move", map[string]string{"move": "scissors"})

	log.Printf("A got: %s", waitFor(connA, "result"))
	log.Printf("B got: %s", waitFor(connB, "result"))

	log.Println("smoke test finished")
}

func join(host, name string) ticket {
	body, _ := json.Marshal(map[string]string{"username": name})
	res, err := http.Post("http://"+host+"/api/v1/join", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("join %s: %v", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		log.Fatalf("join %s: status %d", name, res.StatusCode)
	}

	var t ticket
	if err := json.NewDecoder(res.Body).Decode(&t); err != nil {
		log.Fatalf("decode ticket: %v", err)
	}
	return t
}

func dial(host, token string) *websocket.Conn {
	u := fmt.Sprintf("ws://%s/ws?token=%s", host, url.QueryEscape(token))
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	return conn
}

func send(conn *websocket.Conn, typ string, payload any) {
	msg, _ := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Fatalf("write %s: %v", typ, err)
	}
}

// waitFor skips frames until one of type typ arrives and returns its payload.
func waitFor(conn *websocket.Conn, typ string) string {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("waiting for %s: %v", typ, err)
		}
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			continue
		}
		if f.Type == "error" {
			log.Fatalf("server error while waiting for %s: %s", typ, f.Payload)
		}
		if f.Type == typ {
			return string(f.Payload)
		}
	}
	log.Fatalf("timed out waiting for %s", typ)
	return ""
}
