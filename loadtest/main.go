package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type loginResponse struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type serverEvent struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
}

type stats struct {
	connected atomic.Int64
	sent      atomic.Int64
	echoed    atomic.Int64
	acked     atomic.Int64
	failed    atomic.Int64
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base URL")
	users := flag.Int("users", 100, "publishers to simulate") // ⚠️ Start small. bcrypt on /register dominates setup.
	msgs := flag.Int("msgs", 20, "messages per publisher")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	log.Info("🔥 STARTING STRESS TEST", "users", *users, "messages", *msgs)

	var (
		st    stats
		wg    sync.WaitGroup
		start = time.Now()
	)
	runID := uuid.NewString()[:6]
	for i := 0; i < *users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runPublisher(log, *baseURL, fmt.Sprintf("lt_%s_%d", runID, i), *msgs, &st)
		}(i)
	}
	wg.Wait()

	log.Info("✅ LOAD TEST COMPLETE",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"connected", st.connected.Load(),
		"sent", st.sent.Load(),
		"echoed", st.echoed.Load(),
		"acked", st.acked.Load(),
		"failed", st.failed.Load(),
	)
}

// runPublisher registers a publisher, joins its support room and sends
// messages, counting the echo and the ack of each.
func runPublisher(log *slog.Logger, baseURL, username string, msgs int, st *stats) {
	token, id, err := authenticate(baseURL, username, "password123")
	if err != nil {
		log.Error("❌ Auth Failed", "user", username, "error", err)
		st.failed.Add(1)
		return
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") +
		fmt.Sprintf("/ws/chat/support/publisher_%d?token=%s", id, url.QueryEscape(token))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error("❌ WS Connect Fail", "user", username, "error", err)
		st.failed.Add(1)
		return
	}
	defer conn.Close()
	st.connected.Add(1)

	// Every message produces one echo and one ack.
	expected := 2 * msgs
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := 0
		for seen < expected+1 { // plus the history event
			_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			var ev serverEvent
			if err := conn.ReadJSON(&ev); err != nil {
				log.Warn("read stopped", "user", username, "error", err)
				return
			}
			seen++
			switch {
			case ev.Type == "message":
				st.echoed.Add(1)
			case ev.Type == "ack" && ev.Status == "ok":
				st.acked.Add(1)
			case ev.Type == "ack":
				st.failed.Add(1)
			}
		}
	}()

	for i := 0; i < msgs; i++ {
		msg := map[string]string{
			"type":    "message",
			"message": fmt.Sprintf("LoadTest Msg %d from %s", i, username),
			"ref":     uuid.NewString(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Error("❌ Send Fail", "user", username, "error", err)
			break
		}
		st.sent.Add(1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	<-done
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(baseURL, username, password string) (string, int64, error) {
	resp, err := postJSON(baseURL+"/register", map[string]string{
		"username": username,
		"password": password,
		"role":     "publisher",
	})
	if err == nil {
		resp.Body.Close()
	}

	resp, err = postJSON(baseURL+"/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("login returned %s", resp.Status)
	}

	var data loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", 0, err
	}
	return data.Token, data.ID, nil
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(endpoint, "application/json", bytes.NewBuffer(jsonData))
}
