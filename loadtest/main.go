package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	UserCount = 500 // ⚠️ Start small (50 pairs = 100 users). Database might choke on 1000 immediately.
	MsgCount  = 20  // Messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type ConversationResponse struct {
	ID int64 `json:"conversation_id"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", UserCount*2, MsgCount)
	var wg sync.WaitGroup

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	for i := 0; i < UserCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA, _ := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)

	if tokenA == "" || tokenB == "" {
		return // Failed auth
	}

	// User A starts conversation with User B
	convID := createConversation(tokenA, idB)
	if convID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamChat(&wsWg, tokenA, convID, userA)
	go spamChat(&wsWg, tokenB, convID, userB)

	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) (string, int64) {
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("❌ Login Failed [%s]: %v", username, err)
		return "", 0
	}

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	resp.Body.Close()
	return data.Token, data.ID
}

func createConversation(token string, targetID int64) int64 {
	body := map[string]int64{"target_id": targetID}
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil || resp.StatusCode != 200 {
		log.Printf("❌ Create Chat Failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data ConversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

func spamChat(wg *sync.WaitGroup, token string, convID int64, user string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, token), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", user, err)
		return
	}
	defer conn.Close()

	// Subscribe to the conversation room first
	sendEvent(conn, "chat:join", map[string]interface{}{"chat_id": convID})

	// Drain server frames so the connection is not evicted as a slow consumer
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		err := sendEvent(conn, "message:send", map[string]interface{}{
			"chat_id":   convID,
			"type":      "text",
			"text":      fmt.Sprintf("LoadTest Msg %d from %s", i, user),
			"client_id": fmt.Sprintf("%s-%d", user, i),
		})
		if err != nil {
			log.Printf("❌ Send Fail [%s]: %v", user, err)
			break
		}
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("✅ %s finished sending %d msgs", user, MsgCount)
}

func sendEvent(conn *websocket.Conn, event string, data interface{}) error {
	return conn.WriteJSON(map[string]interface{}{"event": event, "data": data})
}

func postJSON(endpoint string, data interface{}) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
