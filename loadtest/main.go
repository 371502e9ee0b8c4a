// Loadtest drives the peer-message pipeline end to end: register pairs of
// users, open websockets and exchange bursts of messages, exercising the
// immediate push path and the batched flush path at the same time.
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
	PairCount = 50 // pairs of users talking to each other
	MsgCount  = 60 // messages per user, enough to cross MAX_BATCH_SIZE
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type ChatResponse struct {
	ChatID int64 `json:"chat_id"`
}

func main() {
	log.Printf("Starting load test: %d users, %d messages each", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("Load test complete")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	authA := authenticate(userA, pass)
	authB := authenticate(userB, pass)
	if authA == nil || authB == nil {
		return
	}

	chatID := createChat(authA.Token, authB.ID)
	if chatID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, authA, authB.ID, chatID)
	go spamChat(&wsWg, authB, authA.ID, chatID)
	wsWg.Wait()
}

// authenticate registers (ignoring conflicts from previous runs) and logs in.
func authenticate(username, password string) *AuthResponse {
	postJSON("/register", map[string]string{"username": username, "password": password})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil || data.Token == "" {
		log.Printf("login decode failed [%s]: %v", username, err)
		return nil
	}
	return &data
}

func createChat(token string, peerID int64) int64 {
	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/peer-chat/%d", BaseURL, peerID), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	// 201 on first contact, 200 when the chat survives from a previous run.
	if err != nil || (resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK) {
		log.Printf("create chat failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var data ChatResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ChatID
}

func spamChat(wg *sync.WaitGroup, auth *AuthResponse, peerID, chatID int64) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", WSURL, auth.Token), nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", auth.Username, err)
		return
	}
	defer conn.Close()

	// Drain inbound pushes so the server's write pump never stalls on us.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		frame := map[string]any{
			"event": "sendMessage",
			"data": map[string]any{
				"message":    fmt.Sprintf("loadtest msg %d from %s", i, auth.Username),
				"receiverId": peerID,
				"chatId":     chatID,
			},
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("send failed [%s]: %v", auth.Username, err)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("%s finished sending %d msgs", auth.Username, MsgCount)
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
