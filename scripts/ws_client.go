// Package main runs a demo websocket client: it starts an async plan over
// the stored locations and prints solver progress until the plan finishes.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type progressEvent struct {
	Type      string  `json:"type"`
	Worker    int     `json:"worker"`
	Round     int     `json:"round"`
	BestCost  float64 `json:"bestCost"`
	Dropped   int     `json:"dropped"`
	ElapsedMs int64   `json:"elapsedMs"`
	Status    string  `json:"status"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body := []byte(fmt.Sprintf(`{"planDate":%q,"timeBudgetMs":20000}`, time.Now().Format("2006-01-02")))
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/plans?async=true", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok := os.Getenv("TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("start plan: %v", err)
	}
	var started struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&started)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || started.ID == "" {
		log.Fatalf("start plan: status %d", resp.StatusCode)
	}
	log.Printf("plan %s %s", started.ID, started.Status)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plans/" + started.ID + "/ws"}
	if tok := os.Getenv("TOKEN"); tok != "" {
		u.RawQuery = url.Values{"access_token": {tok}}.Encode()
	}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for {
		var evt progressEvent
		if err := c.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Fatalf("read: %v", err)
		}
		switch evt.Type {
		case "plan.progress":
			log.Printf("worker=%d round=%d cost=%.1f dropped=%d elapsed=%dms", evt.Worker, evt.Round, evt.BestCost, evt.Dropped, evt.ElapsedMs)
		default:
			log.Printf("%s status=%s cost=%.1f dropped=%d", evt.Type, evt.Status, evt.BestCost, evt.Dropped)
		}
	}
}
