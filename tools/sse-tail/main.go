package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type streamEvent struct {
	RunID     string `json:"run_id"`
	OrderID   string `json:"order_id"`
	Message   string `json:"message"`
	Outcome   string `json:"outcome,omitempty"`
	CreatedAt string `json:"created_at"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: sse-tail <stream-url> [token]")
		fmt.Fprintln(os.Stderr, "  e.g. sse-tail http://localhost:8080/orders/<id>/warranty/stream tok_abc")
		os.Exit(2)
	}
	url := os.Args[1]

	token := os.Getenv("TOKEN")
	if len(os.Args) > 2 {
		token = os.Args[2]
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("bad url: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "text/event-stream")

	client := &http.Client{} // no timeout, the stream stays open
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Fatalf("server returned %s", resp.Status)
	}

	log.Printf("connected to %s", url)

	var name string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ": "):
			log.Printf("(%s)", strings.TrimPrefix(line, ": "))
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			printEvent(name, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stream closed: %v", err)
	}
	log.Print("stream ended")
}

func printEvent(name, payload string) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("%s: %s", name, payload)
		return
	}

	ts := ev.CreatedAt
	if t, err := time.Parse(time.RFC3339, ev.CreatedAt); err == nil {
		ts = t.Local().Format("15:04:05")
	}

	if ev.Outcome != "" {
		log.Printf("[%s] %s: %s (outcome=%s)", ts, name, ev.Message, ev.Outcome)
		return
	}
	log.Printf("[%s] %s: %s", ts, name, ev.Message)
}
