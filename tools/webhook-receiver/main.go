// webhook-receiver is a local sink for testing dispatch deliveries: it logs
// every incoming hook, verifies the HMAC signature when SECRET is set and
// counts duplicate request ids so replay suppression can be observed.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type request struct {
	Timestamp   string `json:"timestamp"`
	RequestID   string `json:"request_id"`
	AttemptID   string `json:"attempt_id"`
	SignatureOK *bool  `json:"signature_ok,omitempty"`
	Body        string `json:"body"`
}

type stats struct {
	Count        int64          `json:"count"`
	Duplicates   map[string]int `json:"duplicates,omitempty"`
	LastRequests []request      `json:"last_requests"`
	Since        string         `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	seen         map[string]int
	lastRequests []request
	since        time.Time
	maxStored    = 50
	secret       string
)

func main() {
	since = time.Now().UTC()
	seen = make(map[string]int)
	secret = os.Getenv("SECRET")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		seen = make(map[string]int)
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	requestID := r.Header.Get("X-Orchestrator-Request-ID")
	attemptID := r.Header.Get("X-Orchestrator-Attempt-ID")

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID,
		AttemptID: attemptID,
		Body:      string(body),
	}

	if secret != "" {
		ok := verify(secret, body, r.Header.Get("X-Orchestrator-Signature"))
		req.SignatureOK = &ok
		if !ok {
			log.Printf("hook request=%s: BAD SIGNATURE", requestID)
		}
	}

	mu.Lock()
	count++
	if requestID != "" {
		seen[requestID]++
		if seen[requestID] > 1 {
			log.Printf("hook request=%s: duplicate delivery #%d", requestID, seen[requestID])
		}
	}
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("hook received #%d request=%s attempt=%s: %s", current, requestID, attemptID, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	duplicates := make(map[string]int)
	for id, n := range seen {
		if n > 1 {
			duplicates[id] = n
		}
	}
	s := stats{
		Count:        count,
		Duplicates:   duplicates,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verify(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
