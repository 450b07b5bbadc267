// Command webhook-receiver is a local sink for the formrelay HTTP channels.
// It records every delivery and can be told to fail so retries, circuit
// breaking and event history can be exercised end to end.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const maxStored = 100

type delivery struct {
	ReceivedAt string            `json:"receivedAt"`
	Channel    string            `json:"channel"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Raw        string            `json:"raw,omitempty"`
}

type receiver struct {
	mu         sync.Mutex
	deliveries []delivery
	counts     map[string]int
	failStatus int
	since      time.Time
}

func newReceiver(failStatus int) *receiver {
	return &receiver{
		counts:     make(map[string]int),
		failStatus: failStatus,
		since:      time.Now().UTC(),
	}
}

func main() {
	addr := ":9090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	failStatus := 0
	if v := os.Getenv("FAIL_STATUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > 599 {
			log.Fatalf("webhook-receiver: invalid FAIL_STATUS %q", v)
		}
		failStatus = n
	}

	r := newReceiver(failStatus)

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", r.record("webhook"))
	mux.HandleFunc("/chat", r.record("chat-webhook"))
	mux.HandleFunc("/automation", r.record("automation-webhook"))
	mux.HandleFunc("/deliveries", r.list)
	mux.HandleFunc("/fail", r.setFailure)
	mux.HandleFunc("/reset", r.reset)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	log.Printf("webhook-receiver: listening on %s (fail status %d)", addr, failStatus)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (r *receiver) record(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		defer req.Body.Close()

		headers := make(map[string]string, len(req.Header))
		for k, v := range req.Header {
			if len(v) > 0 {
				headers[k] = v[0]
			}
		}

		d := delivery{
			ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
			Channel:    channel,
			Method:     req.Method,
			Headers:    headers,
		}
		if json.Valid(body) {
			d.Payload = body
		} else {
			d.Raw = string(body)
		}

		r.mu.Lock()
		r.deliveries = append(r.deliveries, d)
		if len(r.deliveries) > maxStored {
			r.deliveries = r.deliveries[len(r.deliveries)-maxStored:]
		}
		r.counts[channel]++
		n := r.counts[channel]
		fail := r.failStatus
		r.mu.Unlock()

		log.Printf("webhook-receiver: %s delivery #%d (%d bytes)", channel, n, len(body))
		if fail != 0 {
			http.Error(w, "configured failure", fail)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"received":%d}`, n)
	}
}

func (r *receiver) list(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	out := struct {
		Since      string         `json:"since"`
		Counts     map[string]int `json:"counts"`
		Deliveries []delivery     `json:"deliveries"`
	}{
		Since:      r.since.Format(time.RFC3339),
		Counts:     r.counts,
		Deliveries: r.deliveries,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
	r.mu.Unlock()
}

// setFailure changes the failure status at runtime: /fail?status=503, or
// /fail?status=0 to succeed again.
func (r *receiver) setFailure(w http.ResponseWriter, req *http.Request) {
	n, err := strconv.Atoi(req.URL.Query().Get("status"))
	if err != nil || (n != 0 && (n < 100 || n > 599)) {
		http.Error(w, "status must be 0 or an HTTP status code", http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.failStatus = n
	r.mu.Unlock()
	fmt.Fprintf(w, "fail status %d\n", n)
}

func (r *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	r.deliveries = nil
	r.counts = make(map[string]int)
	r.since = time.Now().UTC()
	r.mu.Unlock()
	fmt.Fprintln(w, "reset")
}
