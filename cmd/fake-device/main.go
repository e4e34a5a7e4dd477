// ABOUTME: Minimal fake device for local testing — serves the device HTTP API.
// ABOUTME: Usage: fake-device [-addr localhost:8090] [-name "Bench Unit"]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:8090", "listen address")
	name := flag.String("name", "Fake Device", "device display name")
	firmware := flag.String("firmware", "1.0.0", "reported firmware version")
	flag.Parse()

	if err := run(*addr, *name, *firmware); err != nil {
		log.Fatal(err)
	}
}

// state is the simulated radio state behind the HTTP API.
type state struct {
	mu          sync.Mutex
	name        string
	firmware    string
	frequencyHz float64
}

func run(addr, name, firmware string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	st := &state{name: name, firmware: firmware, frequencyHz: 433e6}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ping", st.handlePing)
	mux.HandleFunc("/api/command", st.handleCommand)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "%s listening on %s (firmware %s)\n", name, addr, firmware)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *state) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "pong")
}

func (s *state) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Command string         `json:"command"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("command [%s]: %v", req.Command, req.Payload)

	var resp map[string]any
	switch req.Command {
	case "set_frequency":
		hz, ok := req.Payload["frequency_hz"].(float64)
		if !ok {
			resp = map[string]any{"status": "error", "error": "frequency_hz required"}
			break
		}
		s.frequencyHz = hz
		resp = map[string]any{"status": "ok", "frequency_hz": hz}
	case "get_rssi":
		// Jittered plausible signal strength.
		resp = map[string]any{"status": "ok", "rssi": -50 - rand.Intn(40)}
	case "ota_update":
		// Pretend the flash takes a moment, then report a bumped version.
		time.Sleep(100 * time.Millisecond)
		s.firmware = s.firmware + "+ota"
		resp = map[string]any{"status": "ok", "new_version": s.firmware}
	case "get_info":
		resp = map[string]any{
			"status":       "ok",
			"name":         s.name,
			"firmware":     s.firmware,
			"frequency_hz": s.frequencyHz,
		}
	default:
		resp = map[string]any{"status": "unknown_command"}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
