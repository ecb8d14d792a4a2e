// Command mockstream runs a local websocket server that emits synthetic
// radar product notifications, one batch per interval. It stands in for the
// production feed during development, so the archiver can be exercised
// without touching the real platform.
//
// Usage:
//
//	go run ./cmd/mockstream -addr :9090 -products VMI,SRI -interval 5s
//
// Point the archiver at it with RADAR_WS_URL=ws://localhost:9090.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type notification struct {
	ProductType string `json:"productType"`
	Time        int64  `json:"time"`
	Period      string `json:"period"`
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	products := flag.String("products", "VMI,SRI,TEMP", "comma-separated product types to emit")
	interval := flag.Duration("interval", 5*time.Second, "delay between notification batches")
	flag.Parse()

	var types []string
	for _, p := range strings.Split(*products, ",") {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, strings.ToUpper(p))
		}
	}
	if len(types) == 0 {
		log.Fatal("-products must list at least one product type")
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, types, *interval)
	})

	log.Printf("mock stream listening on %s, emitting %v every %s", *addr, types, *interval)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func serve(w http.ResponseWriter, r *http.Request, types []string, interval time.Duration) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("client connected: %s", r.RemoteAddr)

	// Drain client frames (subscribe payload, pings) and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Printf("client disconnected: %s", r.RemoteAddr)
			return
		case now := <-ticker.C:
			// Products are published on a five-minute grid.
			instant := now.UTC().Truncate(5 * time.Minute)
			for _, productType := range types {
				payload, err := json.Marshal(notification{
					ProductType: productType,
					Time:        instant.UnixMilli(),
					Period:      "PT5M",
				})
				if err != nil {
					log.Printf("marshal notification: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.Printf("write failed, dropping client %s: %v", r.RemoteAddr, err)
					return
				}
			}
		}
	}
}
