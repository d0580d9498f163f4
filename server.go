package main

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize           = 320 // mobile-friendly size
	topAccountsLimit = 10
)

var uuidPathRe = regexp.MustCompile(`^/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetupRoutes configures HTTP routes. Static files are only served when
// clientDir is set.
func SetupRoutes(hub *Hub, clientDir string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			// SPA: serve index.html for root and session paths
			if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
				http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		}))
	}

	mux.HandleFunc("GET /qr/{sid}", func(w http.ResponseWriter, r *http.Request) {
		sid := r.PathValue("sid")
		if hub.sessions.GetSession(sid) == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		png, err := qrcode.Encode(inviteURL(r, hub.opts.PublicURL, sid), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(png)
	})

	// All-time standings from the stats store
	mux.HandleFunc("GET /leaderboard", func(w http.ResponseWriter, r *http.Request) {
		if hub.db == nil {
			http.NotFound(w, r)
			return
		}
		rows, err := hub.db.TopByTimeIt(topAccountsLimit)
		if err != nil {
			log.Printf("leaderboard query: %v", err)
			http.Error(w, "leaderboard unavailable", http.StatusInternalServerError)
			return
		}
		out := make([]AccountStanding, 0, len(rows))
		for _, row := range rows {
			out = append(out, AccountStanding{
				Username:    row.Username,
				TotalTags:   row.TotalTags,
				TotalTimeIt: row.TotalTimeIt,
				LongestHold: row.LongestHold,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			log.Printf("leaderboard encode: %v", err)
		}
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		identity, err := hub.auth.Authenticate(r, ip)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errRateLimited) {
				status = http.StatusTooManyRequests
			}
			http.Error(w, err.Error(), status)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade error: %v", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip, ParseCodec(r.URL.Query().Get("codec")), identity)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}

// inviteURL is the address a scanned QR code opens
func inviteURL(r *http.Request, publicURL, sid string) string {
	if publicURL != "" {
		return strings.TrimSuffix(publicURL, "/") + "/" + sid
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/" + sid
}
