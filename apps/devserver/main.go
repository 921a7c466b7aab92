// devserver is the development backend the example client and manual
// end-to-end testing run against. It plays every external collaborator
// the session library expects: the websocket transport, the
// membership/join/members REST endpoints, a login endpoint that mints
// tokens, and the typing-indicator TTL (kept in redis).
package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	addr := envOr("DEVSERVER_ADDR", ":8080")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	secret := []byte(envOr("JWT_SECRET", "dev_secret_key"))

	hub := NewHub(redisAddr)

	log.Printf("devserver listening on %s", addr)
	if err := http.ListenAndServe(addr, newRouter(hub, secret)); err != nil {
		log.Fatal(err)
	}
}

func newRouter(hub *Hub, secret []byte) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/login", LoginHandler(secret)).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(secret))
	api.HandleFunc("/rooms/{id}", hub.RoomHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/join", hub.JoinHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/members", hub.MembersHandler).Methods(http.MethodGet)

	r.HandleFunc("/chat/ws/{room}/", func(w http.ResponseWriter, req *http.Request) {
		hub.ServeWS(secret, w, req)
	})
	return r
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
