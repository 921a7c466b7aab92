// Interactive terminal client for the chat session library, pointed at
// the devserver. Commands: /reply <id> <text>, /unsend <id>, /members,
// /more, /typing, /quit.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kritsw/chat-session/pkg/auth"
	"github.com/kritsw/chat-session/pkg/conn"
	"github.com/kritsw/chat-session/pkg/model"
	"github.com/kritsw/chat-session/pkg/rest"
	"github.com/kritsw/chat-session/pkg/session"
	"github.com/kritsw/chat-session/pkg/store"
)

type loginResponse struct {
	Token string `json:"token"`
}

func login(apiBase, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiBase+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", err
	}
	return lr.Token, nil
}

func main() {
	_ = godotenv.Load()

	serverAddr := flag.String("addr", "localhost:8080", "devserver address")
	userID := flag.String("user", "user1", "user id")
	roomID := flag.String("room", "general", "room id")
	flag.Parse()

	log.Printf("logging in as %s...", *userID)
	token, err := login("http://"+*serverAddr, *userID)
	if err != nil {
		log.Fatal("login failed: ", err)
	}

	tokens := auth.StaticTokens{auth.TokenKindAccess: token}
	st := store.New(*roomID)
	printer := newPrinter(*userID)
	st.OnChange(printer.render)

	cm := conn.New(conn.Config{
		BaseURL: "ws://" + *serverAddr,
		Tokens:  tokens,
		Store:   st,
	})
	cm.OnState(func(s conn.State) {
		if s.LastError != nil {
			fmt.Printf("\r[%s: %v]\n> ", s.Phase, s.LastError)
		}
	})
	cm.OnTyping(func(a model.Author) {
		if a.ID != *userID {
			fmt.Printf("\r[%s is typing...]\n> ", a.DisplayName())
		}
	})

	sess := session.New(session.Config{
		RoomID: *roomID,
		User:   model.Author{ID: *userID, Username: *userID},
		Rest:   rest.New("http://"+*serverAddr, tokens),
		Conn:   cm,
		Store:  st,
	})
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		if !errors.Is(err, session.ErrNotMember) {
			log.Fatal("start session: ", err)
		}
		log.Printf("not a member of %s yet, joining...", *roomID)
		if err := sess.Join(ctx); err != nil {
			log.Fatal("join room: ", err)
		}
	}
	if err := sess.EnsureMembers(ctx); err != nil {
		log.Printf("load members: %v", err)
	}
	log.Printf("connected to room %s", *roomID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			if !handleLine(sess, scanner.Text()) {
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	}
}

// handleLine returns false when the client should exit.
func handleLine(sess *session.Session, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/typing":
		sess.NotifyTyping()
	case line == "/members":
		printMembers(sess)
	case line == "/more":
		page := sess.Members().Page + 1
		if err := sess.LoadMembers(context.Background(), page, true); err != nil {
			fmt.Printf("load members: %v\n", err)
		}
		printMembers(sess)
	case strings.HasPrefix(line, "/unsend "):
		if !sess.Unsend(strings.TrimSpace(strings.TrimPrefix(line, "/unsend "))) {
			fmt.Println("unsend not delivered")
		}
	case strings.HasPrefix(line, "/reply "):
		rest := strings.TrimPrefix(line, "/reply ")
		targetID, body, ok := strings.Cut(rest, " ")
		if !ok || !sess.SendReply(targetID, body) {
			fmt.Println("reply not sent")
		}
	default:
		if suggestions, active := sess.SuggestMentions(line); active {
			for _, s := range suggestions {
				fmt.Printf("  @%s (%s)\n", s.Member.Username, s.Member.FirstName)
			}
		}
		if !sess.SendText(line) {
			fmt.Println("message not sent")
		}
	}
	return true
}

func printMembers(sess *session.Session) {
	page := sess.Members()
	fmt.Printf("members (%d total, more=%v):\n", page.Total, page.HasMore)
	for _, m := range page.Items {
		fmt.Printf("  %s\n", m.Username)
	}
}

// printer renders store snapshots incrementally: new rows are printed
// once, tombstoned rows are announced once.
type printer struct {
	self    string
	seen    map[string]bool
	deleted map[string]bool
}

func newPrinter(self string) *printer {
	return &printer{self: self, seen: make(map[string]bool), deleted: make(map[string]bool)}
}

func (p *printer) render(msgs []model.Message) {
	for _, m := range msgs {
		if m.Deleted && p.seen[m.ID] && !p.deleted[m.ID] {
			p.deleted[m.ID] = true
			fmt.Printf("\r[%s removed a message]\n> ", m.Author.DisplayName())
			continue
		}
		if p.seen[m.ID] || m.Deleted {
			continue
		}
		p.seen[m.ID] = true
		switch m.Kind {
		case model.KindJoin:
			fmt.Printf("\r* %s joined\n> ", m.Author.DisplayName())
		case model.KindLeave:
			fmt.Printf("\r* %s left\n> ", m.Author.DisplayName())
		case model.KindFile:
			if m.Attachment != nil {
				fmt.Printf("\r%s [%s] sent %s\n> ", m.Author.DisplayName(), m.ID, m.Attachment.URL)
			} else {
				fmt.Printf("\r%s [%s] sent a file\n> ", m.Author.DisplayName(), m.ID)
			}
		case model.KindSticker:
			fmt.Printf("\r%s [%s] sent sticker %s\n> ", m.Author.DisplayName(), m.ID, m.StickerRef)
		default:
			marker := ""
			if m.Optimistic {
				marker = " (sending)"
			}
			if m.ReplyTarget != nil {
				fmt.Printf("\r%s [%s] replied to %s: %s%s\n> ", m.Author.DisplayName(), m.ID, m.ReplyTarget.ID, m.Body, marker)
			} else {
				fmt.Printf("\r%s [%s]: %s%s\n> ", m.Author.DisplayName(), m.ID, m.Body, marker)
			}
		}
	}
}
