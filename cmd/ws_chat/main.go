// ws_chat es un cliente de terminal para probar el relay de punta a punta:
// marca el websocket, manda un mensaje por turno e imprime los tokens a
// medida que llegan.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

type inboundEnvelope struct {
	Type    string `json:"type"`
	Model   string `json:"model"`
	Message struct {
		ChatID  string `json:"chat_id"`
		Content string `json:"content"`
	} `json:"message"`
}

type frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "localhost:8080", "direccion del servidor")
	model := flag.String("model", "gpt-4", "modelo a usar")
	token := flag.String("token", os.Getenv("CHAT_ACCESS_TOKEN"), "access token")
	chatID := flag.String("chat", "", "chat id existente (vacio crea uno nuevo)")
	flag.Parse()

	if *token == "" {
		log.Fatal("se necesita un access token (-token o CHAT_ACCESS_TOKEN)")
	}
	if *chatID == "" {
		*chatID = uuid.NewString()
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "token=" + url.QueryEscape(*token)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Printf("conectado a %s (chat %s)\n", *addr, *chatID)
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || line == "exit" {
			return
		}

		var env inboundEnvelope
		env.Type = "message"
		env.Model = *model
		env.Message.ChatID = *chatID
		env.Message.Content = line

		if err := conn.WriteJSON(env); err != nil {
			log.Fatalf("write: %v", err)
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Fatalf("read: %v", err)
			}
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			if f.Type == "end" {
				fmt.Println()
				break
			}
			fmt.Print(f.Content)
		}
	}
}
