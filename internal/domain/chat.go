package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Roles soportados para mensajes de chat.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Tipos de contenido soportados dentro de un mensaje.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
	ContentTypeAudio    = "audio"
	ContentTypeFile     = "file"
)

var ErrEmptyContent = errors.New("empty message content")

// ChatSession agrupa los mensajes de una conversación. Puede ser anónima
// (UserID vacío) y su UpdatedAt nunca precede al CreatedAt de sus mensajes.
type ChatSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage es inmutable una vez persistido; el orden dentro de una sesión
// lo da CreatedAt con desempate por orden de inserción.
type ChatMessage struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      string         `json:"role"`
	Content   MessageContent `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// ContentItem es una unión etiquetada sobre los tipos de contenido.
type ContentItem struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	URL  string         `json:"url,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// MessageContent es la secuencia ordenada de items de un mensaje. Acepta en
// JSON un string plano, un item suelto o un arreglo de items.
type MessageContent []ContentItem

func TextContent(text string) MessageContent {
	return MessageContent{{Type: ContentTypeText, Text: text}}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*c = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '{':
		var item ContentItem
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		*c = MessageContent{item}
		return nil
	case '[':
		var items []ContentItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*c = MessageContent(items)
		return nil
	}
	return errors.New("message content must be string, object or array")
}

// IsEmpty reporta si el contenido no aporta ningún item con datos.
func (c MessageContent) IsEmpty() bool {
	for _, item := range c {
		if strings.TrimSpace(item.Text) != "" || strings.TrimSpace(item.URL) != "" || len(item.Meta) > 0 {
			return false
		}
	}
	return true
}

// PlainText concatena los items de texto para armar el prompt del modelo.
func (c MessageContent) PlainText() string {
	var parts []string
	for _, item := range c {
		if item.Type == ContentTypeText && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CachedTurn es la proyección rol+contenido de un mensaje que vive en la
// cache de contexto. Puede existir antes de que el mensaje esté persistido.
type CachedTurn struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

func (m ChatMessage) AsCachedTurn() CachedTurn {
	return CachedTurn{Role: m.Role, Content: m.Content}
}
