package domain

import (
	"encoding/json"
	"testing"
)

func TestMessageContentUnmarshal(t *testing.T) {
	t.Run("string plano se convierte en item de texto", func(t *testing.T) {
		var c MessageContent
		if err := json.Unmarshal([]byte(`"hola mundo"`), &c); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if len(c) != 1 || c[0].Type != ContentTypeText || c[0].Text != "hola mundo" {
			t.Fatalf("unexpected content: %+v", c)
		}
	})

	t.Run("objeto suelto se envuelve en secuencia", func(t *testing.T) {
		var c MessageContent
		raw := `{"type":"image_url","url":"https://example.com/a.png"}`
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if len(c) != 1 || c[0].Type != ContentTypeImageURL || c[0].URL == "" {
			t.Fatalf("unexpected content: %+v", c)
		}
	})

	t.Run("arreglo conserva el orden", func(t *testing.T) {
		var c MessageContent
		raw := `[{"type":"text","text":"mira"},{"type":"image_url","url":"https://example.com/a.png"}]`
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if len(c) != 2 || c[0].Text != "mira" || c[1].Type != ContentTypeImageURL {
			t.Fatalf("unexpected content: %+v", c)
		}
	})

	t.Run("null queda vacio", func(t *testing.T) {
		var c MessageContent
		if err := json.Unmarshal([]byte(`null`), &c); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if !c.IsEmpty() {
			t.Fatalf("expected empty content, got %+v", c)
		}
	})

	t.Run("escalar no soportado falla", func(t *testing.T) {
		var c MessageContent
		if err := json.Unmarshal([]byte(`42`), &c); err == nil {
			t.Fatal("expected error for numeric content")
		}
	})
}

func TestMessageContentIsEmpty(t *testing.T) {
	cases := []struct {
		name    string
		content MessageContent
		want    bool
	}{
		{"nil", nil, true},
		{"texto en blanco", MessageContent{{Type: ContentTypeText, Text: "   "}}, true},
		{"texto real", TextContent("hola"), false},
		{"solo url", MessageContent{{Type: ContentTypeImageURL, URL: "https://example.com/a.png"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.content.IsEmpty(); got != tc.want {
				t.Fatalf("IsEmpty() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessageContentPlainText(t *testing.T) {
	c := MessageContent{
		{Type: ContentTypeText, Text: "primera"},
		{Type: ContentTypeImageURL, URL: "https://example.com/a.png"},
		{Type: ContentTypeText, Text: "segunda"},
	}
	if got := c.PlainText(); got != "primera\nsegunda" {
		t.Fatalf("unexpected plain text: %q", got)
	}
}

func TestAsCachedTurn(t *testing.T) {
	msg := ChatMessage{Role: RoleAssistant, Content: TextContent("respuesta")}
	turn := msg.AsCachedTurn()
	if turn.Role != RoleAssistant || turn.Content.PlainText() != "respuesta" {
		t.Fatalf("unexpected cached turn: %+v", turn)
	}
}
