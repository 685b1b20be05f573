package llm

import (
	"context"
	"io"
)

// MockStreamingClient permite tests sin llamar a un proveedor real.
type MockStreamingClient struct {
	Tokens    []string
	CallErr   error // devuelto al abrir el stream
	StreamErr error // devuelto despues de agotar Tokens, en lugar de io.EOF

	Calls [][]Turn
}

func (m *MockStreamingClient) StreamChat(_ context.Context, _ Model, turns []Turn) (TokenStream, error) {
	m.Calls = append(m.Calls, turns)
	if m.CallErr != nil {
		return nil, m.CallErr
	}
	return &mockTokenStream{tokens: m.Tokens, err: m.StreamErr}, nil
}

type mockTokenStream struct {
	tokens []string
	err    error
	pos    int
}

func (s *mockTokenStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	token := s.tokens[s.pos]
	s.pos++
	return token, nil
}

func (s *mockTokenStream) Close() error { return nil }
