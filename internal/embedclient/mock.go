package embedclient

import "context"

// mockTransport is a deterministic local stand-in for the provider=mock
// case, used for local development and tests without a live API key.
type mockTransport struct {
	dim int
}

func newMockTransport(dim int) *mockTransport {
	return &mockTransport{dim: dim}
}

func (m *mockTransport) embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, m.dim)
	for i, r := range text {
		v[i%m.dim] += float32(r % 97)
	}
	return v, nil
}

func (m *mockTransport) dimension() int { return m.dim }
