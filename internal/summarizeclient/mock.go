package summarizeclient

import (
	"context"
	"fmt"
)

type mockTransport struct{}

func (m *mockTransport) summarize(ctx context.Context, chunk, docContext string) (string, error) {
	if docContext == "" {
		return "", nil
	}
	return fmt.Sprintf("From %s.", docContext), nil
}
