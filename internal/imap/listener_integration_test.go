package imap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imnothoan/verygoodmail/internal/testutil"
)

func TestListenerAgainstIMAPServer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := testutil.NewTestIMAPServer(t)
	first := server.AppendMessage(t, "<first@example.org>", "Alice <alice@example.org>", "bob@verygoodmail.tech", "First", "one", false)
	second := server.AppendMessage(t, "<second@example.org>", "alice@example.org", "carol@verygoodmail.tech", "Second", "two", false)

	dialer := &ServerDialer{
		Address:  server.Address,
		Username: server.Username(),
		Password: server.Password(),
	}
	deliverer := &recordingDeliverer{}
	cfg := testListenerConfig()
	cfg.Backoff = Backoff{Base: 10 * time.Millisecond, Multiplier: 2, Max: 100 * time.Millisecond}
	l := NewListener(cfg, dialer, deliverer, zap.NewNop())
	startListener(t, l)

	t.Run("catch-up delivers unseen mail and marks it seen", func(t *testing.T) {
		waitForState(t, l, StateIdleListening)

		assert.Equal(t, []string{"<first@example.org>", "<second@example.org>"}, deliverer.MessageIDs())
		seen := server.SeenUIDs(t)
		assert.Contains(t, seen, first)
		assert.Contains(t, seen, second)
	})

	t.Run("restart picks up mail that arrived while stopped", func(t *testing.T) {
		l.Stop()
		waitForState(t, l, StateStopped)

		third := server.AppendMessage(t, "<third@example.org>", "alice@example.org", "bob@verygoodmail.tech", "Third", "three", false)

		l.Restart()
		require.Eventually(t, func() bool {
			return len(deliverer.MessageIDs()) == 3
		}, 10*time.Second, 20*time.Millisecond)

		waitForState(t, l, StateIdleListening)
		assert.Contains(t, server.SeenUIDs(t), third)
	})
}
