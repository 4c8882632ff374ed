package pricewatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledWithoutSmtpConfig(t *testing.T) {
	watcher := NewWatcher(Options{Recipient: "me@example.com"})
	require.False(t, watcher.Enabled())

	watcher = NewWatcher(Options{
		Smtp: SmtpConfig{Server: "smtp.example.com", Port: 587},
	})
	require.False(t, watcher.Enabled())

	watcher = NewWatcher(Options{
		Smtp:      SmtpConfig{Server: "smtp.example.com", Port: 587},
		Recipient: "me@example.com",
	})
	require.True(t, watcher.Enabled())
}

func TestPriceDroppedIsNoopWhenDisabled(t *testing.T) {
	watcher := NewWatcher(Options{})
	// must not attempt a connection or panic
	watcher.PriceDropped(
		context.Background(),
		"123 Main St, Dublin 4",
		"https://www.daft.ie/for-sale/listing/1",
		"€360,000",
		"€350,000",
	)
}
