package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"volunteerreminder/internal/config"
	"volunteerreminder/internal/ledger"
	"volunteerreminder/internal/service"
	"volunteerreminder/pkg/mq"
)

func TestNewSender(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sender.Provider = config.ProviderLog

	s, err := newSender(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "log", s.Name())

	cfg.Sender.Provider = config.ProviderSendGrid
	_, err = newSender(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.Sender.SendGrid.APIKey = "key"
	cfg.Sender.SendGrid.FromEmail = "noreply@example.org"
	s, err = newSender(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "sendgrid", s.Name())
}

func TestNewLedger_Memory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ledger.Backend = config.BackendMemory

	a := &App{logger: zap.NewNop()}
	l, err := a.newLedger(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &ledger.Memory{}, l)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Reminder.Timezone = "Nowhere/Special"

	_, err := New(context.Background(), cfg, false, zap.NewNop())
	assert.ErrorIs(t, err, service.ErrConfiguration)
}

func TestPing_ReportsDisconnectedPublisher(t *testing.T) {
	a := &App{Publisher: &mq.Publisher{}}
	assert.ErrorIs(t, a.Ping(context.Background()), ErrPublisherDisconnected)
}
