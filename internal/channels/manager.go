package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hkuds/shellbox/internal/bus"
	"github.com/hkuds/shellbox/internal/config"
)

// Manager manages the lifecycle of communication channels.
type Manager struct {
	config   config.ChannelsConfig
	bus      *bus.MessageBus
	log      zerolog.Logger
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a new channel manager.
func NewManager(cfg config.ChannelsConfig, msgBus *bus.MessageBus, log zerolog.Logger) *Manager {
	return &Manager{
		config:   cfg,
		bus:      msgBus,
		log:      log.With().Str("component", "channels").Logger(),
		channels: make(map[string]Channel),
	}
}

// Initialize creates enabled channels based on configuration.
// This must be called before StartAll.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.Telegram.Enabled {
		if m.config.Telegram.Token == "" {
			return fmt.Errorf("telegram channel enabled but token not configured")
		}
		if len(m.config.Telegram.AllowFrom) == 0 {
			m.log.Warn().Msg("telegram allowFrom is empty, every sender will be denied")
		}
		m.channels["telegram"] = NewTelegramChannel(m.config.Telegram, m.bus, m.log)
		m.log.Info().Msg("telegram channel initialized")
	}

	if len(m.channels) == 0 {
		m.log.Warn().Msg("no channels are enabled")
	}
	return nil
}

// StartAll starts all initialized channels.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to start channel %s: %w", name, err))
			continue
		}
		m.log.Info().Str("channel", name).Msg("channel started")
	}
	return errors.Join(errs...)
}

// StopAll gracefully stops all running channels.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop channel %s: %w", name, err))
			continue
		}
		m.log.Info().Str("channel", name).Msg("channel stopped")
	}
	return errors.Join(errs...)
}

// GetChannel returns a channel by name, or nil if not found.
func (m *Manager) GetChannel(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// ListChannels returns a sorted list of all channel names.
func (m *Manager) ListChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a custom channel to the manager.
func (m *Manager) RegisterChannel(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("cannot register nil channel")
	}

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}

	m.channels[name] = ch
	return nil
}

// RunningChannels returns a list of currently running channel names.
func (m *Manager) RunningChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var running []string
	for name, ch := range m.channels {
		if ch.IsRunning() {
			running = append(running, name)
		}
	}
	sort.Strings(running)
	return running
}
