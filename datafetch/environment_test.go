package datafetch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironment_Signals(t *testing.T) {
	env := NewEnvironment()
	assert.True(t, env.Online())
	assert.True(t, env.Focused())

	var (
		mu      sync.Mutex
		signals []Signal
	)
	unsubscribe := env.Subscribe(func(s Signal) {
		mu.Lock()
		signals = append(signals, s)
		mu.Unlock()
	})

	env.Blur()
	assert.False(t, env.Focused())
	env.Focus()
	env.SetOnline(true)
	env.SetOnline(false)
	assert.False(t, env.Online())
	env.SetOnline(false)
	env.SetOnline(true)

	unsubscribe()
	env.Focus()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Signal{SignalFocus, SignalReconnect}, signals)
}

func TestSignal_String(t *testing.T) {
	assert.Equal(t, "focus", SignalFocus.String())
	assert.Equal(t, "reconnect", SignalReconnect.String())
	assert.Equal(t, "unknown", Signal(7).String())
}
