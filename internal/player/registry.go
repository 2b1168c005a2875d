package player

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Registry maps guild IDs to their voice states. It is the only owner of
// voice state lifecycles: states leave it through Remove, ShutdownAll or
// their own idle timeout.
type Registry struct {
	log       logrus.FieldLogger
	cfg       Config
	transport Transport

	mu     sync.Mutex
	states map[string]*VoiceState
}

// NewRegistry creates an empty registry.
func NewRegistry(log logrus.FieldLogger, cfg Config, transport Transport) *Registry {
	return &Registry{
		log:       log.WithField("component", "registry"),
		cfg:       cfg,
		transport: transport,
		states:    make(map[string]*VoiceState),
	}
}

// GetOrCreate returns the voice state for guildID, creating and starting one
// if the guild has none.
func (r *Registry) GetOrCreate(guildID string) *VoiceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.states[guildID]; ok && v.State() != StateStopped {
		return v
	}

	v := newVoiceState(r.log, r.cfg, guildID, r.transport, r.forget)
	r.states[guildID] = v

	r.log.WithField("guild_id", guildID).Debug("Created voice state")

	return v
}

// Get returns the voice state for guildID, if any.
func (r *Registry) Get(guildID string) (*VoiceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.states[guildID]

	return v, ok
}

// Remove stops the voice state for guildID and drops it.
func (r *Registry) Remove(guildID string) error {
	r.mu.Lock()
	v, ok := r.states[guildID]
	delete(r.states, guildID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	return v.Stop()
}

// ShutdownAll stops every voice state. The registry is empty afterwards.
func (r *Registry) ShutdownAll() error {
	r.mu.Lock()
	states := r.states
	r.states = make(map[string]*VoiceState)
	r.mu.Unlock()

	var g errgroup.Group

	for _, v := range states {
		g.Go(v.Stop)
	}

	err := g.Wait()

	r.log.WithField("guilds", len(states)).Info("Stopped all voice states")

	return err
}

// Len returns the number of live voice states.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.states)
}

// forget drops v after it stopped on its own.
func (r *Registry) forget(v *VoiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.states[v.guildID] == v {
		delete(r.states, v.guildID)
	}
}
