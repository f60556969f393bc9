package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/emotion"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/session"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/vision"
)

// Options configures a Manager. Sampler and Camera are nil when the ambient
// camera is disabled.
type Options struct {
	Hub     *vision.Hub
	Sampler *vision.Sampler
	Camera  vision.Camera
}

// Status is a point-in-time view for health reporting.
type Status struct {
	Sessions    int    `json:"sessions"`
	Camera      bool   `json:"camera"`
	Sampling    bool   `json:"sampling"`
	LastEmotion string `json:"last_emotion"`
	Frames      int64  `json:"frames"`
	Reused      int64  `json:"reused"`
}

// Manager coordinates sessions and the ambient sampler.
type Manager struct {
	hub     *vision.Hub
	sampler *vision.Sampler
	camera  vision.Camera
	shared  *session.Session

	mu       sync.RWMutex
	sessions map[string]*session.Session

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a manager. The shared REST session is registered immediately.
func New(opts Options) *Manager {
	hub := opts.Hub
	if hub == nil {
		hub = vision.NewHub()
	}
	m := &Manager{
		hub:      hub,
		sampler:  opts.Sampler,
		camera:   opts.Camera,
		shared:   session.New(SharedSessionID),
		sessions: make(map[string]*session.Session),
	}
	hub.Register(m.shared.ID, m.shared.Window())
	return m
}

// Hub returns the hub sessions subscribe to.
func (m *Manager) Hub() *vision.Hub { return m.hub }

// Shared returns the session used by the REST endpoints.
func (m *Manager) Shared() *session.Session { return m.shared }

// NewSession creates and registers a connection session. An empty id gets a
// random one.
func (m *Manager) NewSession(id string) *session.Session {
	sess := session.New(id)
	m.mu.Lock()
	if old, ok := m.sessions[sess.ID]; ok {
		old.Close()
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	m.hub.Register(sess.ID, sess.Window())
	return sess
}

// CloseSession unregisters id and releases its window.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.hub.Unregister(id)
	sess.Close()
}

// Session looks up an open session.
func (m *Manager) Session(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Sessions returns the number of open connection sessions.
func (m *Manager) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start launches the camera sampler, if any.
func (m *Manager) Start(ctx context.Context) error {
	if m.sampler == nil {
		trace.Logger(ctx).Info("ambient camera disabled")
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.sampler.Run(ctx)
	}()
	return nil
}

// Stop halts the sampler, closes the camera and every open session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
			select {
			case <-m.done:
			case <-time.After(StopTimeout):
				trace.Logger(context.Background()).Warn("camera sampler did not stop in time")
			}
		}
		if m.camera != nil {
			m.camera.Close()
		}

		m.mu.Lock()
		open := m.sessions
		m.sessions = make(map[string]*session.Session)
		m.mu.Unlock()
		for id, sess := range open {
			m.hub.Unregister(id)
			sess.Close()
		}
		m.hub.Unregister(m.shared.ID)
		m.shared.Close()
	})
}

// Status reports sessions and sampler state.
func (m *Manager) Status() Status {
	st := Status{Sessions: m.Sessions(), LastEmotion: emotion.Unknown}
	if m.sampler == nil {
		return st
	}
	st.Camera = true
	st.Sampling = m.sampler.Running()
	st.LastEmotion = m.sampler.Last()
	st.Frames, st.Reused = m.sampler.Stats()
	return st
}
