package sites

import (
	"sync"
)

// Registry owns the site sessions of one account, built on first use.
// It only guards its own map; using a session is serialised by the worker
// pool.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[Site]*SiteSession
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, sessions: map[Site]*SiteSession{}}
}

func (r *Registry) Get(site Site) (*SiteSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[site]; ok {
		return s, nil
	}
	s, err := newSiteSession(site, r.cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[site] = s
	return s, nil
}

// Active lists the sites with a constructed session.
func (r *Registry) Active() []Site {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Site, 0, len(r.sessions))
	for _, site := range Known() {
		if _, ok := r.sessions[site]; ok {
			out = append(out, site)
		}
	}
	return out
}

// Reset drops every session, used when the account's credentials change.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = map[Site]*SiteSession{}
}

// SetMethod changes the login method future logins of site use.
func (r *Registry) SetMethod(site Site, method LoginMethod) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Methods == nil {
		r.cfg.Methods = map[Site]LoginMethod{}
	}
	r.cfg.Methods[site] = method
	if s, ok := r.sessions[site]; ok {
		s.SetPreferred(method)
	}
}
