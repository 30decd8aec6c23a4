package phrase

import (
	"strings"

	"github.com/joeydtaylor/composr/pkg/fault"
)

// Normalize fills the id from domain and url when absent and checks the
// document belongs to domain. It does not compile anything.
func (p *Phrase) Normalize(domain string) error {
	if strings.TrimSpace(domain) == "" {
		return fault.Validation("undefined:domain")
	}
	p.URL = strings.Trim(strings.TrimSpace(p.URL), "/")
	if p.URL == "" {
		return fault.Validation("undefined:phrase:url")
	}
	if p.ID == "" {
		p.ID = BuildID(domain, p.URL)
	}
	if DomainOf(p.ID) != domain {
		return fault.Validation("phrase %q does not belong to domain %q", p.ID, domain)
	}
	if _, rest := Split(p.ID); rest == "" {
		return fault.Validation("phrase %q has an empty path", p.ID)
	}
	bodies := 0
	for _, m := range Methods {
		h := p.Handler(m)
		if h == nil {
			continue
		}
		src, err := h.Source()
		if err != nil {
			return fault.Validation("phrase %q %s: %v", p.ID, m, err)
		}
		if strings.TrimSpace(src) == "" {
			return fault.Validation("phrase %q %s: empty handler body", p.ID, m)
		}
		bodies++
	}
	if bodies == 0 {
		return fault.Validation("phrase %q declares no method with a handler body", p.ID)
	}
	return nil
}

// Normalize checks the snippet id belongs to domain and has a body.
func (s *Snippet) Normalize(domain string) error {
	if strings.TrimSpace(domain) == "" {
		return fault.Validation("undefined:domain")
	}
	if s.ID == "" && s.Name != "" {
		s.ID = domain + Separator + s.Name
	}
	if s.ID == "" {
		return fault.Validation("undefined:snippet:id")
	}
	if DomainOf(s.ID) != domain {
		return fault.Validation("snippet %q does not belong to domain %q", s.ID, domain)
	}
	if s.LocalName() == "" {
		return fault.Validation("snippet %q has an empty name", s.ID)
	}
	src, err := s.Source()
	if err != nil {
		return fault.Validation("snippet %q: %v", s.ID, err)
	}
	if strings.TrimSpace(src) == "" {
		return fault.Validation("snippet %q: empty body", s.ID)
	}
	return nil
}
