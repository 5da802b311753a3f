// Package scenario turns declarative scenario entries into request payloads and success
// predicates. Every target is driven through the same compiled scenario, so the only
// thing that differs between targets is the server under test.
package scenario

import (
	"fmt"
	"os"

	"webserver-bench/internal/config"
)

const DefaultPlainTextBody = "Hello, World!"

// Predicate decides whether a completed HTTP exchange counts as a success.
type Predicate func(status int, body []byte) bool

// Payload is one request shape of a scenario together with the check for its response.
type Payload struct {
	Body        []byte
	ContentType string
	check       func(status int, body []byte) error
}

// Check returns nil on success, or a short reason the response was rejected.
func (p *Payload) Check(status int, body []byte) error {
	return p.check(status, body)
}

func (p *Payload) Predicate() Predicate {
	return func(status int, body []byte) bool {
		return p.check(status, body) == nil
	}
}

type Scenario struct {
	Config   config.ScenarioConfig
	Method   string
	payloads []Payload
}

// Compile prepares a scenario for the load generator. Expected bodies, schemas and matrix
// products are computed here, once, so the measurement path only compares.
func Compile(cfg config.ScenarioConfig) (*Scenario, error) {
	common, err := newResponseCheck(cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", cfg.ID, err)
	}

	s := &Scenario{
		Config: cfg,
		Method: cfg.HTTPMethod(),
	}

	switch cfg.Kind {
	case config.KindMatrixMultiplication:
		s.payloads, err = matrixPayloads(cfg.Matrix, common)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", cfg.ID, err)
		}
	default:
		s.payloads = []Payload{{check: common.check}}
	}

	return s, nil
}

func (s *Scenario) ID() string {
	return s.Config.ID
}

// Payload returns the payload for the n-th request. Payloads are cycled.
func (s *Scenario) Payload(n uint64) *Payload {
	return &s.payloads[n%uint64(len(s.payloads))]
}

func (s *Scenario) PayloadCount() int {
	return len(s.payloads)
}

func readBodyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read expected body: %w", err)
	}
	return data, nil
}
