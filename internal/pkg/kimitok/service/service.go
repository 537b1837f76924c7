package service

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"kimitok/internal/pkg/kimitok/tokenizer"
)

// Request is one tokenize call: independent texts plus the special-token
// policy flag. A nil AllowSpecialTokens defaults to true.
type Request struct {
	Texts              []string `json:"texts"`
	AllowSpecialTokens *bool    `json:"allow_special_tokens"`
}

func (r Request) allowSpecial() bool {
	return r.AllowSpecialTokens == nil || *r.AllowSpecialTokens
}

// Result is the per-text record: the input text, its ids, and the text
// re-derived from those ids. A failed text carries its error here instead of
// failing the batch.
type Result struct {
	Text    string `json:"text"`
	IDs     []int  `json:"ids"`
	Decoded string `json:"decoded"`
	Error   string `json:"error,omitempty"`
}

// Response echoes the vocabulary identity and the policy flag alongside the
// per-text results, in input order.
type Response struct {
	RepoID             string   `json:"repo_id"`
	Revision           string   `json:"revision"`
	AllowSpecialTokens bool     `json:"allow_special_tokens"`
	Results            []Result `json:"results"`
}

// Service maps requests onto the tokenizer. Texts in a batch are independent
// and encode in parallel over the shared read-only tables.
type Service struct {
	tok      *tokenizer.Tokenizer
	repoID   string
	revision string
	policy   *tokenizer.SpecialPolicy
	workers  int
}

func New(tok *tokenizer.Tokenizer, repoID, revision string) *Service {
	return &Service{
		tok:      tok,
		repoID:   repoID,
		revision: revision,
		workers:  runtime.GOMAXPROCS(0),
	}
}

// ForcePolicy pins the special-token policy regardless of the request flag.
// This is how the forbid policy is selected.
func (s *Service) ForcePolicy(p tokenizer.SpecialPolicy) { s.policy = &p }

// SetWorkers bounds batch parallelism. Values below one reset to the default.
func (s *Service) SetWorkers(n int) {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	s.workers = n
}

// Tokenizer exposes the underlying tokenizer.
func (s *Service) Tokenizer() *tokenizer.Tokenizer { return s.tok }

func (s *Service) RepoID() string   { return s.repoID }
func (s *Service) Revision() string { return s.revision }

// Tokenize encodes every text in the request. Per-text failures land in that
// text's result; earlier results are never lost to a later failure.
func (s *Service) Tokenize(ctx context.Context, req Request) (*Response, error) {
	policy := tokenizer.PolicyAllow
	if !req.allowSpecial() {
		policy = tokenizer.PolicyPlain
	}
	if s.policy != nil {
		policy = *s.policy
	}

	results := make([]Result, len(req.Texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, text := range req.Texts {
		i, text := i, text
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = s.tokenizeOne(text, policy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Response{
		RepoID:             s.repoID,
		Revision:           s.revision,
		AllowSpecialTokens: req.allowSpecial(),
		Results:            results,
	}, nil
}

func (s *Service) tokenizeOne(text string, policy tokenizer.SpecialPolicy) Result {
	res := Result{Text: text, IDs: []int{}}

	ids, err := s.tok.Encode(text, policy)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(ids) > 0 {
		res.IDs = ids
	}

	decoded, err := s.tok.DecodeLossy(ids)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Decoded = decoded
	return res
}
