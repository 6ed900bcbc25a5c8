package oauth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// ErrConsentClosed means the user left the consent surface without finishing.
var ErrConsentClosed = errors.New("consent closed before completion")

// ConsentError is an error reported by the provider on the redirect.
type ConsentError struct {
	Code        string
	Description string
}

func (e *ConsentError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("consent denied: %s (%s)", e.Code, e.Description)
	}
	return "consent denied: " + e.Code
}

// ConsentSurface shows an authorization URL to the user and waits for one of
// three outcomes: a code, a provider error, or the surface being closed.
type ConsentSurface interface {
	Await(ctx context.Context, authURL, state string) (code string, err error)
}

type consentOutcome struct {
	code string
	err  error
}

// CallbackSurface receives the provider redirect over HTTP. Each pending
// request is keyed by its state value and resolves exactly once.
type CallbackSurface struct {
	present func(authURL string) error

	mu      sync.Mutex
	pending map[string]chan consentOutcome
}

// NewCallbackSurface returns a surface that calls present to show the URL
// (print it, open a browser) and then waits for ServeHTTP to be hit.
func NewCallbackSurface(present func(authURL string) error) *CallbackSurface {
	return &CallbackSurface{
		present: present,
		pending: make(map[string]chan consentOutcome),
	}
}

func (s *CallbackSurface) Await(ctx context.Context, authURL, state string) (string, error) {
	ch := make(chan consentOutcome, 1)
	s.mu.Lock()
	s.pending[state] = ch
	s.mu.Unlock()
	defer s.forget(state)

	if err := s.present(authURL); err != nil {
		return "", fmt.Errorf("failed to present authorization url: %w", err)
	}

	select {
	case out := <-ch:
		return out.code, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrConsentClosed, ctx.Err())
	}
}

// Close resolves a pending request as abandoned by the user.
func (s *CallbackSurface) Close(state string) bool {
	return s.resolve(state, consentOutcome{err: ErrConsentClosed})
}

// Pending reports how many consent requests are waiting.
func (s *CallbackSurface) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ServeHTTP handles the provider redirect.
func (s *CallbackSurface) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	out := consentOutcome{code: q.Get("code")}
	switch {
	case q.Get("error") != "":
		out = consentOutcome{err: &ConsentError{Code: q.Get("error"), Description: q.Get("error_description")}}
	case out.code == "":
		out = consentOutcome{err: &ConsentError{Code: "invalid_request", Description: "redirect carried no code"}}
	}

	if !s.resolve(state, out) {
		http.Error(w, "Unknown or expired authorization request.", http.StatusBadRequest)
		return
	}
	if out.err != nil {
		http.Error(w, "Authorization failed: "+out.err.Error(), http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Authorization complete. You can close this window.\n")
}

func (s *CallbackSurface) resolve(state string, out consentOutcome) bool {
	s.mu.Lock()
	ch, ok := s.pending[state]
	if ok {
		delete(s.pending, state)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- out
	return true
}

func (s *CallbackSurface) forget(state string) {
	s.mu.Lock()
	delete(s.pending, state)
	s.mu.Unlock()
}

// PromptSurface prints the URL and reads the code (or the full redirect URL)
// from a terminal. An empty line or end of input counts as closing.
//
// A single goroutine reads lines from in for the life of the surface. An
// Await abandoned through its context leaves that reader waiting, and the
// next line typed goes to the next Await.
type PromptSurface struct {
	in    io.Reader
	out   io.Writer
	once  sync.Once
	lines chan string
}

func NewPromptSurface(in io.Reader, out io.Writer) *PromptSurface {
	return &PromptSurface{in: in, out: out}
}

func (s *PromptSurface) Await(ctx context.Context, authURL, state string) (string, error) {
	fmt.Fprintf(s.out, "Go to the following link in your browser then type the "+
		"authorization code or paste the redirect URL: \n%v\n", authURL)
	fmt.Fprint(s.out, "Enter Authorization Code: ")

	var input string
	select {
	case input = <-s.readLines():
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrConsentClosed, ctx.Err())
	}

	if input == "" {
		return "", ErrConsentClosed
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect url: %w", err)
	}
	q := u.Query()
	if got := q.Get("state"); got != "" && got != state {
		return "", &ConsentError{Code: "state_mismatch", Description: "redirect belongs to another request"}
	}
	if e := q.Get("error"); e != "" {
		return "", &ConsentError{Code: e, Description: q.Get("error_description")}
	}
	if code := q.Get("code"); code != "" {
		return code, nil
	}
	return "", &ConsentError{Code: "invalid_request", Description: "redirect carried no code"}
}

// readLines starts the reader on first use. The channel is closed at end of
// input, which Await sees as an empty line.
func (s *PromptSurface) readLines() <-chan string {
	s.once.Do(func() {
		s.lines = make(chan string)
		go func() {
			defer close(s.lines)
			r := bufio.NewReader(s.in)
			for {
				line, err := r.ReadString('\n')
				if err == nil || strings.TrimSpace(line) != "" {
					s.lines <- strings.TrimSpace(line)
				}
				if err != nil {
					return
				}
			}
		}()
	})
	return s.lines
}
