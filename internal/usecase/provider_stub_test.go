package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
)

// stubProvider drives provider interactions in tests. Refresh pops errors
// from refreshErrs one call at a time; an exhausted queue means success.
type stubProvider struct {
	mu sync.Mutex

	user *port.ProviderUser
	pair *domain.TokenData

	refreshCalls int
	refreshDelay time.Duration
	refreshErrs  []error

	signInErr    error
	signUpErr    error
	federatedErr error
	signOutErr   error
	signOutCalls int

	verificationEmails []string
	resetEmails        []string
	resetConfirms      []string
	confirmErr         error

	handlers map[int]func(port.AuthChange)
	nextSub  int
}

func newStubProvider(user *port.ProviderUser, pair *domain.TokenData) *stubProvider {
	return &stubProvider{
		user:     user,
		pair:     pair,
		handlers: make(map[int]func(port.AuthChange)),
	}
}

func (p *stubProvider) SignIn(_ context.Context, email, _ string) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signInErr != nil {
		return nil, nil, p.signInErr
	}
	user := *p.user
	user.Email = email
	pair := *p.pair
	return &user, &pair, nil
}

func (p *stubProvider) SignUp(_ context.Context, email, _ string, displayName string) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signUpErr != nil {
		return nil, nil, p.signUpErr
	}
	user := *p.user
	user.Email = email
	user.DisplayName = displayName
	pair := *p.pair
	return &user, &pair, nil
}

func (p *stubProvider) SignInFederated(_ context.Context, _ string) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.federatedErr != nil {
		return nil, nil, p.federatedErr
	}
	user := *p.user
	user.Method = domain.AuthMethodFederated
	pair := *p.pair
	return &user, &pair, nil
}

func (p *stubProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOutCalls++
	return p.signOutErr
}

func (p *stubProvider) CurrentCredential(_ context.Context) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil || p.pair == nil {
		return nil, nil, nil
	}
	user := *p.user
	pair := *p.pair
	return &user, &pair, nil
}

func (p *stubProvider) Refresh(_ context.Context, _ string) (*domain.TokenData, error) {
	p.mu.Lock()
	p.refreshCalls++
	delay := p.refreshDelay
	var err error
	if len(p.refreshErrs) > 0 {
		err = p.refreshErrs[0]
		p.refreshErrs = p.refreshErrs[1:]
	}
	pair := *p.pair
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func (p *stubProvider) SendVerificationEmail(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verificationEmails = append(p.verificationEmails, email)
	return nil
}

func (p *stubProvider) SendPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetEmails = append(p.resetEmails, email)
	return nil
}

func (p *stubProvider) ConfirmPasswordReset(_ context.Context, code string, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return p.confirmErr
	}
	p.resetConfirms = append(p.resetConfirms, code)
	return nil
}

func (p *stubProvider) OnAuthChange(handler func(port.AuthChange)) port.UnsubscribeFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.handlers[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers, id)
	}
}

// emit fans an auth change out to every subscribed handler, the way a real
// provider notifies after credential changes.
func (p *stubProvider) emit(change port.AuthChange) {
	p.mu.Lock()
	handlers := make([]func(port.AuthChange), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(change)
	}
}

func (p *stubProvider) refreshCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

var _ port.IdentityProvider = (*stubProvider)(nil)
