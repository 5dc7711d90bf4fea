package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

// oidcVerifier verifies OIDC ID-Tokens using the configured OIDC providers. Providers are discovered lazily on first
// use and kept afterwards.
type oidcVerifier struct {
	configs   []config.OIDCConfig
	verifiers map[string]*oidc.IDTokenVerifier
	sync.Mutex
}

func newOIDCVerifier(configs []config.OIDCConfig) *oidcVerifier {
	return &oidcVerifier{
		configs:   configs,
		verifiers: make(map[string]*oidc.IDTokenVerifier),
	}
}

func (o *oidcVerifier) verifier(ctx context.Context, providerName string) (*oidc.IDTokenVerifier, error) {
	o.Lock()
	if v, ok := o.verifiers[providerName]; ok {
		o.Unlock()
		return v, nil
	}
	o.Unlock()
	var oidcConf *config.OIDCConfig
	for i := range o.configs {
		if o.configs[i].Name == providerName {
			oidcConf = &o.configs[i]
			break
		}
	}
	if oidcConf == nil {
		return nil, fmt.Errorf("unknown oidc provider %q", providerName)
	}

	// discovery runs without the lock, a slow provider must not block the others
	globals.AppLogger.Debug("discovering oidc provider", "provider", providerName, "url", oidcConf.ProviderUrl)
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	v := provider.Verifier(&conf)

	o.Lock()
	defer o.Unlock()
	if existing, ok := o.verifiers[providerName]; ok {
		return existing, nil
	}
	o.verifiers[providerName] = v
	return v, nil
}

// Verify checks the ID token and returns the user identified by the token's e-mail claim.
// TODO: the e-mail claim is used as user id and nick, make the claim configurable once providers without e-mail are needed.
func (o *oidcVerifier) Verify(ctx context.Context, idToken, providerName string) (types.User, error) {
	v, err := o.verifier(ctx, providerName)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	verifiedIdToken, err := v.Verify(ctx, idToken)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims := struct {
		Email string `json:"email"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Email == "" {
		return types.User{}, fmt.Errorf("%w: empty e-mail address", ErrUnauthenticated)
	}
	return types.User{Id: claims.Email, Nick: claims.Email}, nil
}
