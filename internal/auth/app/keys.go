package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeeper/pkg/jwtx"
)

// InitAuthKeys builds the KeyManager.
//
// With SigningKeyFile set, the Ed25519 key is loaded from that file (and
// generated there on first start), so access tokens survive restarts. Without
// it a key is generated in memory and every outstanding access token becomes
// unverifiable when the process restarts. Refresh tokens are opaque and are
// unaffected either way.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{Issuer: cfg.Issuer}

	if cfg.SigningKeyFile != "" {
		pemKey, err := cryptox.LoadOrCreateEd25519Key(cfg.SigningKeyFile)
		if err != nil {
			return nil, err
		}
		opts.PrivateKeyPEM = pemKey
	}

	km, err := jwtx.NewKeyManager(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	if cfg.SigningKeyFile != "" {
		logger.Info("signing key loaded", "path", cfg.SigningKeyFile, "kid", km.Signer().KID(), "issuer", cfg.Issuer)
	} else {
		logger.Warn("generated ephemeral signing key, access tokens will not survive a restart",
			"kid", km.Signer().KID(),
			"issuer", cfg.Issuer,
		)
	}
	return km, nil
}
