package tenantauth

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// totpManager wraps pquerna/otp with the engine's period and skew.
type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 200
	}
	return &totpManager{config: cfg}
}

func (m *totpManager) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    m.config.Period,
		Skew:      m.config.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// provision builds the key for account. An empty secret generates a new one;
// otherwise the existing secret is re-encoded so an unfinished enrollment
// keeps the same authenticator entry.
func (m *totpManager) provision(account, secret string) (*TOTPSetup, error) {
	gen := totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.config.Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	}
	if secret != "" {
		raw, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
		if err != nil {
			return nil, errors.New("stored totp secret is not base32")
		}
		gen.Secret = raw
	}

	key, err := totp.Generate(gen)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(m.config.QRSize, m.config.QRSize)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// verify checks code at now within the configured skew.
func (m *totpManager) verify(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != otp.DigitsSix.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now, m.opts())
	return err == nil && ok
}

// code renders the code for t. Used by tests and diagnostics.
func (m *totpManager) code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, m.opts())
}
