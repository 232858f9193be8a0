package service

import (
	"bytes"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const qrCodeSize = 256

type TOTPProvider struct {
	Issuer    string
	Period    uint
	Skew      uint
	EmailSkew uint
	Digits    otp.Digits
	Algorithm otp.Algorithm

	// Now is overridable for deterministic window tests.
	Now func() time.Time
}

func NewTOTPProvider(issuer string) *TOTPProvider {
	return &TOTPProvider{
		Issuer:    issuer,
		Period:    30,
		Skew:      1,
		EmailSkew: 4,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (p *TOTPProvider) GenerateKey(accountName string) (*MFAKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      fallbackIssuer(p.Issuer),
		AccountName: accountName,
		Period:      p.period(),
		Digits:      p.digits(),
		Algorithm:   p.algorithm(),
	})
	if err != nil {
		return nil, err
	}

	image, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, image); err != nil {
		return nil, err
	}

	return &MFAKey{
		Secret: key.Secret(),
		URL:    key.URL(),
		QRPNG:  buffer.Bytes(),
	}, nil
}

func (p *TOTPProvider) GenerateCode(secret string) (string, error) {
	return totp.GenerateCodeCustom(secret, p.now(), p.validateOpts(p.skew()))
}

func (p *TOTPProvider) ValidateCode(secret string, code string) bool {
	valid, _ := totp.ValidateCustom(code, secret, p.now(), p.validateOpts(p.skew()))
	return valid
}

func (p *TOTPProvider) ValidateEmailCode(secret string, code string) bool {
	valid, _ := totp.ValidateCustom(code, secret, p.now(), p.validateOpts(p.emailSkew()))
	return valid
}

func (p *TOTPProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *TOTPProvider) validateOpts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    p.period(),
		Skew:      skew,
		Digits:    p.digits(),
		Algorithm: p.algorithm(),
	}
}

func (p *TOTPProvider) period() uint {
	if p.Period == 0 {
		return 30
	}
	return p.Period
}

func (p *TOTPProvider) skew() uint {
	if p.Skew == 0 {
		return 1
	}
	return p.Skew
}

func (p *TOTPProvider) emailSkew() uint {
	if p.EmailSkew == 0 {
		return 4
	}
	return p.EmailSkew
}

func (p *TOTPProvider) digits() otp.Digits {
	if p.Digits == 0 {
		return otp.DigitsSix
	}
	return p.Digits
}

func (p *TOTPProvider) algorithm() otp.Algorithm {
	if p.Algorithm == 0 {
		return otp.AlgorithmSHA1
	}
	return p.Algorithm
}

func fallbackIssuer(issuer string) string {
	if strings.TrimSpace(issuer) == "" {
		return "Identra"
	}
	return issuer
}
