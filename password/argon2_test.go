package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(fastConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("Kettle#Moon42")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("Kettle#Moon42", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("Kettle#Moon43", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestArgon2HashesAreSalted(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	a, _ := hasher.Hash("same-input")
	b, _ := hasher.Hash("same-input")
	if a == b {
		t.Fatal("expected distinct hashes for the same input")
	}
}

func TestArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory config to be rejected")
	}
	cfg = fastConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt config to be rejected")
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	old, _ := NewArgon2(fastConfig())
	hash, _ := old.Hash("upgrade-me")

	stronger := fastConfig()
	stronger.Time = 2
	current, _ := NewArgon2(stronger)

	up, err := current.NeedsUpgrade(hash)
	if err != nil || !up {
		t.Fatalf("expected upgrade for weaker params, up=%v err=%v", up, err)
	}
	up, err = old.NeedsUpgrade(hash)
	if err != nil || up {
		t.Fatalf("expected no upgrade for same params, up=%v err=%v", up, err)
	}
}

func TestArgon2MalformedHashes(t *testing.T) {
	hasher, _ := NewArgon2(fastConfig())
	hash, _ := hasher.Hash("malformed")

	cases := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(hash, "$v=19$", "$v=18$", 1),
		"bad params":    strings.Replace(hash, "m=8192", "m=abc", 1),
		"truncated":     hash[:strings.LastIndex(hash, "$")],
	}
	for name, encoded := range cases {
		if _, err := hasher.Verify("malformed", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%s: expected ErrInvalidHash, got %v", name, err)
		}
	}
}

func TestMultiVerifiesLegacyBcrypt(t *testing.T) {
	m, err := NewMulti(fastConfig())
	if err != nil {
		t.Fatalf("NewMulti error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("Legacy#Pass1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := m.Verify("Legacy#Pass1", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy match, ok=%v err=%v", ok, err)
	}
	ok, err = m.Verify("Legacy#Pass2", string(legacy))
	if err != nil || ok {
		t.Fatalf("expected legacy mismatch, ok=%v err=%v", ok, err)
	}

	up, err := m.NeedsUpgrade(string(legacy))
	if err != nil || !up {
		t.Fatalf("expected legacy hash to need upgrade, up=%v err=%v", up, err)
	}

	fresh, _ := m.Hash("Legacy#Pass1")
	if !strings.HasPrefix(fresh, argon2Prefix) {
		t.Fatalf("expected new hashes to be argon2id, got %s", fresh)
	}
}

func TestMultiRejectsUnknownFormat(t *testing.T) {
	m, _ := NewMulti(fastConfig())
	if _, err := m.Verify("x", "plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}
