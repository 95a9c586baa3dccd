package push

import (
	"encoding/json"
	"os"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// VAPIDKeys is the persisted server key pair used to sign push requests.
type VAPIDKeys struct {
	Version    int       `json:"version"`
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	Subject    string    `json:"subject"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// LoadOrInitVAPID loads the key file at path, generating and persisting a
// fresh key pair on first use. The file carries the same 0600-plus-rename
// discipline as the subscription store.
func LoadOrInitVAPID(path, subject string) (VAPIDKeys, error) {
	if b, err := os.ReadFile(path); err == nil {
		var keys VAPIDKeys
		if err := json.Unmarshal(b, &keys); err == nil && keys.PublicKey != "" && keys.PrivateKey != "" {
			if subject != "" && keys.Subject != subject {
				keys.Subject = subject
				keys.UpdatedAt = time.Now().UTC()
				if err := writeFileAtomic(path, keys); err != nil {
					return VAPIDKeys{}, err
				}
			}
			return keys, nil
		}
	}

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	now := time.Now().UTC()
	keys := VAPIDKeys{
		Version:    1,
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := writeFileAtomic(path, keys); err != nil {
		return VAPIDKeys{}, err
	}
	return keys, nil
}
