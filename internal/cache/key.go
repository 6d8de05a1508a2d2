package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

// decisionKeyInput is hashed by DecisionKey. encoding/json sorts map keys,
// so equal attribute maps produce equal keys.
type decisionKeyInput struct {
	Principal *cerbos.Principal `json:"p"`
	Resource  *cerbos.Resource  `json:"r"`
	Action    string            `json:"a"`
}

// DecisionKey returns a hex SHA-256 identifying one authorization question.
func DecisionKey(principal *cerbos.Principal, resource *cerbos.Resource, action string) (string, error) {
	raw, err := json.Marshal(decisionKeyInput{Principal: principal, Resource: resource, Action: action})
	if err != nil {
		return "", fmt.Errorf("failed to build decision key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
