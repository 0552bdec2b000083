package orders

import (
	"fmt"
	"strings"
)

// TransitionPolicy определяет, проверяются ли переходы статусов по графу.
type TransitionPolicy string

const (
	// TransitionPolicyStrict разрешает только переходы из графа статусов.
	TransitionPolicyStrict TransitionPolicy = "strict"
	// TransitionPolicyPermissive разрешает переход в любой допустимый статус.
	TransitionPolicyPermissive TransitionPolicy = "permissive"
)

// ParseTransitionPolicy разбирает значение из конфигурации.
func ParseTransitionPolicy(raw string) (TransitionPolicy, error) {
	switch policy := TransitionPolicy(strings.ToLower(strings.TrimSpace(raw))); policy {
	case TransitionPolicyStrict, TransitionPolicyPermissive:
		return policy, nil
	case "":
		return TransitionPolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown status transition policy %q", raw)
	}
}
