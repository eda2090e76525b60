package queryir

import (
	"fmt"
)

// MaxTopLimit bounds SelectTop so a leaderboard read stays small.
const MaxTopLimit = 1000

// Validate checks a query before it is dispatched.
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	switch query := q.(type) {
	case nil:
		return fmt.Errorf("nil query")
	case CreateAccount:
		if query.Identity.StableID == "" || query.Identity.DisplayName == "" {
			return fmt.Errorf("create: incomplete identity %q", query.Identity)
		}
		if query.Balance < 0 {
			return fmt.Errorf("create: negative balance %d", query.Balance)
		}
	case SelectAccount:
		return validKey("select", query.Key)
	case WriteBalance:
		return validKey("write", query.Write.Target)
	case SaveBalance:
		if query.Balance < 0 {
			return fmt.Errorf("save: negative balance %d", query.Balance)
		}
		return validKey("save", query.Key)
	case FixIdentity:
		if query.DisplayName == "" || query.StableID == "" {
			return fmt.Errorf("fix: display name and stable ID are required")
		}
		if query.DisplayName == query.StableID {
			return fmt.Errorf("fix: stable ID %q is still the placeholder", query.StableID)
		}
	case SelectTop:
		if query.Limit <= 0 || query.Limit > MaxTopLimit {
			return fmt.Errorf("select top: limit %d out of range (1..%d)", query.Limit, MaxTopLimit)
		}
		if query.Offset < 0 {
			return fmt.Errorf("select top: negative offset %d", query.Offset)
		}
	case DeleteAccount:
		return validKey("delete", query.Key)
	default:
		return fmt.Errorf("unsupported query type: %T", q)
	}
	return nil
}

func validKey(op string, k interface{ Valid() bool }) error {
	if !k.Valid() {
		return fmt.Errorf("%s: invalid key %v", op, k)
	}
	return nil
}
