package directory

import (
	"context"
	"fmt"
)

// demoOperators are the records installed into an empty store so a
// fresh deployment can be exercised immediately.
var demoOperators = []struct {
	Username string
	Password string
	Roles    []string
}{
	{"teller1", "password1", []string{"teller", "customer_service"}},
	{"advisor1", "password2", []string{"advisor"}},
	{"admin1", "password3", []string{"admin", "auditor", "manager"}},
}

// Seed installs the demo operators when the store is empty. hash turns
// a plaintext password into its stored form.
func (s *Store) Seed(ctx context.Context, hash func(string) (string, error)) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for _, op := range demoOperators {
		hashed, err := hash(op.Password)
		if err != nil {
			return fmt.Errorf("directory: seed %s: %w", op.Username, err)
		}
		if err := s.Create(ctx, op.Username, hashed, op.Roles); err != nil {
			return err
		}
	}
	return nil
}
