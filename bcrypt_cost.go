//go:build !race

package accounts

// DefaultPasswordCost is the bcrypt work factor used when none is configured.
const DefaultPasswordCost = 12

func passwordHashCost() int {
	return DefaultPasswordCost
}
