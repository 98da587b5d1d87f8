package share

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
)

const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeGroups     = 4
	codeGroupWidth = 3
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{3}(-[A-Za-z0-9]{3}){3}$`)

// NewCode draws a share code such as "aB3-x9Q-77k-PzM" from crypto/rand.
// Codes are not checked for collisions.
func NewCode() (string, error) {
	return newCode(rand.Reader)
}

func newCode(r io.Reader) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	groups := make([]string, codeGroups)
	for g := range groups {
		var b strings.Builder
		for i := 0; i < codeGroupWidth; i++ {
			n, err := rand.Int(r, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate share code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
		groups[g] = b.String()
	}
	return strings.Join(groups, "-"), nil
}

// ValidCode reports whether code has the share code shape.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
