// Package wallets loads the operator's key file.
package wallets

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/privatekey7/evm-farmer-pro/internal/signer"
)

// Load reads a key-per-line file. Blank lines and lines starting with
// '#' are skipped; keys may carry a 0x prefix.
func Load(path string) ([]signer.Signer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wallets: open key file: %w", err)
	}
	defer f.Close()

	var out []signer.Signer
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		s, err := signer.FromHex(text)
		if err != nil {
			return nil, fmt.Errorf("wallets: line %d: %w", line, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("wallets: read key file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("wallets: no keys in %s", path)
	}
	return out, nil
}
