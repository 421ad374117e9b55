package wallets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const otherKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSkipsCommentsAndBlanks(t *testing.T) {
	path := writeKeyFile(t, strings.Join([]string{
		"# main wallet",
		"",
		testKey,
		"  ",
		"0x" + otherKey,
	}, "\n"))

	signers, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(signers) != 2 {
		t.Fatalf("loaded %d signers, want 2", len(signers))
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if signers[0].Address() != want {
		t.Errorf("first address = %s, want %s", signers[0].Address(), want)
	}
}

func TestLoadRejectsBadKeyWithLineNumber(t *testing.T) {
	path := writeKeyFile(t, testKey+"\nnot-a-key\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v, want line 2 mention", err)
	}
}

func TestLoadEmptyFileFails(t *testing.T) {
	path := writeKeyFile(t, "# only comments\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty key file")
	}
}
