package platform

import (
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
)

func testVAPIDKeys(t *testing.T) (priv, pub string) {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() error: %v", err)
	}
	return priv, pub
}
