package signal

import "testing"

func TestClassifyURL(t *testing.T) {
	cats := ClassifyString("https://api.example.com/oauth/accessToken")
	if !containsCat(cats, CatURL) {
		t.Errorf("expected url category, got %v", cats)
	}
	if !containsCat(cats, CatAuth) {
		t.Errorf("expected auth category for oauth/accessToken, got %v", cats)
	}
}

func TestClassifyCrypto(t *testing.T) {
	for _, s := range []string{
		"AES/CBC/PKCS7PADDING", "sha256", "HMAC-SHA1", "encrypt",
		"xor cipher", "XOR decrypt key", "encryptAndStoreSecretToken",
		"Ciphertext:", "Nonce must have 12 bytes",
		"PartnerVerify_CHMACSHA256", "SALT",
		"RSA", "rsa_public_key",
	} {
		cats := ClassifyString(s)
		if !containsCat(cats, CatEncryption) {
			t.Errorf("expected crypto category for %q, got %v", s, cats)
		}
	}
}

func TestClassifyCryptoFalsePositives(t *testing.T) {
	for _, s := range []string{
		"skipTraversal",
		"TraversalEdgeBehavior.",
		"FocusTraversalPolicy",
		"SliverSafeArea",
		"get_IsTraversable",
		"descendantsAreTraversable",
	} {
		cats := ClassifyString(s)
		if containsCat(cats, CatEncryption) {
			t.Errorf("should NOT be crypto: %q, got %v", s, cats)
		}
	}
}

func TestClassifyAuth(t *testing.T) {
	for _, s := range []string{"password", "Bearer token", "jwt", "apikey", "Authorization"} {
		cats := ClassifyString(s)
		if !containsCat(cats, CatAuth) {
			t.Errorf("expected auth category for %q, got %v", s, cats)
		}
	}
}

func TestClassifyNet(t *testing.T) {
	cats := ClassifyString("GET")
	if !containsCat(cats, CatNet) {
		t.Errorf("expected net category for GET, got %v", cats)
	}
	cats = ClassifyString("socket connection")
	if !containsCat(cats, CatNet) {
		t.Errorf("expected net category for socket, got %v", cats)
	}
}

func TestClassifyFileExt(t *testing.T) {
	cats := ClassifyString("classes.dex")
	if !containsCat(cats, CatFileExt) {
		t.Errorf("expected file_ext for classes.dex, got %v", cats)
	}
	cats = ClassifyString("data.json")
	if !containsCat(cats, CatFileExt) {
		t.Errorf("expected file_ext for data.json, got %v", cats)
	}
}

func TestClassifyBase64Key(t *testing.T) {
	cats := ClassifyString("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/==")
	if !containsCat(cats, CatBase64Key) {
		t.Errorf("expected base64_key, got %v", cats)
	}
}

func TestClassifyAuthFalsePositive(t *testing.T) {
	// UI framework camelCase identifiers should not trigger auth.
	for _, s := range []string{"brieflyShowPassword", "nativeSpellCheckServiceDefined", "platformBrightness"} {
		cats := ClassifyString(s)
		if containsCat(cats, CatAuth) {
			t.Errorf("should NOT be auth: %q, got %v", s, cats)
		}
	}
}

func TestClassifyMundane(t *testing.T) {
	// Normal runtime error strings should not be classified.
	cats := ClassifyString("Index out of range")
	if len(cats) != 0 {
		t.Errorf("expected no categories for mundane string, got %v", cats)
	}
}

func TestClassifyIP(t *testing.T) {
	cats := ClassifyString("192.168.1.1:8080")
	if !containsCat(cats, CatHost) {
		t.Errorf("expected host category for IP literal, got %v", cats)
	}
}

func TestClassifyCallee(t *testing.T) {
	tests := []struct {
		name, kind string
		want       []string
	}{
		{"System.Security.Cryptography.Aes::Create", "direct", []string{CatEncryption}},
		{"System.Net.WebClient::DownloadString", "virtual", []string{CatNet}},
		{"UnityEngine.Networking.UnityWebRequest::Get", "direct", []string{CatNet}},
		{"System.IO.File::ReadAllBytes", "direct", []string{CatFileExt}},
		{"System.Reflection.Assembly::Load", "direct", []string{CatReflection}},
		{"UnityEngine.Application::OpenURL", "icall", []string{CatNative}},
		{"Game.Player::Heal", "direct", nil},
		{"object_new", "runtime", nil},
	}
	for _, tt := range tests {
		got := ClassifyCallee(tt.name, tt.kind)
		if len(got) != len(tt.want) {
			t.Errorf("ClassifyCallee(%q) = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ClassifyCallee(%q) = %v, want %v", tt.name, got, tt.want)
			}
		}
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity([]string{CatNet, CatURL}); got != SeverityMedium {
		t.Errorf("got %s", got)
	}
	if got := MaxSeverity([]string{CatNet, CatNative}); got != SeverityHigh {
		t.Errorf("got %s", got)
	}
	if got := MaxSeverity(nil); got != SeverityLow {
		t.Errorf("got %s", got)
	}
}
