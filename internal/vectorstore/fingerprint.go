package vectorstore

import "github.com/google/uuid"

// fingerprintNamespace is a fixed, arbitrary namespace UUID used to derive
// deterministic vector IDs — the spec's "uuid_v5(namespace, uri#Ln)"
// (§3 Indexed unit, §4.4 Identity). uuid.NewSHA1 against a fixed namespace
// implements the RFC 4122 v5 construction (SHA-1-based, deterministic).
var fingerprintNamespace = uuid.MustParse("6f1f6b2a-6e5a-4c2a-9a1e-6cd3a6f9f5b1")

// Fingerprint computes the deterministic vector-store ID for (uri, layer).
// Repeated calls with the same inputs yield byte-identical IDs (§8 Vector
// ID determinism); distinct (uri, layer) pairs never collide under
// SHA-class hashing.
func Fingerprint(uri string, layer Layer) string {
	name := uri + "#" + layer.String()
	return uuid.NewSHA1(fingerprintNamespace, []byte(name)).String()
}
