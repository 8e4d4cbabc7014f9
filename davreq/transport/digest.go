package transport

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/xxxsen/davkit/davreq"
)

const (
	DigestAuthName = "digest"
)

func init() {
	register(&digestAuth{})
}

// digestAuth implements RFC 2617 / RFC 7616 with qop=auth or no qop.
type digestAuth struct {
}

func (d *digestAuth) Name() string {
	return DigestAuthName
}

func (d *digestAuth) Mechanism() davreq.Mechanism {
	return davreq.MechanismDigest
}

func (d *digestAuth) hasher(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "MD5":
		return md5.New, nil
	case "SHA-256":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm:%s", algorithm)
	}
}

func (d *digestAuth) Authorize(req *http.Request, ch *wwwAuthenticate, cred *davreq.ChallengeCredential) error {
	if cred == nil {
		return fmt.Errorf("no credential found")
	}
	nonce, ok := ch.Params["nonce"]
	if !ok {
		return fmt.Errorf("digest challenge without nonce")
	}
	newHash, err := d.hasher(ch.Params["algorithm"])
	if err != nil {
		return err
	}
	sum := func(parts ...string) string {
		h := newHash()
		_, _ = h.Write([]byte(strings.Join(parts, ":")))
		return hex.EncodeToString(h.Sum(nil))
	}
	realm := ch.realm()
	uri := req.URL.RequestURI()
	ha1 := sum(cred.Username, realm, cred.Password)
	ha2 := sum(req.Method, uri)

	fields := []string{
		fmt.Sprintf(`username="%s"`, cred.Username),
		fmt.Sprintf(`realm="%s"`, realm),
		fmt.Sprintf(`nonce="%s"`, nonce),
		fmt.Sprintf(`uri="%s"`, uri),
	}
	if d.supportAuthQop(ch.Params["qop"]) {
		nc := "00000001"
		cnonce := strings.ReplaceAll(uuid.NewString(), "-", "")
		fields = append(fields,
			fmt.Sprintf(`response="%s"`, sum(ha1, nonce, nc, cnonce, "auth", ha2)),
			"qop=auth",
			"nc="+nc,
			fmt.Sprintf(`cnonce="%s"`, cnonce),
		)
	} else {
		fields = append(fields, fmt.Sprintf(`response="%s"`, sum(ha1, nonce, ha2)))
	}
	if alg, ok := ch.Params["algorithm"]; ok {
		fields = append(fields, "algorithm="+alg)
	}
	if opaque, ok := ch.Params["opaque"]; ok {
		fields = append(fields, fmt.Sprintf(`opaque="%s"`, opaque))
	}
	req.Header.Set("Authorization", "Digest "+strings.Join(fields, ", "))
	return nil
}

func (d *digestAuth) supportAuthQop(qop string) bool {
	for _, item := range strings.Split(qop, ",") {
		if strings.TrimSpace(item) == "auth" {
			return true
		}
	}
	return false
}
