package transport

import (
	"fmt"
	"net/http"

	"github.com/xxxsen/davkit/davreq"
)

const (
	BasicAuthName = "basic"
)

func init() {
	register(&basicAuth{})
}

type basicAuth struct {
}

func (b *basicAuth) Name() string {
	return BasicAuthName
}

func (b *basicAuth) Mechanism() davreq.Mechanism {
	return davreq.MechanismBasic
}

func (b *basicAuth) Authorize(req *http.Request, _ *wwwAuthenticate, cred *davreq.ChallengeCredential) error {
	if cred == nil {
		return fmt.Errorf("no credential found")
	}
	req.SetBasicAuth(cred.Username, cred.Password)
	return nil
}
