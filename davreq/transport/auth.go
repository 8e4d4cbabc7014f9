package transport

import (
	"net/http"
	"sort"
	"strings"

	"github.com/xxxsen/davkit/davreq"
)

// IAuthorizer signs a request for one WWW-Authenticate scheme.
type IAuthorizer interface {
	Name() string
	Mechanism() davreq.Mechanism
	Authorize(req *http.Request, ch *wwwAuthenticate, cred *davreq.ChallengeCredential) error
}

var mp = make(map[string]IAuthorizer)

func register(a IAuthorizer) {
	mp[strings.ToLower(a.Name())] = a
}

func findAuthorizer(scheme string) (IAuthorizer, bool) {
	a, ok := mp[strings.ToLower(scheme)]
	return a, ok
}

func AuthorizerList() []string {
	rs := make([]string, 0, len(mp))
	for name := range mp {
		rs = append(rs, name)
	}
	sort.Strings(rs)
	return rs
}

// wwwAuthenticate is one parsed challenge of a WWW-Authenticate header.
type wwwAuthenticate struct {
	Scheme string
	Params map[string]string
}

func (w *wwwAuthenticate) realm() string {
	return w.Params["realm"]
}

// parseWWWAuthenticate reads every header value as one challenge:
// `Scheme k1=v1, k2="v 2"`.
func parseWWWAuthenticate(values []string) []*wwwAuthenticate {
	rs := make([]*wwwAuthenticate, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) == 0 {
			continue
		}
		scheme, rest, _ := strings.Cut(v, " ")
		rs = append(rs, &wwwAuthenticate{
			Scheme: scheme,
			Params: parseAuthParams(rest),
		})
	}
	return rs
}

func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " ,\t")
		if len(s) == 0 {
			return params
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return params
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")
		var val string
		if strings.HasPrefix(s, `"`) {
			val, s = readQuoted(s[1:])
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			val, s = strings.TrimSpace(s[:end]), s[end:]
		}
		params[key] = val
	}
}

func readQuoted(s string) (string, string) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				i++
				sb.WriteByte(s[i])
			}
		case '"':
			return sb.String(), s[i+1:]
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String(), ""
}

// pickChallenge prefers the strongest registered scheme. When nothing is
// supported the first offered challenge is returned with ok=false.
func pickChallenge(chs []*wwwAuthenticate) (*wwwAuthenticate, IAuthorizer, bool) {
	var best *wwwAuthenticate
	var bestAuth IAuthorizer
	for _, ch := range chs {
		a, ok := findAuthorizer(ch.Scheme)
		if !ok {
			continue
		}
		if bestAuth == nil || a.Mechanism() == davreq.MechanismDigest {
			best, bestAuth = ch, a
		}
	}
	if bestAuth != nil {
		return best, bestAuth, true
	}
	if len(chs) == 0 {
		return nil, nil, false
	}
	return chs[0], nil, false
}
