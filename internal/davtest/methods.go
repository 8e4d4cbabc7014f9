package davtest

import "net/http"

var AllowMethods = []string{
	http.MethodOptions,
	http.MethodGet,
	http.MethodPut,
	http.MethodDelete,
	http.MethodHead,
	"PROPPATCH",
	"PROPFIND",
	"COPY",
	"MOVE",
	"MKCOL",
	"LOCK",
	"UNLOCK",
}
