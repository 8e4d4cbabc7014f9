package davxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const davNamespace = "DAV:"

var (
	ErrEmptyBody = errors.New("empty multistatus body")
)

// Parse decodes a PROPFIND multistatus body into entries, in document order.
func Parse(data []byte) ([]*Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	ms := &multistatus{}
	if err := xml.Unmarshal(data, ms); err != nil {
		return nil, fmt.Errorf("decode multistatus failed, err:%w", err)
	}
	rs := make([]*Entry, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		if len(resp.Hrefs) == 0 {
			return nil, fmt.Errorf("response without href")
		}
		ent, err := convertResponse(resp)
		if err != nil {
			return nil, err
		}
		rs = append(rs, ent)
	}
	return rs, nil
}

func convertResponse(resp *response) (*Entry, error) {
	href := strings.TrimSpace(resp.Hrefs[0])
	u, err := url.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("parse href failed, href:%s, err:%w", href, err)
	}
	ent := &Entry{
		Href:  href,
		Path:  u.Path,
		Props: make(map[string]string),
	}
	for _, ps := range resp.Propstats {
		if !isSuccessStatus(ps.Status) {
			continue
		}
		if ps.Prop.ResourceType != nil && ps.Prop.ResourceType.Collection != nil {
			ent.Collection = true
			ent.Props["resourcetype"] = "collection"
		}
		for _, p := range ps.Prop.Others {
			name := p.XMLName.Local
			if _, exist := ent.Props[name]; exist && p.XMLName.Space != davNamespace {
				continue
			}
			ent.Props[name] = strings.TrimSpace(p.Text)
		}
	}
	fillKnownProps(ent)
	return ent, nil
}

func fillKnownProps(ent *Entry) {
	ent.DisplayName = ent.Props["displayname"]
	ent.ContentType = ent.Props["getcontenttype"]
	ent.ETag = ent.Props["getetag"]
	if v, ok := ent.Props["getcontentlength"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			ent.ContentLength = n
		}
	}
	if v, ok := ent.Props["getlastmodified"]; ok {
		if t, err := http.ParseTime(v); err == nil {
			ent.LastModified = t
		}
	}
	if v, ok := ent.Props["creationdate"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			ent.CreationDate = t
		}
	}
}

// isSuccessStatus reads a "HTTP/1.1 200 OK" status line. A missing status
// counts as success.
func isSuccessStatus(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return true
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return false
	}
	return code >= 200 && code < 300
}
