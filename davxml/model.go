package davxml

import "encoding/xml"

// wire structs of a DAV multistatus response, decoded namespace aware

type multistatus struct {
	XMLName   xml.Name    `xml:"DAV: multistatus"`
	Responses []*response `xml:"DAV: response"`
}

type response struct {
	Hrefs     []string    `xml:"DAV: href"`
	Propstats []*propstat `xml:"DAV: propstat"`
	Status    string      `xml:"DAV: status"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ResourceType *resourceType `xml:"DAV: resourcetype"`
	Others       []rawProp     `xml:",any"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

type rawProp struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}
