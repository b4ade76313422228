// Package nzb renders and validates NZB documents from stored segment
// metadata.
package nzb

import "encoding/xml"

const xmlns = "http://www.newzbin.com/DTD/2003/nzb"

type Model struct {
	XMLName xml.Name `xml:"nzb"`
	Xmlns   string   `xml:"xmlns,attr"`
	Files   []File   `xml:"file"`
}

type File struct {
	Subject  string    `xml:"subject,attr"`
	Poster   string    `xml:"poster,attr,omitempty"`
	Groups   []string  `xml:"groups>group"`
	Segments []Segment `xml:"segments>segment"`
}

type Segment struct {
	XMLName   xml.Name `xml:"segment"`
	Bytes     int64    `xml:"bytes,attr"`
	Number    int      `xml:"number,attr"`
	MessageID string   `xml:",chardata"`
}
