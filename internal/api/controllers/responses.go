package controllers

import "encoding/xml"

// ErrorBody is the JSON error envelope returned by every failure path.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- capabilities (t=caps) ---

type NewznabCaps struct {
	XMLName    xml.Name      `xml:"caps"`
	Server     ServerInfo    `xml:"server"`
	Limits     Limits        `xml:"limits"`
	Retention  Retention     `xml:"retention"`
	Searching  Searching     `xml:"searching"`
	Categories []CapCategory `xml:"categories>category"`
}

type ServerInfo struct {
	Version string `xml:"version,attr"`
	Title   string `xml:"title,attr"`
}

type Limits struct {
	Max     int `xml:"max,attr"`
	Default int `xml:"default,attr"`
}

type Retention struct {
	Days int `xml:"days,attr"`
}

type Searching struct {
	Search      SearchCap `xml:"search"`
	TVSearch    SearchCap `xml:"tv-search"`
	MovieSearch SearchCap `xml:"movie-search"`
	AudioSearch SearchCap `xml:"audio-search"`
	BookSearch  SearchCap `xml:"book-search"`
}

type SearchCap struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

type CapCategory struct {
	ID      int         `xml:"id,attr"`
	Name    string      `xml:"name,attr"`
	SubCats []CapSubCat `xml:"subcat"`
}

type CapSubCat struct {
	ID   int    `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// --- search results (t=search/tvsearch/movie/music/book) ---

type NewznabRSS struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	NS      string   `xml:"xmlns:newznab,attr"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link"`
	Response    Response  `xml:"newznab:response"`
	Items       []RSSItem `xml:"item"`
}

type RSSItem struct {
	Title      string    `xml:"title"`
	GUID       RSSGUID   `xml:"guid"`
	Link       string    `xml:"link"`
	Category   string    `xml:"category"`
	PubDate    string    `xml:"pubDate,omitempty"`
	Enclosure  Enclosure `xml:"enclosure"`
	Attributes []Attr    `xml:"newznab:attr"`
}

type RSSGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type Response struct {
	Offset int   `xml:"offset,attr"`
	Total  int64 `xml:"total,attr"`
}
