package parser

import (
	"regexp"
	"strings"
)

// Newznab category ids. The 4-digit taxonomy is offset-based: a refinement
// is the top-level id plus a small constant, so configured base overrides
// keep their refinements.
const (
	CatMovies = 2000
	CatAudio  = 3000
	CatTV     = 5000
	CatXXX    = 6000
	CatOther  = 7000
	CatBooks  = 7000 // books live in the 7000-8000 partition range

	offsetMovieSD     = 30
	offsetMovieHD     = 40
	offsetMovieUHD    = 45
	offsetMovieBluRay = 50
	offsetMovie3D     = 60
	offsetAudioMP3    = 10
	offsetAudioBook   = 30
	offsetAudioLossless = 40
	offsetTVSD        = 30
	offsetTVHD        = 40
	offsetTVUHD       = 45
	offsetTVSport     = 60
	offsetXXXXviD     = 30
	offsetXXXx264     = 40
	offsetBookEBook   = 20
	offsetBookComics  = 30
)

var (
	reTVEpisode = regexp.MustCompile(`(?i)\bs\d{1,2}e\d{1,3}\b`)
	reUHD       = regexp.MustCompile(`(?i)\b(2160p|uhd|4k)\b`)
	reHD        = regexp.MustCompile(`(?i)\b(1080p|720p|hdrip|webrip|web-dl)\b`)
	reSD        = regexp.MustCompile(`(?i)\b(xvid|dvdrip|cam|dvdscr)\b`)
	re3D        = regexp.MustCompile(`(?i)\b3d\b`)
	reMP3AAC    = regexp.MustCompile(`(?i)\b(mp3|aac)\b`)
	reEbookFmt  = regexp.MustCompile(`(?i)\b(epub|mobi|pdf)\b`)
	reComicFmt  = regexp.MustCompile(`(?i)\b(cbz|cbr|comic)\b`)
)

// groupCategoryHints maps newsgroup-name keywords to a top-level category.
// First hit wins; order matters for groups like alt.binaries.movies.divx.
var groupCategoryHints = []struct {
	keyword string
	cat     int
}{
	{"erotica", CatXXX},
	{"xxx", CatXXX},
	{"comics", CatBooks + offsetBookComics},
	{"e-book", CatBooks},
	{"ebook", CatBooks},
	{"audiobook", CatAudio + offsetAudioBook},
	{"sounds", CatAudio},
	{"music", CatAudio},
	{"mp3", CatAudio},
	{"flac", CatAudio + offsetAudioLossless},
	{"teevee", CatTV},
	{"hdtv", CatTV},
	{".tv", CatTV},
	{"series", CatTV},
	{"movies", CatMovies},
	{"moovee", CatMovies},
	{"divx", CatMovies},
}

// tagCategoryMap resolves tags that name a category outright.
var tagCategoryMap = map[string]int{
	"movies":    CatMovies,
	"movie":     CatMovies,
	"tv":        CatTV,
	"audio":     CatAudio,
	"music":     CatAudio, // music aliases audio (3000)
	"audiobook": CatAudio + offsetAudioBook,
	"xxx":       CatXXX,
	"ebook":     CatBooks + offsetBookEBook,
	"comics":    CatBooks + offsetBookComics,
}

var xxxSiteKeywords = []string{"brazzers", "onlyfans", "naughtyamerica", "bangbros", "realitykings"}

// Inferencer maps (subject, tags, group) to a Newznab category id. It is a
// total function: anything unrecognized lands in 7000.
type Inferencer struct {
	movies int
	tv     int
	audio  int
	books  int
	adult  int
}

// NewInferencer applies the configured top-level id overrides.
func NewInferencer(movies, tv, audio, books, adult int) *Inferencer {
	i := &Inferencer{movies: movies, tv: tv, audio: audio, books: books, adult: adult}
	if i.movies == 0 {
		i.movies = CatMovies
	}
	if i.tv == 0 {
		i.tv = CatTV
	}
	if i.audio == 0 {
		i.audio = CatAudio
	}
	if i.books == 0 {
		i.books = CatBooks
	}
	if i.adult == 0 {
		i.adult = CatXXX
	}
	return i
}

// Infer resolves in order: group-name hints, explicit category tags, keyword
// heuristics, then the 7000 fallback. Group hints set the neighborhood;
// subject keywords refine within it.
func (i *Inferencer) Infer(subject string, tags []string, group string) int {
	base := i.groupHint(group)

	for _, tag := range tags {
		if cat, ok := tagCategoryMap[tag]; ok {
			if refined := i.refine(subject, tags, i.rebase(cat)); refined != 0 {
				return refined
			}
			return i.rebase(cat)
		}
	}

	if refined := i.refine(subject, tags, base); refined != 0 {
		return refined
	}
	if base != 0 {
		return base
	}
	return CatOther
}

func (i *Inferencer) groupHint(group string) int {
	g := strings.ToLower(group)
	for _, hint := range groupCategoryHints {
		if strings.Contains(g, hint.keyword) {
			return i.rebase(hint.cat)
		}
	}
	return 0
}

// rebase swaps the standard top-level id for the configured one, preserving
// the refinement offset.
func (i *Inferencer) rebase(cat int) int {
	top := cat / 1000 * 1000
	offset := cat - top
	switch top {
	case CatMovies:
		return i.movies + offset
	case CatTV:
		return i.tv + offset
	case CatAudio:
		return i.audio + offset
	case CatXXX:
		return i.adult + offset
	case CatBooks:
		if offset != 0 {
			return i.books + offset
		}
		return i.books
	}
	return cat
}

// refine applies the subject keyword heuristics. Returns 0 when nothing in
// the subject narrows the category down.
func (i *Inferencer) refine(subject string, tags []string, base int) int {
	text := strings.ToLower(subject + " " + strings.Join(tags, " "))

	// sNNeNN trumps everything: it is TV no matter the group.
	if reTVEpisode.MatchString(text) {
		switch {
		case strings.Contains(text, "sport"):
			return i.tv + offsetTVSport
		case reUHD.MatchString(text):
			return i.tv + offsetTVUHD
		case reHD.MatchString(text):
			return i.tv + offsetTVHD
		case reSD.MatchString(text):
			return i.tv + offsetTVSD
		}
		return i.tv
	}

	switch i.top(base) {
	case i.tv:
		switch {
		case strings.Contains(text, "sport"):
			return i.tv + offsetTVSport
		case reUHD.MatchString(text):
			return i.tv + offsetTVUHD
		case reHD.MatchString(text):
			return i.tv + offsetTVHD
		case reSD.MatchString(text):
			return i.tv + offsetTVSD
		}
	case i.adult:
		switch {
		case strings.Contains(text, "xvid"):
			return i.adult + offsetXXXXviD
		case strings.Contains(text, "x264") || reHD.MatchString(text):
			return i.adult + offsetXXXx264
		}
	}

	// Movie source keywords. BluRay beats the resolution refinements, which
	// is why "1080p bluray" lands in 2050 and not 2040.
	if i.top(base) == i.movies || base == 0 {
		switch {
		case strings.Contains(text, "bluray") || strings.Contains(text, "blu-ray"):
			return i.movies + offsetMovieBluRay
		case re3D.MatchString(text):
			return i.movies + offsetMovie3D
		case reUHD.MatchString(text) && base != 0:
			return i.movies + offsetMovieUHD
		case reHD.MatchString(text) && base != 0:
			return i.movies + offsetMovieHD
		case reSD.MatchString(text) && base != 0:
			return i.movies + offsetMovieSD
		}
	}

	// Audio formats.
	switch {
	case strings.Contains(text, "flac"):
		return i.audio + offsetAudioLossless
	case strings.Contains(text, "audiobook"):
		return i.audio + offsetAudioBook
	case reMP3AAC.MatchString(text):
		return i.audio + offsetAudioMP3
	}

	// Book formats.
	switch {
	case reEbookFmt.MatchString(text):
		return i.books + offsetBookEBook
	case reComicFmt.MatchString(text):
		return i.books + offsetBookComics
	}

	// Studio/network keywords push into xxx.
	for _, kw := range xxxSiteKeywords {
		if strings.Contains(text, kw) {
			if strings.Contains(text, "x264") || reHD.MatchString(text) {
				return i.adult + offsetXXXx264
			}
			return i.adult
		}
	}

	return 0
}

func (i *Inferencer) top(cat int) int {
	return cat / 1000 * 1000
}
