package entity

import "strconv"

// Citation is a source excerpt attached to an assistant message. At most one of
// URL, Page or Chapter is expected to be populated.
type Citation struct {
	Excerpt string `json:"excerpt" yaml:"excerpt"`
	Source  string `json:"source" yaml:"source"`
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Page    *int   `json:"page,omitempty" yaml:"page,omitempty"`
	Chapter string `json:"chapter,omitempty" yaml:"chapter,omitempty"`
}

// Locator returns whichever locator is populated, or "".
func (c Citation) Locator() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Page != nil:
		return "p. " + strconv.Itoa(*c.Page)
	case c.Chapter != "":
		return c.Chapter
	}
	return ""
}

func cloneCitations(in []Citation) []Citation {
	if in == nil {
		return nil
	}
	out := make([]Citation, len(in))
	for i, c := range in {
		out[i] = c
		if c.Page != nil {
			p := *c.Page
			out[i].Page = &p
		}
	}
	return out
}
