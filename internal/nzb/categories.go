package nzb

// Category is one node of the Newznab taxonomy exposed by caps.
type Category struct {
	ID   int
	Name string
	Subs []Category
}

// Tree is the category taxonomy the indexer actually assigns, in caps order.
func Tree() []Category {
	return []Category{
		{ID: 2000, Name: "Movies", Subs: []Category{
			{ID: 2030, Name: "Movies/SD"},
			{ID: 2040, Name: "Movies/HD"},
			{ID: 2045, Name: "Movies/UHD"},
			{ID: 2050, Name: "Movies/BluRay"},
			{ID: 2060, Name: "Movies/3D"},
		}},
		{ID: 3000, Name: "Audio", Subs: []Category{
			{ID: 3010, Name: "Audio/MP3"},
			{ID: 3030, Name: "Audio/Audiobook"},
			{ID: 3040, Name: "Audio/Lossless"},
		}},
		{ID: 5000, Name: "TV", Subs: []Category{
			{ID: 5030, Name: "TV/SD"},
			{ID: 5040, Name: "TV/HD"},
			{ID: 5045, Name: "TV/UHD"},
			{ID: 5060, Name: "TV/Sport"},
		}},
		{ID: 6000, Name: "XXX", Subs: []Category{
			{ID: 6030, Name: "XXX/XviD"},
			{ID: 6040, Name: "XXX/x264"},
		}},
		{ID: 7000, Name: "Other", Subs: []Category{
			{ID: 7020, Name: "Books/EBook"},
			{ID: 7030, Name: "Books/Comics"},
		}},
	}
}

// CategoryName maps a Newznab id to its display name.
func CategoryName(id int) string {
	for _, top := range Tree() {
		if top.ID == id {
			return top.Name
		}
		for _, sub := range top.Subs {
			if sub.ID == id {
				return sub.Name
			}
		}
	}
	return "Other"
}
