package model

// ModelChoice is one of the pretrained models the backend serves.
type ModelChoice struct {
	ID          string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

const (
	ModelMicro = "micro"
	ModelPhone = "phone"
)

var catalog = []ModelChoice{
	{
		ID:          ModelMicro,
		Label:       "ResNet152V2 (Micro)",
		Description: "Micro dataset model",
	},
	{
		ID:          ModelPhone,
		Label:       "ResNet101V2 (Phone)",
		Description: "Phone dataset model",
	},
}

// Catalog returns the selectable models in display order.
func Catalog() []ModelChoice {
	out := make([]ModelChoice, len(catalog))
	copy(out, catalog)
	return out
}

func DefaultModel() ModelChoice {
	return catalog[0]
}

func LookupModel(id string) (ModelChoice, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelChoice{}, false
}
