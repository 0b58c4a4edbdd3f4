// Package catalog defines the equipment catalog domain: manufacturers, models,
// manual references, the collaborators that reach the upstream site, and the
// paginating Fetcher that lists them.
package catalog

import "strings"

// Manufacturer is one catalog brand.
type Manufacturer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	URI        string `json:"uri"`
	ModelCount int    `json:"modelCount"`
}

// Model is a single piece of equipment scoped to a manufacturer.
type Model struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url,omitempty"`
	Manuals     []ManualReference `json:"manuals,omitempty"`
}

// ManualReference points at a manual PDF for a model.
type ManualReference struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

// ModelList is the deduplicated result of paging through a manufacturer's models.
// Partial is set when paging stopped before a short page proved the list complete.
type ModelList struct {
	Models   []Model `json:"models"`
	Partial  bool    `json:"partial"`
	Requests int     `json:"requests"`
}

// Manual type codes used in upstream filenames.
const (
	ManualServiceParts      = "spm"
	ManualInstallOperations = "iom"
	ManualParts             = "pm"
	ManualWiring            = "wd"
	ManualService           = "sm"
)

// ManualTypes lists the known manual suffixes in resolution priority order.
var ManualTypes = []string{
	ManualServiceParts,
	ManualService,
	ManualParts,
	ManualInstallOperations,
	ManualWiring,
}

var manualTitles = map[string]string{
	ManualServiceParts:      "Service & Parts Manual",
	ManualInstallOperations: "Installation & Operation Manual",
	ManualParts:             "Parts Manual",
	ManualWiring:            "Wiring Diagrams",
	ManualService:           "Service Manual",
}

// ManualTitle returns the display title for a manual type code.
func ManualTitle(manualType string) string {
	if title, ok := manualTitles[strings.ToLower(manualType)]; ok {
		return title
	}
	if manualType == "" {
		return "Manual"
	}
	return strings.ToUpper(manualType) + " Manual"
}

// ManualPriority orders manual types; lower sorts first. Unknown types sort last.
func ManualPriority(manualType string) int {
	for i, t := range ManualTypes {
		if strings.EqualFold(t, manualType) {
			return i
		}
	}
	return len(ManualTypes)
}
