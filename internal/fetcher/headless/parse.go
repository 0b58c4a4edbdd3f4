package headless

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/equipment-manuals/internal/catalog"
)

type rawManufacturer struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	URI         string `json:"uri"`
	ModelCount  int    `json:"modelCount"`
	ModelsCount int    `json:"modelsCount"`
}

type rawModel struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	ModelCode   string `json:"modelCode"`
	Name        string `json:"name"`
	ModelName   string `json:"modelName"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// jsonPayload extracts the JSON document Chrome shows as the page text.
func jsonPayload(body string) ([]byte, error) {
	body = strings.TrimSpace(body)
	i := strings.IndexAny(body, "[{")
	if i < 0 {
		return nil, errNoJSON
	}
	return []byte(body[i:]), nil
}

func parseManufacturers(body string) ([]catalog.Manufacturer, error) {
	payload, err := jsonPayload(body)
	if err != nil {
		return nil, err
	}
	var raw []rawManufacturer
	if err := decodeList(payload, "manufacturers", &raw); err != nil {
		return nil, err
	}
	out := make([]catalog.Manufacturer, 0, len(raw))
	for _, r := range raw {
		uri := firstNonEmpty(r.URI, catalog.Slugify(r.Name))
		if uri == "" {
			continue
		}
		out = append(out, catalog.Manufacturer{
			ID:         firstNonEmpty(r.URI, r.Code, uri),
			Name:       strings.TrimSpace(r.Name),
			URI:        uri,
			ModelCount: max(r.ModelCount, r.ModelsCount),
		})
	}
	return out, nil
}

func parseModels(body, manufacturerURI string) ([]catalog.Model, error) {
	payload, err := jsonPayload(body)
	if err != nil {
		return nil, err
	}
	var raw []rawModel
	if err := decodeList(payload, "models", &raw); err != nil {
		return nil, err
	}
	out := make([]catalog.Model, 0, len(raw))
	for _, r := range raw {
		code := firstNonEmpty(r.Code, r.ModelCode, r.ID)
		name := firstNonEmpty(r.Name, r.ModelName, code)
		if name == "" {
			continue
		}
		link := r.URL
		if link == "" && code != "" {
			link = fmt.Sprintf("/%s/%s/parts", manufacturerURI, code)
		}
		out = append(out, catalog.Model{
			ID:          code,
			Name:        strings.TrimSpace(name),
			Description: strings.TrimSpace(r.Description),
			URL:         link,
		})
	}
	return out, nil
}

// decodeList accepts either a bare array or an object wrapping it under key.
func decodeList[T any](payload []byte, key string, out *[]T) error {
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	inner, ok := wrapped[key]
	if !ok {
		return fmt.Errorf("decode %s: missing %q field", key, key)
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

var manualSelectors = []string{
	`#mdptabmanuals a[href*="/modelManual/"]`,
	`a[href*="/modelManual/"]`,
	`a[href$=".pdf"]`,
}

// parseManuals returns the manual links on a model page in document order.
// URLs are left as found; the resolver canonicalizes them.
func parseManuals(html string) ([]catalog.ManualReference, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse manuals page: %w", err)
	}
	seen := make(map[string]struct{})
	var out []catalog.ManualReference
	for _, sel := range manualSelectors {
		doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			href = strings.TrimSpace(href)
			if !ok || href == "" {
				return
			}
			if _, dup := seen[href]; dup {
				return
			}
			seen[href] = struct{}{}
			out = append(out, catalog.ManualReference{
				Title:  strings.Join(strings.Fields(a.Text()), " "),
				URL:    href,
				Format: "pdf",
			})
		})
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
